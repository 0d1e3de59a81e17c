/*
Copyright (c) Quadrosync Project Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testProjectID() ProjectID {
	var p ProjectID
	for i := range p {
		p[i] = byte(i)
	}
	return p
}

func TestSerializeParseRoundTrip(t *testing.T) {
	for _, typ := range []MessageType{
		Discovery, DiscoveryResponse, TimeSync, FrameSync, Command, Data,
		MasterAnnouncement, MasterQuery, MasterResponse, MasterElection,
		MasterVote, MasterResign, RoleChange, SettingsSync, SettingsRequest,
		SettingsResponse, PingRequest, PingResponse, Custom,
	} {
		h := Header{
			Type:      typ,
			Sequence:  42,
			ProjectID: testProjectID(),
			Version:   Version,
			Flags:     0,
		}
		payload := []byte("payload-for-" + typ.String())
		raw, err := Serialize(h, payload, nil)
		require.NoError(t, err)

		msg, err := Parse(raw)
		require.NoError(t, err)
		require.Equal(t, h.Type, msg.Header.Type)
		require.Equal(t, h.Sequence, msg.Header.Sequence)
		require.Equal(t, h.ProjectID, msg.Header.ProjectID)
		require.Equal(t, h.Version, msg.Header.Version)
		require.Equal(t, payload, msg.Payload)
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	raw, err := Serialize(Header{Type: Discovery, ProjectID: testProjectID()}, nil, nil)
	require.NoError(t, err)
	raw[0] ^= 0xFF
	_, err = Parse(raw)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestParseRejectsBadSize(t *testing.T) {
	raw, err := Serialize(Header{Type: Discovery, ProjectID: testProjectID()}, []byte("x"), nil)
	require.NoError(t, err)
	truncated := raw[:len(raw)-1]
	_, err = Parse(truncated)
	require.ErrorIs(t, err, ErrBadSize)
}

func TestParseRejectsUnknownType(t *testing.T) {
	raw, err := Serialize(Header{Type: Discovery, ProjectID: testProjectID()}, nil, nil)
	require.NoError(t, err)
	raw[4] = 0xFE // type byte immediately follows the 4-byte magic
	_, err = Parse(raw)
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestParseRejectsTruncatedHeader(t *testing.T) {
	_, err := Parse(make([]byte, HeaderSize-1))
	require.ErrorIs(t, err, ErrTruncated)
}

func TestSequenceMonotonicity(t *testing.T) {
	seq := uint16(65534)
	seq = NextSequence(seq)
	require.Equal(t, uint16(65535), seq)
	seq = NextSequence(seq)
	require.Equal(t, uint16(0), seq) // wraps mod 2^16
}

func TestUTF16RoundTrip(t *testing.T) {
	s := "host-01:7000"
	b := EncodeUTF16(s)
	got, err := DecodeUTF16(b)
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestIdentityRoundTrip(t *testing.T) {
	id := "render-host-07"
	b := EncodeIdentity(id)
	require.Equal(t, id, DecodeIdentity(b))
}
