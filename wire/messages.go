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
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// PTPSubHeader is the fixed 34-byte sub-header carried by Sync and
// Delay_Req style payloads, modeled on the PTP event message header.
type PTPSubHeader struct {
	MsgType      uint8
	PTPVersion   uint8
	MsgLen       uint16
	Domain       uint8
	Reserved1    uint8
	Flags        uint16
	Correction   int64
	Reserved2    uint32
	SourcePortID [10]byte
	Sequence     uint16
	Control      uint8
	LogInterval  int8
}

// OriginTimestamp is a PTP-style {seconds, nanos} wire timestamp.
type OriginTimestamp struct {
	Seconds uint32
	Nanos   uint32
}

// SyncPayload / DelayReqPayload carry T1/T3 origin timestamps.
type SyncPayload struct {
	Sub    PTPSubHeader
	Origin OriginTimestamp
}

// DelayReqPayload is identical in shape to SyncPayload.
type DelayReqPayload = SyncPayload

// FollowUpPayload carries the precise T1; DelayRespPayload adds T4 and
// the requesting port id.
type FollowUpPayload struct {
	Sub    PTPSubHeader
	Origin OriginTimestamp
}

// DelayRespPayload carries T4 and the requesting peer's port id.
type DelayRespPayload struct {
	Sub              PTPSubHeader
	Origin           OriginTimestamp
	RequestingPortID [10]byte
}

// FrameSyncPayload carries the master's current frame number.
type FrameSyncPayload struct {
	FrameNumber int64
}

// PingPayload is shared by PingRequest/PingResponse.
type PingPayload struct {
	Type     uint8
	SendTS   uint64
	Sequence uint32
}

// MasterAnnouncementPayload advertises a leader's term and priority.
// Identity is a fixed 32-byte UTF-8 field, padded with trailing zero bytes.
type MasterAnnouncementPayload struct {
	Identity [32]byte
	Priority float32
	Term     int32
}

// MasterVotePayload carries a single ballot for a term: the candidate
// being voted for, that candidate's priority (needed for the tie-break
// on the receiving end), the voter casting the ballot, and the term.
type MasterVotePayload struct {
	Candidate         [32]byte
	CandidatePriority float32
	Voter             [32]byte
	Term              int32
}

func encodeIdentity(id string) [32]byte {
	var out [32]byte
	copy(out[:], id)
	return out
}

func decodeIdentity(b [32]byte) string {
	n := bytes.IndexByte(b[:], 0)
	if n < 0 {
		n = len(b)
	}
	return string(b[:n])
}

// EncodeIdentity exposes the fixed-width identity encoding used by
// MasterAnnouncement/MasterVote payloads.
func EncodeIdentity(id string) [32]byte { return encodeIdentity(id) }

// DecodeIdentity is the inverse of EncodeIdentity.
func DecodeIdentity(b [32]byte) string { return decodeIdentity(b) }

// EncodeUTF16 renders s as little-endian UTF-16 code units, the on-wire
// encoding used for Discovery/DiscoveryResponse payloads.
func EncodeUTF16(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[i*2:], u)
	}
	return out
}

// DecodeUTF16 is the inverse of EncodeUTF16.
func DecodeUTF16(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", fmt.Errorf("wire: odd-length utf16 payload")
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(units)), nil
}

// EncodeStruct writes a fixed-layout struct big-endian into bytes.
func EncodeStruct(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.BigEndian, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeStruct reads a fixed-layout struct big-endian from bytes.
func DecodeStruct(b []byte, v any) error {
	return binary.Read(bytes.NewReader(b), binary.BigEndian, v)
}
