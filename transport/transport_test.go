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

package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quadrosync/engine/wire"
)

func openPair(t *testing.T) (*Transport, *Transport) {
	t.Helper()
	cfgA := Config{BroadcastPort: 17001, UnicastPort: 17010, BroadcastAddr: "127.255.255.255", QueueSize: 8}
	cfgB := Config{BroadcastPort: 17002, UnicastPort: 17011, BroadcastAddr: "127.255.255.255", QueueSize: 8}
	a, err := Open(cfgA)
	require.NoError(t, err)
	b, err := Open(cfgB)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestSendToDeliversUnicastDatagram(t *testing.T) {
	a, b := openPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)

	var pid wire.ProjectID
	raw, err := wire.Serialize(wire.Header{Type: wire.Discovery, ProjectID: pid, Version: wire.Version}, []byte("host-a"), nil)
	require.NoError(t, err)

	dest := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 17011}
	require.NoError(t, a.SendTo(raw, dest))

	select {
	case in := <-b.Inbound():
		require.Equal(t, wire.Discovery, in.Message.Header.Type)
		require.Equal(t, "host-a", string(in.Message.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound datagram")
	}
}

func TestIsProtocolCriticalClassifiesMessageTypes(t *testing.T) {
	require.True(t, isProtocolCritical(wire.TimeSync))
	require.True(t, isProtocolCritical(wire.MasterElection))
	require.False(t, isProtocolCritical(wire.Data))
	require.False(t, isProtocolCritical(wire.PingRequest))
}

func TestDispatchDropsOldestNonCriticalOnOverflow(t *testing.T) {
	tr := &Transport{inbound: make(chan Inbound, 2)}
	mk := func(typ wire.MessageType) Inbound {
		return Inbound{Message: wire.Message{Header: wire.Header{Type: typ}}}
	}
	tr.dispatch(mk(wire.Data))
	tr.dispatch(mk(wire.Command))
	tr.dispatch(mk(wire.Custom)) // queue full, drops oldest (Data)

	first := <-tr.inbound
	second := <-tr.inbound
	require.Equal(t, wire.Command, first.Message.Header.Type)
	require.Equal(t, wire.Custom, second.Message.Header.Type)
}
