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

// Package transport owns the two UDP sockets a node uses to talk to its
// peers: a broadcast socket for outbound discovery/election/sync
// traffic, and a receive socket that also serves unicast replies. The
// non-blocking receive loop dispatching onto a bounded queue follows
// the worker/task channel shape of responder/server.Server, generalized
// from a fixed-size worker pool into a single demultiplexing consumer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/quadrosync/engine/wire"
)

const (
	recvBufferBytes = 64 * 1024
	pollSleep       = time.Millisecond
	readBufSize     = 2048
)

// Inbound is one received, parsed datagram along with its sender.
type Inbound struct {
	Message wire.Message
	From    *net.UDPAddr
}

// ErrQueueClosed is the error value for a closed Transport; no method of
// Transport returns it.
var ErrQueueClosed = errors.New("transport: closed")

// Config configures the two sockets a Transport opens.
type Config struct {
	BroadcastPort int
	UnicastPort   int
	BroadcastAddr string // e.g. "255.255.255.255"
	QueueSize     int
}

// DefaultConfig matches the default ports of the wire protocol.
func DefaultConfig() Config {
	return Config{
		BroadcastPort: 7001,
		UnicastPort:   7000,
		BroadcastAddr: "255.255.255.255",
		QueueSize:     256,
	}
}

// Transport owns the broadcast and receive sockets and the bounded
// inbound dispatch queue. On overflow, a PTP or election datagram waits
// up to pollSleep for room and is dropped with a warning if the queue is
// still full; any other datagram evicts the oldest queued item, whatever
// its type, to make room.
type Transport struct {
	cfg Config

	broadcastConn *net.UDPConn
	recvConn      *net.UDPConn

	inbound chan Inbound
	closed  chan struct{}
}

// Open binds both sockets and returns a ready Transport.
func Open(cfg Config) (*Transport, error) {
	bcast, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.BroadcastPort})
	if err != nil {
		return nil, fmt.Errorf("transport: opening broadcast socket: %w", err)
	}
	if err := setBroadcastOpts(bcast); err != nil {
		bcast.Close()
		return nil, fmt.Errorf("transport: configuring broadcast socket: %w", err)
	}

	recv, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.UnicastPort})
	if err != nil {
		bcast.Close()
		return nil, fmt.Errorf("transport: opening receive socket: %w", err)
	}
	if err := recv.SetReadBuffer(recvBufferBytes); err != nil {
		log.Warnf("transport: could not set receive buffer size: %v", err)
	}

	t := &Transport{
		cfg:           cfg,
		broadcastConn: bcast,
		recvConn:      recv,
		inbound:       make(chan Inbound, cfg.QueueSize),
		closed:        make(chan struct{}),
	}
	return t, nil
}

// setBroadcastOpts enables SO_BROADCAST and SO_REUSEADDR on conn's
// underlying file descriptor, the same raw-syscall layer clock/clock.go
// uses for PHC ioctls.
func setBroadcastOpts(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); e != nil {
			sockErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			sockErr = e
			return
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Broadcast sends raw to the configured broadcast address and port.
func (t *Transport) Broadcast(raw []byte) error {
	addr := &net.UDPAddr{IP: net.ParseIP(t.cfg.BroadcastAddr), Port: t.cfg.BroadcastPort}
	_, err := t.broadcastConn.WriteToUDP(raw, addr)
	return err
}

// SendTo sends raw as a unicast datagram to the given peer address.
func (t *Transport) SendTo(raw []byte, to *net.UDPAddr) error {
	_, err := t.recvConn.WriteToUDP(raw, to)
	return err
}

// Inbound returns the channel of parsed, dispatched datagrams.
func (t *Transport) Inbound() <-chan Inbound { return t.inbound }

// Run starts the non-blocking receive loop, parsing each datagram and
// pushing it onto the bounded inbound queue until ctx is cancelled. It
// blocks until the loop exits and should be run in its own goroutine,
// typically under an errgroup.
func (t *Transport) Run(ctx context.Context) error {
	defer close(t.inbound)
	buf := make([]byte, readBufSize)
	if err := t.recvConn.SetReadDeadline(time.Now().Add(pollSleep)); err != nil {
		return fmt.Errorf("transport: setting initial read deadline: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, from, err := t.recvConn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(pollSleep)
				if derr := t.recvConn.SetReadDeadline(time.Now().Add(pollSleep)); derr != nil {
					return fmt.Errorf("transport: refreshing read deadline: %w", derr)
				}
				continue
			}
			return fmt.Errorf("transport: reading datagram: %w", err)
		}
		if err := t.recvConn.SetReadDeadline(time.Now().Add(pollSleep)); err != nil {
			return fmt.Errorf("transport: refreshing read deadline: %w", err)
		}

		msg, err := wire.Parse(buf[:n])
		if err != nil {
			log.Debugf("transport: dropping malformed datagram from %s: %v", from, err)
			continue
		}
		t.dispatch(Inbound{Message: msg, From: from})
	}
}

// dispatch pushes item onto the bounded queue. On overflow, the oldest
// queued item (of any type) is evicted to make room, unless item itself
// is a PTP or election message type, in which case it blocks for up to
// pollSleep and is dropped with a warning if no room appears.
func (t *Transport) dispatch(item Inbound) {
	critical := isProtocolCritical(item.Message.Header.Type)
	select {
	case t.inbound <- item:
		return
	default:
	}
	if critical {
		select {
		case t.inbound <- item:
		case <-time.After(pollSleep):
			log.Warnf("transport: dropping protocol-critical message type %s, queue still full", item.Message.Header.Type)
		}
		return
	}
	select {
	case <-t.inbound:
	default:
	}
	select {
	case t.inbound <- item:
	default:
		log.Debugf("transport: dropping message type %s, queue full", item.Message.Header.Type)
	}
}

func isProtocolCritical(t wire.MessageType) bool {
	switch t {
	case wire.TimeSync, wire.MasterAnnouncement, wire.MasterQuery,
		wire.MasterResponse, wire.MasterElection, wire.MasterVote,
		wire.MasterResign, wire.RoleChange:
		return true
	default:
		return false
	}
}

// Close closes both sockets, unblocking Run.
func (t *Transport) Close() error {
	select {
	case <-t.closed:
		return nil
	default:
		close(t.closed)
	}
	err1 := t.broadcastConn.Close()
	err2 := t.recvConn.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
