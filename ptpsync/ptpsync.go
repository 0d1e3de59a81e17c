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

// Package ptpsync implements the two-step, IEEE-1588-inspired exchange
// (Sync/Follow-Up/Delay-Req/Delay-Resp) that computes clock offset and
// path delay between a leader and its followers, grounded on the four-
// timestamp model in facebook/time's sptp/client/measurements.go.
package ptpsync

import (
	"fmt"
	"math/rand"

	log "github.com/sirupsen/logrus"
)

// pathDelayPriorWeight and pathDelayNewWeight smooth successive
// path-delay observations: 70% prior, 30% new.
const (
	pathDelayPriorWeight = 0.7
	pathDelayNewWeight   = 0.3
	// delayReqProbability keeps delay requests infrequent: each sync
	// interval, a follower flips this weighted coin before sending one.
	delayReqProbability = 0.20
)

var errIncompleteExchange = fmt.Errorf("ptpsync: incomplete exchange")

// exchange tracks the four timestamps for one sync sequence number.
type exchange struct {
	seq        uint16
	t1, t2     int64 // microseconds; master send, follower receive
	t3, t4     int64 // follower delay-req send, master delay-req receive
	haveT1     bool
	haveT2     bool
	haveT3     bool
	haveT4     bool
}

func (e *exchange) complete() bool {
	return e.haveT1 && e.haveT2 && e.haveT3 && e.haveT4
}

// Sample is one offset/delay observation emitted to the PLL.
type Sample struct {
	Sequence      uint16
	OffsetMicro   float64
	PathDelay     float64
	EstimatedErr  float64
	TimestampMicro int64
}

// Role distinguishes leader-side from follower-side processing; each side
// ignores the other's messages.
type Role uint8

// Roles a PTP engine instance can run in.
const (
	RoleFollower Role = iota
	RoleLeader
)

// Engine runs one side of the PTP exchange. It is owned exclusively by
// the protocol task; no method is safe for concurrent use.
type Engine struct {
	role Role
	rng  *rand.Rand

	prevPathDelay float64
	havePathDelay bool

	pending map[uint16]*exchange
}

// New returns a PTP engine for the given role.
func New(role Role, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Engine{role: role, rng: rng, pending: map[uint16]*exchange{}}
}

// SetRole switches the engine between leader and follower behavior, e.g.
// on an election outcome.
func (e *Engine) SetRole(role Role) { e.role = role }

func (e *Engine) entry(seq uint16) *exchange {
	ex, ok := e.pending[seq]
	if !ok {
		ex = &exchange{seq: seq}
		e.pending[seq] = ex
	}
	return ex
}

// LeaderSyncSent records T1 at Sync emission (leader side).
func (e *Engine) LeaderSyncSent(seq uint16, t1Micro int64) {
	if e.role != RoleLeader {
		return
	}
	ex := e.entry(seq)
	ex.t1, ex.haveT1 = t1Micro, true
}

// LeaderDelayReqReceived records T4 on Delay-Req receipt (leader side) and
// reports whether a Delay-Resp should now be sent.
func (e *Engine) LeaderDelayReqReceived(seq uint16, t4Micro int64) bool {
	if e.role != RoleLeader {
		return false
	}
	ex := e.entry(seq)
	ex.t4, ex.haveT4 = t4Micro, true
	return ex.haveT1
}

// FollowerSyncReceived records T2 on Sync receipt (follower side).
func (e *Engine) FollowerSyncReceived(seq uint16, t2Micro int64) {
	if e.role != RoleFollower {
		return
	}
	ex := e.entry(seq)
	ex.t2, ex.haveT2 = t2Micro, true
}

// FollowerFollowUpReceived records the precise T1 carried by Follow-Up
// (follower side) and reports whether a Delay-Req should be sent, per the
// probabilistic delay-request schedule.
func (e *Engine) FollowerFollowUpReceived(seq uint16, t1Micro int64) bool {
	if e.role != RoleFollower {
		return false
	}
	ex := e.entry(seq)
	ex.t1, ex.haveT1 = t1Micro, true
	return e.rng.Float64() < delayReqProbability
}

// FollowerDelayReqSent records T3 at Delay-Req emission (follower side).
func (e *Engine) FollowerDelayReqSent(seq uint16, t3Micro int64) {
	if e.role != RoleFollower {
		return
	}
	ex := e.entry(seq)
	ex.t3, ex.haveT3 = t3Micro, true
}

// FollowerDelayRespReceived records T4 from Delay-Resp (follower side),
// computes offset/path-delay once the exchange is complete, and returns
// the resulting Sample. Leaders ignore Delay-Resp.
func (e *Engine) FollowerDelayRespReceived(seq uint16, t4Micro int64) (Sample, error) {
	if e.role != RoleFollower {
		return Sample{}, errIncompleteExchange
	}
	ex := e.entry(seq)
	ex.t4, ex.haveT4 = t4Micro, true
	if !ex.complete() {
		return Sample{}, errIncompleteExchange
	}
	delete(e.pending, seq)

	// path_delay = (T4-T1) + (T2-T3)
	newPathDelay := float64((ex.t4 - ex.t1) + (ex.t2 - ex.t3))
	pathDelay := newPathDelay
	if e.havePathDelay {
		pathDelay = pathDelayPriorWeight*e.prevPathDelay + pathDelayNewWeight*newPathDelay
	}
	e.prevPathDelay = pathDelay
	e.havePathDelay = true

	offset := float64(ex.t2-ex.t1) - pathDelay/2
	estErr := (newPathDelay - pathDelay)
	if estErr < 0 {
		estErr = -estErr
	}
	estErr /= 2

	log.Debugf("ptpsync: seq=%d offset=%.1fus delay=%.1fus err=%.1fus", seq, offset, pathDelay, estErr)
	return Sample{
		Sequence:       seq,
		OffsetMicro:    offset,
		PathDelay:      pathDelay,
		EstimatedErr:   estErr,
		TimestampMicro: ex.t2,
	}, nil
}

// Cleanup drops pending exchanges older than maxAgeSeq sequence numbers
// behind the given current sequence, guarding against a follower that
// never completes a Delay-Req round trip. Comparison wraps mod 2^16.
func (e *Engine) Cleanup(currentSeq uint16, maxAgeSeq uint16) {
	for seq := range e.pending {
		if currentSeq-seq > maxAgeSeq {
			delete(e.pending, seq)
		}
	}
}

// Pending reports how many exchanges are in flight, for diagnostics.
func (e *Engine) Pending() int { return len(e.pending) }
