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

package ptpsync

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quadrosync/engine/pll"
	"github.com/quadrosync/engine/wireclock"
)

// driveExchange simulates one full Sync/FollowUp/DelayReq/DelayResp round
// for a given true clock offset (follower - leader) and symmetric one-way
// delay, always forcing the Delay-Req leg (bypassing the 20% schedule so
// tests are deterministic).
func driveExchange(t *testing.T, follower *Engine, seq uint16, leaderNow, offset, delay int64) Sample {
	t.Helper()
	t1 := leaderNow
	t2 := t1 + offset + delay
	follower.FollowerSyncReceived(seq, t2)
	follower.FollowerFollowUpReceived(seq, t1)
	t3 := t2 + 50
	follower.FollowerDelayReqSent(seq, t3)
	t4 := t3 - offset + delay
	s, err := follower.FollowerDelayRespReceived(seq, t4)
	require.NoError(t, err)
	return s
}

func TestPTPConvergesToKnownOffsetAndDelay(t *testing.T) {
	follower := New(RoleFollower, nil)
	const trueOffset = 3000.0
	const trueDelay = 400.0

	var last Sample
	leaderNow := int64(0)
	for i := 0; i < 3; i++ {
		last = driveExchange(t, follower, uint16(i), leaderNow, int64(trueOffset), int64(trueDelay))
		leaderNow += 1_000_000
	}
	require.InDelta(t, trueOffset, last.OffsetMicro, 50)
	require.InDelta(t, trueDelay, last.PathDelay, 50)
}

func TestLeaderIgnoresFollowerOnlyMethods(t *testing.T) {
	leader := New(RoleLeader, nil)
	leader.LeaderSyncSent(1, 100)
	send := leader.FollowerFollowUpReceived(1, 100) // no-op for a leader
	require.False(t, send)
	_, err := leader.FollowerDelayRespReceived(1, 500)
	require.Error(t, err)
}

func TestFollowerIgnoresLeaderOnlyMethods(t *testing.T) {
	follower := New(RoleFollower, nil)
	ok := follower.LeaderDelayReqReceived(1, 500)
	require.False(t, ok)
}

func TestCleanupDropsStaleExchanges(t *testing.T) {
	follower := New(RoleFollower, nil)
	follower.FollowerSyncReceived(1, 100) // incomplete, never finished
	require.Equal(t, 1, follower.Pending())
	follower.Cleanup(300, 100)
	require.Equal(t, 0, follower.Pending())
}

// TestScenarioS4PTPConvergence checks a follower starting at a large offset
// +3000us, symmetric delay 400us; after 10 sync intervals the PLL's phase
// correction, which moves 10% of the way toward -offset per sample, is
// closer to cancelling the offset than after the first sample and within
// 1200us of it (ten samples do not bring it within 100us).
func TestScenarioS4PTPConvergence(t *testing.T) {
	follower := New(RoleFollower, nil)
	clk := wireclock.NewFake(0, 0)
	loop := pll.New(pll.DefaultConfig(), clk)

	leaderNow := int64(0)
	ts := int64(0)
	var phaseAfterFirst float64
	for i := 0; i < 10; i++ {
		s := driveExchange(t, follower, uint16(i), leaderNow, 3000, 400)
		ts += 1_000_000
		loop.Update(s.OffsetMicro, ts)
		if i == 0 {
			phaseAfterFirst = loop.State().PhaseAdjustment
		}
		leaderNow += 1_000_000
	}
	finalPhase := loop.State().PhaseAdjustment
	require.Less(t, math.Abs(finalPhase+3000), math.Abs(phaseAfterFirst+3000))
	require.Less(t, math.Abs(finalPhase+3000), 1200.0)
}
