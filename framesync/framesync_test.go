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

package framesync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeaderAlwaysSynchronized(t *testing.T) {
	c := New(true, 60)
	require.True(t, c.State().Synchronized)
}

func TestLeaderTickIncrementsMonotonically(t *testing.T) {
	c := New(true, 60)
	require.Equal(t, int64(1), c.LeaderTick())
	require.Equal(t, int64(2), c.LeaderTick())
	require.Equal(t, int64(3), c.LeaderTick())
}

func TestFollowerUnsynchronizedUntilFirstFrameSync(t *testing.T) {
	c := New(false, 60)
	require.False(t, c.State().Synchronized)
	c.OnFrameSync(1)
	require.True(t, c.State().Synchronized)
}

func TestFollowerFrameNumberNonDecreasing(t *testing.T) {
	c := New(false, 60)
	c.OnFrameSync(100)
	c.OnFrameSync(50) // stale, ignored
	require.Equal(t, int64(100), c.State().SyncedFrameNumber)
}

// TestScenarioS5FrameJump checks that a follower at frame 100 receiving
// FrameSync(250) jumps to 250 with no regression.
func TestScenarioS5FrameJump(t *testing.T) {
	c := New(false, 60)
	c.OnFrameSync(100)
	c.OnFrameSync(250)
	require.Equal(t, int64(250), c.State().SyncedFrameNumber)
}

func TestFollowerAdjustmentClampedToFiveMS(t *testing.T) {
	c := New(false, 60)
	c.FollowerTick(0)
	// Simulate a huge inter-tick gap: interval far exceeds 1000/60ms.
	sleep := c.FollowerTick(500_000_000) // 500ms later
	require.LessOrEqual(t, sleep, float32(adjustmentClampMS))
	require.LessOrEqual(t, c.State().AdjustmentMS, float32(adjustmentClampMS))
	require.GreaterOrEqual(t, c.State().AdjustmentMS, float32(-adjustmentClampMS))
}

func TestFollowerNegativeAdjustmentCarriesForwardWithNoSleep(t *testing.T) {
	c := New(false, 60)
	c.FollowerTick(0)
	// Interval shorter than target: negative delta.
	sleep := c.FollowerTick(1_000_000) // 1ms later, much faster than 16.6ms target
	require.Equal(t, float32(0), sleep)
	require.Less(t, c.State().AdjustmentMS, float32(0))
}

func TestForceLockClampsAdjustmentAndJumpsDirectly(t *testing.T) {
	c := New(false, 60)
	c.SetForceLock(true)
	c.FollowerTick(0)
	sleep := c.FollowerTick(500_000_000)
	require.Equal(t, float32(0), sleep)
	require.Equal(t, float32(0), c.State().AdjustmentMS)

	c.OnFrameSync(100)
	c.OnFrameSync(9999) // large jump, but force-lock skips rate limiting entirely
	require.Equal(t, int64(9999), c.State().SyncedFrameNumber)
}

func TestMasterTickIsNoOpForFollowerMethods(t *testing.T) {
	c := New(true, 60)
	require.Equal(t, float32(0), c.FollowerTick(1))
	c.OnFrameSync(500) // no-op on a leader
	require.Equal(t, int64(0), c.State().SyncedFrameNumber)
}
