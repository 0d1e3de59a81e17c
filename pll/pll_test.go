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

package pll

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quadrosync/engine/wireclock"
)

func newTestPLL() *PLL {
	clk := wireclock.NewFake(0, 0)
	return New(DefaultConfig(), clk)
}

func TestLockAfterTenZeroOffsetSamples(t *testing.T) {
	p := newTestPLL()
	ts := int64(0)
	for i := 0; i < 10; i++ {
		ts += 10_000 // 10ms apart
		ok := p.Update(0, ts)
		require.True(t, ok)
	}
	require.True(t, p.State().Locked)
	require.Equal(t, 10, p.State().StabilityCounter)
}

func TestUnlockOnSingleLargeOffset(t *testing.T) {
	p := newTestPLL()
	ts := int64(0)
	for i := 0; i < 10; i++ {
		ts += 10_000
		p.Update(0, ts)
	}
	require.True(t, p.State().Locked)

	ts += 10_000
	p.Update(2000, ts) // 2ms offset, above 1ms lock threshold
	require.False(t, p.State().Locked)
	require.Equal(t, 0, p.State().StabilityCounter)
}

func TestSampleDiscardedOutsideDtRange(t *testing.T) {
	p := newTestPLL()
	require.True(t, p.Update(0, 10_000))
	// Δt = 0.5ms, below the 1ms floor.
	ok := p.Update(0, 10_500)
	require.False(t, ok)
	// Δt = 6s, above the 5s ceiling.
	ok = p.Update(0, 10_500+6_000_000)
	require.False(t, ok)
}

func TestFrequencyAdjustmentNeverLeavesClampedRange(t *testing.T) {
	p := newTestPLL()
	ts := int64(0)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 5000; i++ {
		ts += 10_000
		offset := (r.Float64() - 0.5) * 2_000_000 // +/- 1s worth of noise
		p.Update(offset, ts)
		fa := p.State().FrequencyAdjustment
		require.GreaterOrEqual(t, fa, minFreqAdjustment)
		require.LessOrEqual(t, fa, maxFreqAdjustment)
	}
}

func TestIntegratedErrorAlwaysBounded(t *testing.T) {
	p := newTestPLL()
	ts := int64(0)
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 5000; i++ {
		ts += 10_000
		offset := (r.Float64() - 0.5) * 10_000_000
		p.Update(offset, ts)
		require.LessOrEqual(t, math.Abs(p.State().IntegratedError), integratedErrorClamp)
	}
}

func TestGainsClampedOnConfig(t *testing.T) {
	cfg := Config{PGain: 100, IGain: 100, FilterWeight: 5, LockThreshold: -1}.Clamp()
	require.Equal(t, MaxPGain, cfg.PGain)
	require.Equal(t, MaxIGain, cfg.IGain)
	require.Equal(t, MaxWeight, cfg.FilterWeight)
	require.Equal(t, defaultLockThreshold, cfg.LockThreshold)
}

func TestAdjustedTimeAppliesPhase(t *testing.T) {
	clk := wireclock.NewFake(1_000_000, 1_000_000)
	p := New(DefaultConfig(), clk)
	p.Update(-500, 1) // negative offset -> positive phase nudge
	adjusted := p.AdjustedTimeMicro()
	require.NotEqual(t, clk.NowMicro(), adjusted)
}
