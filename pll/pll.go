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

// Package pll implements the software phase-locked loop that turns noisy
// PTP offset samples into a smoothly adjusted logical clock: an EWMA
// pre-filter feeding a clamped PI controller, the same two-stage shape as
// a classic PI servo, but tuned with fixed constants rather than a
// runtime-scaled gain schedule.
package pll

import (
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/quadrosync/engine/wireclock"
)

// Gain bounds.
const (
	MinPGain = 0.001
	MaxPGain = 5.0
	MinIGain = 0.0001
	MaxIGain = 1.0
	MinWeight = 0.001
	MaxWeight = 0.999
)

const (
	integratedErrorClamp = 0.1
	minFreqAdjustment    = 0.9
	maxFreqAdjustment    = 1.1
	offsetScale          = 1e-7
	phaseOldWeight       = 0.9
	phaseNewWeight       = 0.1
	minSampleInterval    = time_1ms
	maxSampleInterval    = time_5s
	lockStreakRequired   = 10
	defaultLockThreshold = 1000.0 // microseconds (1 ms)
)

// durations expressed in seconds to avoid importing "time" just for two
// constants used in a float comparison against Δt.
const (
	time_1ms = 0.001
	time_5s  = 5.0
)

// Config holds the user-tunable PLL parameters, clamped on Set.
type Config struct {
	PGain         float64
	IGain         float64
	FilterWeight  float64
	LockThreshold float64 // microseconds
}

// Clamp returns cfg with every field forced into its valid range.
func (cfg Config) Clamp() Config {
	cfg.PGain = clamp(cfg.PGain, MinPGain, MaxPGain)
	cfg.IGain = clamp(cfg.IGain, MinIGain, MaxIGain)
	cfg.FilterWeight = clamp(cfg.FilterWeight, MinWeight, MaxWeight)
	if cfg.LockThreshold <= 0 {
		cfg.LockThreshold = defaultLockThreshold
	}
	return cfg
}

// DefaultConfig returns moderate gains and a 1ms lock threshold.
func DefaultConfig() Config {
	return Config{
		PGain:         0.01,
		IGain:         0.001,
		FilterWeight:  0.3,
		LockThreshold: defaultLockThreshold,
	}.Clamp()
}

// State is the PLL's full, inspectable state.
type State struct {
	FilteredOffset      float64
	IntegratedError      float64
	FrequencyAdjustment float64
	PhaseAdjustment     float64 // microseconds
	StabilityCounter    int
	Locked              bool
}

// PLL is a software phase-locked loop. It is not safe for concurrent use;
// the protocol task owns it exclusively.
type PLL struct {
	cfg   Config
	state State

	clock      wireclock.Source
	lastUpdate int64 // microseconds, 0 means "no sample yet"
	hasSample  bool
}

// New returns a PLL at its zero state (unlocked, no correction applied).
func New(cfg Config, clock wireclock.Source) *PLL {
	p := &PLL{cfg: cfg.Clamp(), clock: clock}
	p.state.FrequencyAdjustment = 1.0
	return p
}

// SetConfig re-clamps and swaps the gain/filter configuration in place;
// accumulated integrator/lock state is preserved.
func (p *PLL) SetConfig(cfg Config) {
	p.cfg = cfg.Clamp()
}

// Config returns the active, clamped configuration.
func (p *PLL) Config() Config { return p.cfg }

// State returns a snapshot of the current PLL state.
func (p *PLL) State() State { return p.state }

// Update feeds a single (offsetMicro, timestampMicro) sample through the
// filter and PI controller. Samples with a Δt outside (1ms, 5s] are
// discarded (returns false, prior state unchanged).
func (p *PLL) Update(offsetMicro float64, timestampMicro int64) bool {
	if p.hasSample {
		dtSeconds := float64(timestampMicro-p.lastUpdate) / 1e6
		if dtSeconds <= minSampleInterval || dtSeconds > maxSampleInterval {
			log.Debugf("pll: discarding sample, dt=%.6fs out of range", dtSeconds)
			return false
		}
	}
	p.lastUpdate = timestampMicro
	p.hasSample = true

	// 1. EWMA pre-filter.
	w := p.cfg.FilterWeight
	p.state.FilteredOffset = w*offsetMicro + (1-w)*p.state.FilteredOffset

	// 2. PI controller on the raw offset, scaled by 1e-7.
	pTerm := offsetMicro * p.cfg.PGain * offsetScale
	p.state.IntegratedError = clamp(
		p.state.IntegratedError+offsetMicro*p.cfg.IGain*offsetScale,
		-integratedErrorClamp, integratedErrorClamp,
	)
	freqRaw := 1 - (pTerm + p.state.IntegratedError)
	freqRaw = clamp(freqRaw, minFreqAdjustment, maxFreqAdjustment)
	p.state.FrequencyAdjustment = w*freqRaw + (1-w)*p.state.FrequencyAdjustment
	p.state.FrequencyAdjustment = clamp(p.state.FrequencyAdjustment, minFreqAdjustment, maxFreqAdjustment)

	// 3. Phase: slide 90% old + 10% target, target = -offset.
	targetPhase := -offsetMicro
	p.state.PhaseAdjustment = phaseOldWeight*p.state.PhaseAdjustment + phaseNewWeight*targetPhase

	// 4. Lock logic.
	if math.Abs(offsetMicro) < p.cfg.LockThreshold {
		p.state.StabilityCounter++
		if p.state.StabilityCounter >= lockStreakRequired {
			p.state.Locked = true
		}
	} else {
		p.state.StabilityCounter = 0
		p.state.Locked = false
	}
	return true
}

// AdjustedTimeMicro returns the clock source's current reading corrected
// by the PLL's phase adjustment. FrequencyAdjustment is exposed via State
// for downstream consumers but is never applied here — rate slewing (if
// any) is the reader's responsibility.
func (p *PLL) AdjustedTimeMicro() int64 {
	return p.clock.NowMicro() + int64(p.state.PhaseAdjustment)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
