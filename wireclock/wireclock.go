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

// Package wireclock is the one clock source every other quadrosync
// component reads through. It never adjusts the system clock (compare
// facebook/time's clock package, which issues clock_adjtime(2) against a
// PHC); it only hands out monotonic and wall-clock microsecond readings,
// because frame sync and PTP offsets are corrected entirely in software
// via the pll package.
package wireclock

import "time"

// Source is the narrow capability every consumer of time needs.
type Source interface {
	// NowMicro returns microseconds on a monotonic clock, suitable for
	// measuring intervals (Δt between PLL samples, tick cadence, ...).
	NowMicro() int64
	// WallMicro returns microseconds since the Unix epoch, suitable for
	// PTP timestamps that must be comparable across peers.
	WallMicro() int64
}

// System is the Source backed by the Go runtime clock.
type System struct {
	epoch time.Time
}

// NewSystem returns a Source anchored at the instant it's created; NowMicro
// readings are only meaningful relative to each other.
func NewSystem() *System {
	return &System{epoch: time.Now()}
}

// NowMicro implements Source.
func (s *System) NowMicro() int64 {
	return time.Since(s.epoch).Microseconds()
}

// WallMicro implements Source.
func (s *System) WallMicro() int64 {
	return time.Now().UnixMicro()
}

// Fake is a Source with a manually advanced clock, for deterministic tests
// of the PTP engine, PLL and frame sync controller.
type Fake struct {
	mono int64
	wall int64
}

// NewFake returns a Fake starting both clocks at the given microsecond values.
func NewFake(mono, wall int64) *Fake {
	return &Fake{mono: mono, wall: wall}
}

// NowMicro implements Source.
func (f *Fake) NowMicro() int64 { return f.mono }

// WallMicro implements Source.
func (f *Fake) WallMicro() int64 { return f.wall }

// Advance moves both clocks forward by delta microseconds.
func (f *Fake) Advance(delta int64) {
	f.mono += delta
	f.wall += delta
}

// Set forces both clocks to arbitrary values, useful for injecting a
// simulated peer offset in tests.
func (f *Fake) Set(mono, wall int64) {
	f.mono = mono
	f.wall = wall
}
