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

package facade

import (
	"time"

	"github.com/quadrosync/engine/peer"
	"github.com/quadrosync/engine/settings"
	"github.com/quadrosync/engine/telemetry"
)

// Tick drives the frame-sync controller from an external scheduler, per
// render frame, independent of the protocol task's own periodic tick.
// Safe to call from a different goroutine than Initialize/Shutdown.
func (f *Facade) Tick(dt time.Duration) float32 {
	now := f.nowMono()
	if f.election.IsLeader() {
		return 0
	}
	return f.frame.FollowerTick(now * 1000)
}

// SetMasterMode implements set_master_mode: true forces this node to
// leader immediately; false only clears the force flag: a node that is
// leading stays leader at its current term.
func (f *Facade) SetMasterMode(forced bool) {
	f.election.SetForceMaster(forced)
	if forced {
		f.onPromoted()
	}
}

// IsMaster reports whether this node currently believes itself leader.
func (f *Facade) IsMaster() bool { return f.election.IsLeader() }

// DiscoverServers broadcasts a Discovery, prompting peers to respond.
func (f *Facade) DiscoverServers() {
	f.broadcastDiscovery()
}

// GetDiscoveredServers returns a snapshot of every peer currently known.
func (f *Facade) GetDiscoveredServers() []peer.Record {
	return f.peers.All()
}

// GetSyncedTimeMicro returns the PLL-adjusted local clock reading.
func (f *Facade) GetSyncedTimeMicro() int64 {
	return f.loop.AdjustedTimeMicro()
}

// GetEstimatedErrorMicro returns the PLL's current phase adjustment
// magnitude as a proxy for estimated synchronization error.
func (f *Facade) GetEstimatedErrorMicro() float64 {
	adj := f.loop.State().PhaseAdjustment
	if adj < 0 {
		return -adj
	}
	return adj
}

// IsSynchronized reports whether the PLL has locked onto the leader's
// clock.
func (f *Facade) IsSynchronized() bool {
	return f.loop.State().Locked
}

// GetSyncedFrameNumber returns the frame-sync controller's current
// frame counter.
func (f *Facade) GetSyncedFrameNumber() int64 {
	return f.frame.State().SyncedFrameNumber
}

// SetTargetFPS updates the nominal frame-sync cadence.
func (f *Facade) SetTargetFPS(fps float32) {
	f.frame.SetTargetFPS(fps)
}

// GetSettings returns the active replicated settings.
func (f *Facade) GetSettings() settings.GlobalSettings {
	return f.settings.Current()
}

// UpdateSettings applies a local mutation: validated, versioned, and
// (if this node is leader) broadcast to peers immediately rather than
// waiting for the next periodic SettingsSync.
func (f *Facade) UpdateSettings(next settings.GlobalSettings) error {
	if err := f.settings.ApplyLocal(next, f.nowWall()/1000); err != nil {
		return err
	}
	if f.cfg.SettingsPath != "" {
		if err := settings.Save(f.cfg.SettingsPath, f.settings.Current()); err != nil {
			return err
		}
	}
	if f.election.IsLeader() {
		f.broadcastSettings()
	}
	return nil
}

// StartLatencyMeasurement begins tracking RTT/jitter/loss for endpoint.
// interval and count are accepted for interface parity with the
// described CLI surface and are not used; cadence is governed by
// telemetry's adaptive algorithm, which starts at its minimum interval.
func (f *Facade) StartLatencyMeasurement(endpoint string, interval time.Duration, count int) {
	_ = count
	f.telemetry.StartMeasurement(endpoint)
}

// StopLatencyMeasurement stops tracking endpoint.
func (f *Facade) StopLatencyMeasurement(endpoint string) {
	f.telemetry.StopMeasurement(endpoint)
}

// GetLatencyStats returns the current latency snapshot for endpoint.
func (f *Facade) GetLatencyStats(endpoint string) (telemetry.Stats, bool) {
	return f.telemetry.Get(endpoint)
}

// EvaluateNetworkQuality scores endpoint's current network quality.
// stability comes from the host sampler wired in at construction.
func (f *Facade) EvaluateNetworkQuality(endpoint string) (telemetry.Quality, bool) {
	return f.telemetry.Evaluate(endpoint, f.stability.Sample())
}
