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

// Package framesync propagates a leader's frame counter to followers
// and keeps each follower's render cadence close to the target frame
// rate. The follower's rate limiter mirrors the clamped, EWMA-smoothed
// correction shape of package pll, generalized here to a sleep-or-carry
// decision instead of a phase/frequency pair.
package framesync

import (
	log "github.com/sirupsen/logrus"
)

const (
	adjustmentClampMS = 5.0
	adjustmentPrior    = 0.9
	adjustmentNewScale = 0.1 * 0.1 // 0.1 * Δ, then blended at weight 0.1
	largeJumpThreshold = 10
)

// State is the frame-sync controller's inspectable state.
type State struct {
	SyncedFrameNumber int64
	TargetFPS         float32
	AdjustmentMS      float32
	IsMaster          bool
	Synchronized      bool
}

// Controller drives frame counter propagation on a leader and tracks
// convergence on a follower. It is owned exclusively by the protocol
// task; no method is safe for concurrent use.
type Controller struct {
	state      State
	forceLock  bool
	lastTickNS int64
	haveTick   bool
}

// New returns a Controller in the given role. isMaster selects the
// leader/follower tick behavior; target_fps is the nominal cadence
// followers compare their inter-tick interval against.
func New(isMaster bool, targetFPS float32) *Controller {
	return &Controller{
		state: State{
			TargetFPS:    targetFPS,
			IsMaster:     isMaster,
			Synchronized: isMaster, // leader is always considered synchronized
		},
	}
}

// State returns a snapshot of the controller's current state.
func (c *Controller) State() State { return c.state }

// SetForceLock implements the force_frame_lock setting: while set, a
// follower clamps adjustment to 0 and jumps directly to any received
// frame number, skipping the rate limiter entirely.
func (c *Controller) SetForceLock(force bool) { c.forceLock = force }

// SetTargetFPS updates the nominal target frame rate.
func (c *Controller) SetTargetFPS(fps float32) { c.state.TargetFPS = fps }

// SetLeader switches the controller between leader and follower
// behavior, e.g. on an election outcome. A node newly promoted to
// leader resumes ticking from its last synced frame number and is
// immediately considered synchronized; a node demoted to follower
// waits for the next FrameSync before it is synchronized again.
func (c *Controller) SetLeader(isMaster bool) {
	c.state.IsMaster = isMaster
	c.state.Synchronized = isMaster
	c.haveTick = false
}

// LeaderTick advances the leader's frame counter on a tick from the
// external scheduler and returns the frame number to broadcast.
func (c *Controller) LeaderTick() int64 {
	if !c.state.IsMaster {
		return c.state.SyncedFrameNumber
	}
	c.state.SyncedFrameNumber++
	return c.state.SyncedFrameNumber
}

// FollowerTick recomputes adjustment_ms from the observed inter-tick
// interval against 1000/target_fps, clamped to ±5ms and rate-limited.
// It returns the sleep duration (ms) to apply before the next render;
// a negative adjustment is accepted and carried forward with no sleep.
func (c *Controller) FollowerTick(nowNS int64) float32 {
	if c.state.IsMaster {
		return 0
	}
	if !c.haveTick {
		c.lastTickNS = nowNS
		c.haveTick = true
		return 0
	}
	intervalMS := float64(nowNS-c.lastTickNS) / 1e6
	c.lastTickNS = nowNS

	if c.forceLock {
		c.state.AdjustmentMS = 0
		return 0
	}

	targetIntervalMS := 1000.0 / float64(c.state.TargetFPS)
	delta := intervalMS - targetIntervalMS

	newAdj := adjustmentPrior*float64(c.state.AdjustmentMS) + adjustmentNewScale*delta
	if newAdj > adjustmentClampMS {
		newAdj = adjustmentClampMS
	}
	if newAdj < -adjustmentClampMS {
		newAdj = -adjustmentClampMS
	}
	c.state.AdjustmentMS = float32(newAdj)

	if newAdj > 0 {
		sleep := newAdj
		if sleep > adjustmentClampMS {
			sleep = adjustmentClampMS
		}
		return float32(sleep)
	}
	return 0
}

// OnFrameSync processes a FrameSync(frameNumber) receipt on a follower.
// A frame number no greater than the current one is ignored: the
// counter is non-decreasing on followers. Jumps larger than 10 frames
// are honored but logged as a warning.
func (c *Controller) OnFrameSync(frameNumber int64) {
	if c.state.IsMaster {
		return
	}
	if frameNumber <= c.state.SyncedFrameNumber {
		return
	}
	jump := frameNumber - c.state.SyncedFrameNumber
	if c.forceLock {
		c.state.SyncedFrameNumber = frameNumber
		c.state.Synchronized = true
		return
	}
	if jump > largeJumpThreshold {
		log.Warnf("framesync: large frame jump %d -> %d (+%d)", c.state.SyncedFrameNumber, frameNumber, jump)
	}
	c.state.SyncedFrameNumber = frameNumber
	c.state.Synchronized = true
}
