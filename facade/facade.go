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

// Package facade wires every quadrosync component into one lifecycle:
// initialize, a periodic tick, and shutdown, the way cmd/sptp's doWork
// wires client.NewSPTP plus its stats server and sysstats goroutine into
// one daemon. Unlike sptp's flat goroutine set, facade supervises its
// receiver and protocol tasks with an errgroup so the first failure
// cancels every other task cleanly.
package facade

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/quadrosync/engine/election"
	"github.com/quadrosync/engine/framesync"
	"github.com/quadrosync/engine/peer"
	"github.com/quadrosync/engine/pll"
	"github.com/quadrosync/engine/ptpsync"
	"github.com/quadrosync/engine/settings"
	"github.com/quadrosync/engine/telemetry"
	"github.com/quadrosync/engine/transport"
	"github.com/quadrosync/engine/wire"
	"github.com/quadrosync/engine/wireclock"
)

const (
	masterTimeoutMicro       = 5_000_000
	electionTimeoutMicro     = 3_000_000
	masterAnnounceMicro      = 2_000_000
	peerSweepMicro           = 1_000_000
	discoveryIntervalMicro   = 2_000_000
	ptpSyncIntervalMicro     = 1_000_000
	settingsBroadcastMicro   = 5_000_000
	peerLivenessTimeoutMicro = 10_000_000
)

// Config aggregates the per-node identity and network parameters the
// façade needs at initialize time.
type Config struct {
	Hostname     string
	ProjectID    wire.ProjectID
	Transport    transport.Config
	Initial      settings.GlobalSettings
	SettingsPath string // optional; empty disables persistence
}

// Facade owns every subsystem and drives them through one lifecycle.
// Exported methods are the embedding/CLI surface; none are safe for
// concurrent use except where noted, matching the single-protocol-task
// ownership model each subsystem package documents.
type Facade struct {
	cfg Config

	mu sync.Mutex

	clock     wireclock.Source
	transport *transport.Transport
	peers     *peer.Registry
	election  *election.Machine
	ptp       *ptpsync.Engine
	loop      *pll.PLL
	frame     *framesync.Controller
	settings  *settings.Store
	telemetry *telemetry.Telemetry
	stability *stabilitySampler

	self       string
	sendSeq    uint16
	eg         *errgroup.Group
	cancel     context.CancelFunc
	running    bool

	lastAnnounceMono          int64
	lastDiscoveryMono         int64
	lastSweepMono             int64
	lastPTPSyncMono           int64
	lastSettingsBroadcastMono int64
	lastPingMono              map[string]int64
	ptpSendSeq                uint16
	pingSendSeq               uint16
}

// pinger adapts Facade's transport to telemetry.Pinger.
type pinger struct{ f *Facade }

func (p pinger) SendPing(peerIdentity string, seq uint32, sendTSMicro uint64) error {
	rec, ok := p.f.peers.Get(peerIdentity)
	if !ok {
		return fmt.Errorf("facade: unknown peer %s", peerIdentity)
	}
	payload := wire.PingPayload{Type: uint8(wire.PingRequest), SendTS: sendTSMicro, Sequence: seq}
	body, err := wire.EncodeStruct(payload)
	if err != nil {
		return err
	}
	raw, err := p.f.serialize(wire.PingRequest, body)
	if err != nil {
		return err
	}
	return p.f.transport.SendTo(raw, &net.UDPAddr{IP: net.ParseIP(rec.IP), Port: rec.Port})
}

// New builds a Facade in the clock → peer → election → ptp → pll →
// frame sync → settings → telemetry order; the transport is opened by
// Initialize, and nothing is started yet.
func New(cfg Config) *Facade {
	self := peer.Identity(cfg.ProjectID, cfg.Hostname)
	f := &Facade{
		cfg:   cfg,
		clock: wireclock.NewSystem(),
		self:  self,
	}
	f.peers = peer.New(self)
	f.election = election.New(election.Candidate{Identity: self, Priority: cfg.Initial.MasterPriority}, cfg.Initial.CanBeMaster)
	f.election.SetForceMaster(cfg.Initial.ForceMaster)
	f.ptp = ptpsync.New(ptpsync.RoleFollower, rand.New(rand.NewSource(time.Now().UnixNano())))
	f.loop = pll.New(pll.Config{PGain: cfg.Initial.PGain, IGain: cfg.Initial.IGain, FilterWeight: cfg.Initial.FilterWeight}.Clamp(), f.clock)
	f.frame = framesync.New(false, cfg.Initial.TargetFPS)
	f.frame.SetForceLock(cfg.Initial.ForceFrameLock)

	initial := cfg.Initial
	if cfg.SettingsPath != "" {
		if persisted, err := settings.Load(cfg.SettingsPath); err == nil {
			initial = persisted
		}
	}
	f.settings = settings.NewStore(self, initial)
	f.telemetry = telemetry.New(telemetry.DefaultConfig(), pinger{f: f})
	f.stability = newStabilitySampler()
	return f
}

// Initialize opens the transport sockets and starts the receiver and
// protocol tasks, supervised by an errgroup: the first task error
// cancels the shared context and propagates from Shutdown/Wait.
func (f *Facade) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil
	}

	tr, err := transport.Open(f.cfg.Transport)
	if err != nil {
		return fmt.Errorf("facade: opening transport: %w", err)
	}
	f.transport = tr

	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	eg, egCtx := errgroup.WithContext(runCtx)
	f.eg = eg

	eg.Go(func() error {
		return f.transport.Run(egCtx)
	})
	eg.Go(func() error {
		return f.protocolLoop(egCtx)
	})

	f.running = true
	log.Infof("facade: initialized as %s", f.self)
	return nil
}

// Shutdown cancels the running tasks and waits for them to drain. It is
// idempotent and safe to call on a Facade that was never initialized.
func (f *Facade) Shutdown() error {
	f.mu.Lock()
	running := f.running
	cancel := f.cancel
	eg := f.eg
	tr := f.transport
	f.running = false
	f.mu.Unlock()

	if !running {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	if tr != nil {
		tr.Close()
	}
	if eg != nil {
		if err := eg.Wait(); err != nil && runCtxErr(err) {
			return err
		}
	}
	return nil
}

// runCtxErr filters out the expected context.Canceled error a clean
// shutdown produces from transport.Run/protocolLoop.
func runCtxErr(err error) bool {
	return err != nil && err != context.Canceled
}

// protocolLoop is the single protocol task: it consumes inbound
// datagrams and runs the periodic tick (timeouts, announcements,
// discovery, sweeps) at roughly 50Hz, owning every subsystem's mutable
// state exclusively.
func (f *Facade) protocolLoop(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-f.transport.Inbound():
			if !ok {
				return nil
			}
			f.handleInbound(in)
		case <-ticker.C:
			f.onPeriodicTick()
		}
	}
}

func (f *Facade) nowMono() int64 { return f.clock.NowMicro() }

// nowWall returns wall-clock microseconds: the PTP exchange's T1..T4
// timestamps must be comparable across peers, so they never use the
// monotonic clock NowMicro exposes (which is anchored per-process).
func (f *Facade) nowWall() int64 { return f.clock.WallMicro() }

func (f *Facade) serialize(t wire.MessageType, payload []byte) ([]byte, error) {
	f.sendSeq = wire.NextSequence(f.sendSeq)
	h := wire.Header{Type: t, Sequence: f.sendSeq, ProjectID: f.cfg.ProjectID, Version: wire.Version}
	return wire.Serialize(h, payload, nil)
}
