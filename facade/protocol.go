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
	"net"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/quadrosync/engine/election"
	"github.com/quadrosync/engine/peer"
	"github.com/quadrosync/engine/ptpsync"
	"github.com/quadrosync/engine/settings"
	"github.com/quadrosync/engine/transport"
	"github.com/quadrosync/engine/wire"
)

// handleInbound dispatches one parsed datagram to the owning subsystem.
// Messages from a different project are dropped outright.
func (f *Facade) handleInbound(in transport.Inbound) {
	msg := in.Message
	if msg.Header.ProjectID != f.cfg.ProjectID {
		return
	}

	switch msg.Header.Type {
	case wire.Discovery:
		f.onDiscovery(msg, in.From)
	case wire.DiscoveryResponse:
		f.onDiscoveryResponse(msg, in.From)
	case wire.TimeSync:
		f.onTimeSync(msg, in.From)
	case wire.FrameSync:
		f.onFrameSync(msg)
	case wire.MasterAnnouncement:
		f.onMasterAnnouncement(msg)
	case wire.MasterElection:
		f.onMasterElection(msg)
	case wire.MasterVote:
		f.onMasterVote(msg)
	case wire.MasterResign:
		f.onMasterResign(msg)
	case wire.SettingsSync, wire.SettingsResponse:
		f.onSettingsSync(msg)
	case wire.SettingsRequest:
		f.onSettingsRequest(in.From)
	case wire.PingRequest:
		f.onPingRequest(msg, in.From)
	case wire.PingResponse:
		f.onPingResponse(msg, in.From)
	default:
		log.Debugf("facade: ignoring message type %s", msg.Header.Type)
	}
}

func (f *Facade) onDiscovery(msg wire.Message, from *net.UDPAddr) {
	hostname, err := wire.DecodeUTF16(msg.Payload)
	if err != nil {
		log.Debugf("facade: bad discovery payload: %v", err)
		return
	}
	identity := peer.Identity(msg.Header.ProjectID, hostname)
	if identity == f.self {
		return
	}
	f.peers.Upsert(peer.Record{
		Identity:  identity,
		IP:        from.IP.String(),
		Port:      from.Port,
		ProjectID: msg.Header.ProjectID,
	}, f.nowMono())

	body := wire.EncodeUTF16(f.cfg.Hostname + ":" + strconv.Itoa(f.cfg.Transport.UnicastPort))
	raw, err := f.serialize(wire.DiscoveryResponse, body)
	if err != nil {
		log.Warnf("facade: encoding discovery response: %v", err)
		return
	}
	if err := f.transport.SendTo(raw, from); err != nil {
		log.Warnf("facade: sending discovery response: %v", err)
	}
}

func (f *Facade) onDiscoveryResponse(msg wire.Message, from *net.UDPAddr) {
	s, err := wire.DecodeUTF16(msg.Payload)
	if err != nil {
		return
	}
	hostname, port := splitHostPort(s)
	identity := peer.Identity(msg.Header.ProjectID, hostname)
	if identity == f.self {
		return
	}
	f.peers.Upsert(peer.Record{
		Identity:  identity,
		IP:        from.IP.String(),
		Port:      port,
		ProjectID: msg.Header.ProjectID,
	}, f.nowMono())
}

func (f *Facade) onTimeSync(msg wire.Message, from *net.UDPAddr) {
	if len(msg.Payload) < 34 {
		return
	}
	var sub wire.PTPSubHeader
	if err := wire.DecodeStruct(msg.Payload[:34], &sub); err != nil {
		return
	}
	switch sub.MsgType {
	case 0: // Sync
		f.ptp.FollowerSyncReceived(sub.Sequence, f.nowWall())
	case 1: // Follow-Up, carries precise T1
		var fu wire.FollowUpPayload
		if err := wire.DecodeStruct(msg.Payload, &fu); err != nil {
			return
		}
		t1 := originMicro(fu.Origin)
		if f.ptp.FollowerFollowUpReceived(sub.Sequence, t1) {
			f.sendDelayReq(sub.Sequence, from)
		}
	case 2: // Delay-Req, leader side
		if f.election.IsLeader() {
			t4 := f.nowWall()
			if f.ptp.LeaderDelayReqReceived(sub.Sequence, t4) {
				f.sendDelayResp(sub.Sequence, t4, sub.SourcePortID, from)
			}
		}
	case 3: // Delay-Resp, follower side
		var dr wire.DelayRespPayload
		if err := wire.DecodeStruct(msg.Payload, &dr); err != nil {
			return
		}
		if dr.RequestingPortID != identityPrefix10(f.self) {
			return
		}
		sample, err := f.ptp.FollowerDelayRespReceived(sub.Sequence, originMicro(dr.Origin))
		if err == nil {
			f.loop.Update(sample.OffsetMicro, sample.TimestampMicro)
		}
	}
}

func (f *Facade) sendDelayReq(seq uint16, leader *net.UDPAddr) {
	t3 := f.nowWall()
	f.ptp.FollowerDelayReqSent(seq, t3)
	sub := wire.PTPSubHeader{MsgType: 2, Sequence: seq, SourcePortID: identityPrefix10(f.self)}
	body, err := wire.EncodeStruct(wire.DelayReqPayload{Sub: sub, Origin: toOrigin(t3)})
	if err != nil {
		return
	}
	raw, err := f.serialize(wire.TimeSync, body)
	if err != nil {
		return
	}
	if err := f.transport.SendTo(raw, leader); err != nil {
		log.Debugf("facade: sending delay-req: %v", err)
	}
}

func (f *Facade) sendDelayResp(seq uint16, t4 int64, requester [10]byte, follower *net.UDPAddr) {
	sub := wire.PTPSubHeader{MsgType: 3, Sequence: seq}
	body, err := wire.EncodeStruct(wire.DelayRespPayload{
		Sub:              sub,
		Origin:           toOrigin(t4),
		RequestingPortID: requester,
	})
	if err != nil {
		return
	}
	raw, err := f.serialize(wire.TimeSync, body)
	if err != nil {
		return
	}
	if err := f.transport.SendTo(raw, follower); err != nil {
		log.Debugf("facade: sending delay-resp: %v", err)
	}
}

// identityPrefix10 truncates an identity to the 10-byte port-id field
// PTP-shaped payloads carry; quadrosync identities are 16-hex-digit
// xxhash sums, so only their first 10 characters are carried.
func identityPrefix10(id string) [10]byte {
	var out [10]byte
	copy(out[:], id)
	return out
}

func toOrigin(micro int64) wire.OriginTimestamp {
	return wire.OriginTimestamp{Seconds: uint32(micro / 1_000_000), Nanos: uint32((micro % 1_000_000) * 1000)}
}

func originMicro(o wire.OriginTimestamp) int64 {
	return int64(o.Seconds)*1_000_000 + int64(o.Nanos)/1000
}

func (f *Facade) onFrameSync(msg wire.Message) {
	var p wire.FrameSyncPayload
	if err := wire.DecodeStruct(msg.Payload, &p); err != nil {
		return
	}
	f.frame.OnFrameSync(p.FrameNumber)
}

func (f *Facade) onMasterAnnouncement(msg wire.Message) {
	var p wire.MasterAnnouncementPayload
	if err := wire.DecodeStruct(msg.Payload, &p); err != nil {
		return
	}
	identity := wire.DecodeIdentity(p.Identity)
	f.peers.NoteTerm(identity, p.Term)
	wasLeader := f.election.IsLeader()
	f.election.ObserveAnnouncement(identity, p.Term)
	if f.election.State() == election.StateFollower && f.election.LeaderIdentity() == identity {
		f.lastAnnounceMono = f.nowMono()
	}
	if wasLeader && !f.election.IsLeader() {
		f.onDemoted()
	}
}

func (f *Facade) onMasterElection(msg wire.Message) {
	var p wire.MasterVotePayload
	if err := wire.DecodeStruct(msg.Payload, &p); err != nil {
		return
	}
	if f.election.State() == election.StateFollower {
		f.election.StartElection(p.Term - 1)
		if f.election.State() == election.StateElecting {
			f.broadcastVote()
		}
	}
}

func (f *Facade) onMasterVote(msg wire.Message) {
	var p wire.MasterVotePayload
	if err := wire.DecodeStruct(msg.Payload, &p); err != nil {
		return
	}
	candidate := wire.DecodeIdentity(p.Candidate)
	voter := wire.DecodeIdentity(p.Voter)
	f.election.RecordVote(p.Term, voter, election.Candidate{Identity: candidate, Priority: p.CandidatePriority})
}

func (f *Facade) onMasterResign(msg wire.Message) {
	var p wire.MasterVotePayload
	if err := wire.DecodeStruct(msg.Payload, &p); err != nil {
		return
	}
	wasLeader := f.election.IsLeader()
	f.election.ObserveResign(wire.DecodeIdentity(p.Voter), p.Term)
	if wasLeader && !f.election.IsLeader() {
		f.onDemoted()
	}
}

func (f *Facade) onSettingsSync(msg wire.Message) {
	s, err := settings.Decode(msg.Payload)
	if err != nil {
		log.Debugf("facade: bad settings payload: %v", err)
		return
	}
	if err := f.settings.ApplyRemote(s); err != nil {
		log.Debugf("facade: rejecting remote settings: %v", err)
	}
}

func (f *Facade) onSettingsRequest(from *net.UDPAddr) {
	body, err := settings.Encode(f.settings.Current())
	if err != nil {
		return
	}
	raw, err := f.serialize(wire.SettingsResponse, body)
	if err != nil {
		return
	}
	if err := f.transport.SendTo(raw, from); err != nil {
		log.Debugf("facade: sending settings response: %v", err)
	}
}

func (f *Facade) onPingRequest(msg wire.Message, from *net.UDPAddr) {
	var p wire.PingPayload
	if err := wire.DecodeStruct(msg.Payload, &p); err != nil {
		return
	}
	p.Type = uint8(wire.PingResponse)
	body, err := wire.EncodeStruct(p)
	if err != nil {
		return
	}
	raw, err := f.serialize(wire.PingResponse, body)
	if err != nil {
		return
	}
	if err := f.transport.SendTo(raw, from); err != nil {
		log.Debugf("facade: sending ping response: %v", err)
	}
}

func (f *Facade) onPingResponse(msg wire.Message, from *net.UDPAddr) {
	var p wire.PingPayload
	if err := wire.DecodeStruct(msg.Payload, &p); err != nil {
		return
	}
	rec, ok := f.peers.ByAddress(from.IP.String(), from.Port)
	if !ok {
		return
	}
	now := f.nowMono()
	f.telemetry.OnPingResponse(rec.Identity, p.Sequence, now, p.SendTS, uint64(now))
}

// onDemoted resets the PTP engine and frame-sync controller to follower
// behavior when this node loses leadership.
func (f *Facade) onDemoted() {
	f.ptp.SetRole(ptpsync.RoleFollower)
	f.frame.SetLeader(false)
}

// onPeriodicTick runs the ~50Hz protocol-task duties: election timeouts,
// leader announcements/discovery broadcasts, liveness sweeps, and the
// per-peer ping cadence telemetry drives.
func (f *Facade) onPeriodicTick() {
	now := f.nowMono()

	switch f.election.State() {
	case election.StateFollower:
		if !f.election.IsLeader() && now-f.lastAnnounceMono > masterTimeoutMicro {
			f.election.StartElection(f.highestHeardTerm())
			f.lastAnnounceMono = now
			if f.election.State() == election.StateElecting {
				f.broadcastElectionStart()
				f.broadcastVote()
			}
		}
	case election.StateElecting:
		if now-f.lastAnnounceMono > electionTimeoutMicro {
			f.election.ConcludeElection()
			f.lastAnnounceMono = now
			if f.election.IsLeader() {
				f.onPromoted()
			}
		}
	case election.StateLeader:
		if now-f.lastAnnounceMono > masterAnnounceMicro {
			f.broadcastAnnouncement()
			f.lastAnnounceMono = now
		}
		if now-f.lastSettingsBroadcastMono > settingsBroadcastMicro {
			f.broadcastSettings()
			f.lastSettingsBroadcastMono = now
		}
	}

	if now-f.lastDiscoveryMono > discoveryIntervalMicro {
		f.broadcastDiscovery()
		f.lastDiscoveryMono = now
	}
	if now-f.lastSweepMono > peerSweepMicro {
		f.peers.EvictSilent(now, peerLivenessTimeoutMicro)
		f.telemetry.SweepTimeouts(now)
		f.lastSweepMono = now
	}

	f.tickTelemetry(now)
	f.tickFrameSync(now)
	f.tickPTP(now)
}

// tickPTP emits a Sync/Follow-Up pair on the leader at the configured
// cadence; followers drive their side of the exchange entirely from
// onTimeSync.
func (f *Facade) tickPTP(now int64) {
	if !f.election.IsLeader() {
		return
	}
	if now-f.lastPTPSyncMono < ptpSyncIntervalMicro {
		return
	}
	f.lastPTPSyncMono = now

	f.ptpSendSeq = wire.NextSequence(f.ptpSendSeq)
	seq := f.ptpSendSeq
	t1 := f.nowWall()
	f.ptp.LeaderSyncSent(seq, t1)

	syncBody, err := wire.EncodeStruct(wire.SyncPayload{
		Sub:    wire.PTPSubHeader{MsgType: 0, Sequence: seq},
		Origin: toOrigin(t1),
	})
	if err == nil {
		if raw, err := f.serialize(wire.TimeSync, syncBody); err == nil {
			_ = f.transport.Broadcast(raw)
		}
	}

	fuBody, err := wire.EncodeStruct(wire.FollowUpPayload{
		Sub:    wire.PTPSubHeader{MsgType: 1, Sequence: seq},
		Origin: toOrigin(f.nowWall()),
	})
	if err == nil {
		if raw, err := f.serialize(wire.TimeSync, fuBody); err == nil {
			_ = f.transport.Broadcast(raw)
		}
	}
}

func (f *Facade) broadcastSettings() {
	body, err := settings.Encode(f.settings.Current())
	if err != nil {
		return
	}
	if raw, err := f.serialize(wire.SettingsSync, body); err == nil {
		_ = f.transport.Broadcast(raw)
	}
}

// onPromoted switches ptp/frame-sync to leader behavior when this node
// wins an election.
func (f *Facade) onPromoted() {
	f.ptp.SetRole(ptpsync.RoleLeader)
	f.frame.SetLeader(true)
}

func (f *Facade) highestHeardTerm() int32 {
	var max int32
	for _, rec := range f.peers.All() {
		if rec.ElectionTermHeard > max {
			max = rec.ElectionTermHeard
		}
	}
	return max
}

func (f *Facade) broadcastElectionStart() {
	body, err := wire.EncodeStruct(wire.MasterVotePayload{
		Candidate:         wire.EncodeIdentity(f.self),
		CandidatePriority: f.cfg.Initial.MasterPriority,
		Voter:             wire.EncodeIdentity(f.self),
		Term:              f.election.Term(),
	})
	if err != nil {
		return
	}
	if raw, err := f.serialize(wire.MasterElection, body); err == nil {
		_ = f.transport.Broadcast(raw)
	}
}

func (f *Facade) broadcastVote() {
	vote := f.election.MyVote()
	body, err := wire.EncodeStruct(wire.MasterVotePayload{
		Candidate:         wire.EncodeIdentity(vote.Identity),
		CandidatePriority: vote.Priority,
		Voter:             wire.EncodeIdentity(f.self),
		Term:              f.election.Term(),
	})
	if err != nil {
		return
	}
	if raw, err := f.serialize(wire.MasterVote, body); err == nil {
		_ = f.transport.Broadcast(raw)
	}
}

func (f *Facade) broadcastAnnouncement() {
	body, err := wire.EncodeStruct(wire.MasterAnnouncementPayload{
		Identity: wire.EncodeIdentity(f.self),
		Priority: f.cfg.Initial.MasterPriority,
		Term:     f.election.Term(),
	})
	if err != nil {
		return
	}
	if raw, err := f.serialize(wire.MasterAnnouncement, body); err == nil {
		_ = f.transport.Broadcast(raw)
	}
}

func (f *Facade) broadcastDiscovery() {
	body := wire.EncodeUTF16(f.cfg.Hostname)
	if raw, err := f.serialize(wire.Discovery, body); err == nil {
		_ = f.transport.Broadcast(raw)
	}
}

// tickTelemetry emits a ping for each tracked peer whose adaptive
// interval has elapsed.
func (f *Facade) tickTelemetry(now int64) {
	for _, rec := range f.peers.All() {
		last, tracked := f.lastPingMono[rec.Identity]
		interval := f.telemetry.Interval(rec.Identity)
		if tracked && now-last < interval.Microseconds() {
			continue
		}
		f.pingSendSeq = wire.NextSequence(f.pingSendSeq)
		if err := f.telemetry.SendPing(rec.Identity, uint32(f.pingSendSeq), now, uint64(now)); err != nil {
			log.Debugf("facade: ping %s: %v", rec.Identity, err)
		}
		if f.lastPingMono == nil {
			f.lastPingMono = map[string]int64{}
		}
		f.lastPingMono[rec.Identity] = now
	}
}

// tickFrameSync drives the frame-sync controller's own tick: the leader
// advances and broadcasts its frame counter, a follower recomputes its
// render-cadence adjustment from the observed inter-tick interval.
func (f *Facade) tickFrameSync(now int64) {
	if f.election.IsLeader() {
		frame := f.frame.LeaderTick()
		body, err := wire.EncodeStruct(wire.FrameSyncPayload{FrameNumber: frame})
		if err != nil {
			return
		}
		if raw, err := f.serialize(wire.FrameSync, body); err == nil {
			_ = f.transport.Broadcast(raw)
		}
		return
	}
	f.frame.FollowerTick(now * 1000)
}

func splitHostPort(s string) (string, int) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			port, err := strconv.Atoi(s[i+1:])
			if err != nil {
				return s[:i], 0
			}
			return s[:i], port
		}
	}
	return s, 0
}
