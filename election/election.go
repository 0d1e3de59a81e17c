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

// Package election implements the master/slave state machine quadrosync
// peers run to agree on a leader: Follower -> Electing -> Leader, with
// liveness-only guarantees. The candidate tie-break is
// grounded on facebook/time's sptp/bmc.Dscmp2, which resolves ties by
// comparing port identities lexicographically; here we compare priority
// first, falling back to identity, because quadrosync candidates carry an
// explicit priority the PTP best-master-clock algorithm does not.
package election

import (
	log "github.com/sirupsen/logrus"
)

// State is the election state machine's current phase.
type State uint8

// All states the machine can be in.
const (
	StateFollower State = iota
	StateElecting
	StateLeader
)

func (s State) String() string {
	switch s {
	case StateFollower:
		return "FOLLOWER"
	case StateElecting:
		return "ELECTING"
	case StateLeader:
		return "LEADER"
	default:
		return "UNKNOWN"
	}
}

// Candidate is one contender's (priority, identity) pair; also used to
// represent a voter's ballot.
type Candidate struct {
	Identity string
	Priority float32
}

// Better reports whether a is the preferred candidate over b: higher
// priority wins, ties break toward the lexicographically smaller
// identity, mirroring bmc.Dscmp2's topology tie-break.
func Better(a, b Candidate) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Identity < b.Identity
}

// Machine is the election state machine for one node. It is owned
// exclusively by the protocol task.
type Machine struct {
	self         Candidate
	canBeMaster  bool
	forceMaster  bool
	state        State
	term         int32
	leaderID     string
	votes        map[string]Candidate // candidate identity -> best ballot seen
	bestCandidate Candidate
	haveBest     bool
}

// New returns a Machine starting as a Follower.
func New(self Candidate, canBeMaster bool) *Machine {
	return &Machine{self: self, canBeMaster: canBeMaster, state: StateFollower}
}

// SetForceMaster implements the force_master setting: when true, the
// node skips Electing and announces immediately at a synthetic maximum
// term.
func (m *Machine) SetForceMaster(force bool) {
	m.forceMaster = force
	if force {
		m.term = int32(^uint32(0) >> 1) // max int32
		m.state = StateLeader
		m.leaderID = m.self.Identity
	}
}

// SetCanBeMaster implements the can_be_master setting: when false, the
// node never leaves Follower. StartElection is then a no-op, so the node
// never enters Electing and casts no vote.
func (m *Machine) SetCanBeMaster(can bool) { m.canBeMaster = can }

// State returns the current election state.
func (m *Machine) State() State { return m.state }

// Term returns the current election term.
func (m *Machine) Term() int32 { return m.term }

// IsLeader reports whether this node currently believes itself the leader.
func (m *Machine) IsLeader() bool { return m.state == StateLeader }

// LeaderIdentity returns the identity this node currently follows (itself
// if Leader, empty if Electing with no winner yet).
func (m *Machine) LeaderIdentity() string { return m.leaderID }

// StartElection transitions Follower -> Electing, setting
// term = max(heardTerms) + 1. It is a no-op while force_master is set,
// and when can_be_master is false; such a node stays a Follower and takes
// no part in the election.
func (m *Machine) StartElection(heardMaxTerm int32) {
	if m.forceMaster {
		return
	}
	if !m.canBeMaster {
		log.Debugf("election: %s cannot be master, staying follower", m.self.Identity)
		return
	}
	m.term = heardMaxTerm + 1
	m.state = StateElecting
	m.votes = map[string]Candidate{}
	m.bestCandidate = m.self
	m.haveBest = true
	m.votes[m.self.Identity] = m.self
}

// RecordVote records a ballot cast for `candidate` by `voter` in the given
// term. Votes for a term other than the current one are ignored
//).
func (m *Machine) RecordVote(term int32, voter string, candidate Candidate) {
	if m.state != StateElecting || term != m.term {
		return
	}
	m.votes[voter] = candidate
	if !m.haveBest || Better(candidate, m.bestCandidate) {
		m.bestCandidate = candidate
		m.haveBest = true
	}
}

// MyVote returns the candidate this node should currently vote for in its
// own election term: the highest-priority candidate it has heard,
// including itself.
func (m *Machine) MyVote() Candidate {
	if m.haveBest {
		return m.bestCandidate
	}
	return m.self
}

// ConcludeElection ends the Electing phase (on ELECTION_TIMEOUT or a
// clear winner) and transitions to Leader or Follower(winner, term).
func (m *Machine) ConcludeElection() {
	if m.state != StateElecting {
		return
	}
	winner := m.MyVote()
	if winner.Identity == m.self.Identity {
		m.state = StateLeader
		m.leaderID = m.self.Identity
		log.Infof("election: %s won term %d", m.self.Identity, m.term)
	} else {
		m.state = StateFollower
		m.leaderID = winner.Identity
		log.Infof("election: %s follows %s for term %d", m.self.Identity, winner.Identity, m.term)
	}
}

// ObserveAnnouncement processes a MasterAnnouncement from `leaderID` at
// `term`. A higher term immediately demotes a Leader to Follower and
// adopts that term; an equal term makes a node that is not Leader follow
// leaderID; a lower term is ignored.
func (m *Machine) ObserveAnnouncement(leaderID string, term int32) {
	if m.forceMaster {
		return
	}
	if term > m.term {
		m.term = term
		m.state = StateFollower
		m.leaderID = leaderID
		return
	}
	if term == m.term && m.state != StateLeader {
		m.state = StateFollower
		m.leaderID = leaderID
	}
}

// ObserveResign handles a MasterResign; a resignation from our own past
// term (i.e. not our current term) is a no-op.
func (m *Machine) ObserveResign(fromIdentity string, term int32) {
	if term != m.term || fromIdentity != m.leaderID {
		return
	}
	m.state = StateFollower
	m.leaderID = ""
}
