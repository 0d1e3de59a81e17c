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

// Package peer tracks the other quadrosync instances discovered on the
// LAN: identity, endpoint, liveness. Grounded on the identity-as-routing-
// key idiom of facebook/time's sptp/bmc.ComparePortIdentity, adapted from
// comparing PTP port identities to comparing discovered hosts.
package peer

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Identity derives the stable PeerIdentity string for a (projectID,
// hostname) pair, hashed with xxhash rather than
// concatenated raw, so it stays a fixed-shape, collision-resistant key
// regardless of hostname length.
func Identity(projectID [16]byte, hostname string) string {
	h := xxhash.New()
	_, _ = h.Write(projectID[:])
	_, _ = h.Write([]byte(hostname))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Record is one discovered peer.
type Record struct {
	Identity         string
	IP               string
	Port             int
	ProjectID        [16]byte
	ProjectVersion   string
	LastSeenMono     int64 // monotonic microseconds, from wireclock
	Priority         float32
	ElectionTermHeard int32
}

// Registry holds discovered peers. It is owned exclusively by the
// protocol task; no method is safe for concurrent use.
type Registry struct {
	self string // own identity, never added to the registry
	byID map[string]*Record
}

// New returns an empty Registry for the node whose own identity is self.
func New(self string) *Registry {
	return &Registry{self: self, byID: map[string]*Record{}}
}

// Upsert creates or updates a peer record. ElectionTermHeard never
// decreases: if update.ElectionTermHeard is lower
// than what's already on file, the existing value is kept.
func (r *Registry) Upsert(update Record, nowMono int64) {
	if update.Identity == r.self {
		return
	}
	update.LastSeenMono = nowMono
	existing, ok := r.byID[update.Identity]
	if ok && existing.ElectionTermHeard > update.ElectionTermHeard {
		update.ElectionTermHeard = existing.ElectionTermHeard
	}
	cp := update
	r.byID[update.Identity] = &cp
}

// Touch refreshes last-seen for an already-known peer without changing
// any other field; a no-op if the peer isn't registered yet.
func (r *Registry) Touch(identity string, nowMono int64) {
	if rec, ok := r.byID[identity]; ok {
		rec.LastSeenMono = nowMono
	}
}

// NoteTerm bumps ElectionTermHeard for a peer if term is higher than what's
// on file; never decreases it.
func (r *Registry) NoteTerm(identity string, term int32) {
	if rec, ok := r.byID[identity]; ok && term > rec.ElectionTermHeard {
		rec.ElectionTermHeard = term
	}
}

// ByAddress returns the record whose endpoint matches ip:port, if any.
// Used to map an inbound datagram's source address back to an identity
// for messages, such as ping responses, that don't carry one.
func (r *Registry) ByAddress(ip string, port int) (Record, bool) {
	for _, rec := range r.byID {
		if rec.IP == ip && rec.Port == port {
			return *rec, true
		}
	}
	return Record{}, false
}

// Get returns the record for identity, if known.
func (r *Registry) Get(identity string) (Record, bool) {
	rec, ok := r.byID[identity]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// All returns a snapshot slice of every currently known peer.
func (r *Registry) All() []Record {
	out := make([]Record, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, *rec)
	}
	return out
}

// Len reports the number of known peers.
func (r *Registry) Len() int { return len(r.byID) }

// EvictSilent drops any peer whose last-seen is older than timeout
// microseconds relative to nowMono, returning the identities evicted.
func (r *Registry) EvictSilent(nowMono int64, timeoutMicro int64) []string {
	var evicted []string
	for id, rec := range r.byID {
		if nowMono-rec.LastSeenMono > timeoutMicro {
			evicted = append(evicted, id)
			delete(r.byID, id)
		}
	}
	return evicted
}
