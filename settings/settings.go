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

// Package settings holds the replicated GlobalSettings record: a
// versioned bag of tunables that converges across peers under a
// last-writer-wins partial order, the way sptp/client.Config is read
// from YAML but generalized here to also persist to disk and replicate
// over the wire.
package settings

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

// Validation errors for individual GlobalSettings fields.
var (
	ErrInvalidPort       = errors.New("settings: sync port out of range")
	ErrInvalidInterval   = errors.New("settings: interval must be > 0")
	ErrInvalidGain       = errors.New("settings: gain must be > 0")
	ErrInvalidFilter     = errors.New("settings: filter weight must be in (0, 1)")
	ErrInvalidFPS        = errors.New("settings: target fps must be > 0")
	ErrInvalidPriority   = errors.New("settings: priority must be in [0, 1]")
	ErrIncompatibleSchema = errors.New("settings: incompatible schema version")
)

// GlobalSettings is the versioned record of tunables every node holds
// and replicates.
type GlobalSettings struct {
	SyncPort         int           `yaml:"sync_port"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	PGain            float64       `yaml:"p_gain"`
	IGain            float64       `yaml:"i_gain"`
	FilterWeight     float64       `yaml:"filter_weight"`
	TargetFPS        float32       `yaml:"target_fps"`
	ForceFrameLock   bool          `yaml:"force_frame_lock"`
	MaxFrameSkew     int           `yaml:"max_frame_skew"`
	MasterPriority   float32       `yaml:"master_priority"`
	CanBeMaster      bool          `yaml:"can_be_master"`
	ForceMaster      bool          `yaml:"force_master"`
	SchemaVersion    string        `yaml:"schema_version"`

	Version         uint32    `yaml:"-"`
	LastUpdatedBy   string    `yaml:"-"`
	LastUpdatedMS   int64     `yaml:"-"`
}

// Default returns a GlobalSettings with conservative, valid defaults.
func Default() GlobalSettings {
	return GlobalSettings{
		SyncPort:          5700,
		BroadcastInterval: time.Second,
		PGain:             0.01,
		IGain:             0.001,
		FilterWeight:      0.3,
		TargetFPS:         60,
		MaxFrameSkew:      10,
		MasterPriority:    0.5,
		CanBeMaster:       true,
		SchemaVersion:     "1.0.0",
	}
}

// ReadConfig loads a GlobalSettings from a YAML file on disk.
func ReadConfig(path string) (*GlobalSettings, error) {
	s := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks every field's bounds per the replicator's invariant
// (port, interval, gains, filter weight, target fps, priority).
func Validate(s GlobalSettings) error {
	if s.SyncPort < 1024 || s.SyncPort > 65535 {
		return ErrInvalidPort
	}
	if s.BroadcastInterval <= 0 {
		return ErrInvalidInterval
	}
	if s.PGain <= 0 || s.IGain <= 0 {
		return ErrInvalidGain
	}
	if s.FilterWeight <= 0 || s.FilterWeight >= 1 {
		return ErrInvalidFilter
	}
	if s.TargetFPS <= 0 {
		return ErrInvalidFPS
	}
	if s.MasterPriority < 0 || s.MasterPriority > 1 {
		return ErrInvalidPriority
	}
	return nil
}

// Dominates reports whether candidate strictly dominates current under
// the (version, timestamp) partial order the replicator converges on.
func Dominates(candidate, current GlobalSettings) bool {
	if candidate.Version != current.Version {
		return candidate.Version > current.Version
	}
	return candidate.LastUpdatedMS > current.LastUpdatedMS
}

// Subscriber is notified whenever the active settings change.
type Subscriber func(GlobalSettings)

// Store owns the authoritative GlobalSettings for one node, applying
// local mutations and remote SettingsSync updates under the same
// last-writer-wins rule. It is owned exclusively by the protocol task;
// no method is safe for concurrent use.
type Store struct {
	current     GlobalSettings
	selfIdentity string
	subscribers []Subscriber
}

// NewStore returns a Store seeded with initial settings, attributed to
// selfIdentity for any local mutation.
func NewStore(selfIdentity string, initial GlobalSettings) *Store {
	return &Store{current: initial, selfIdentity: selfIdentity}
}

// Current returns the active settings.
func (s *Store) Current() GlobalSettings { return s.current }

// Subscribe registers fn to be called on every accepted update.
func (s *Store) Subscribe(fn Subscriber) { s.subscribers = append(s.subscribers, fn) }

func (s *Store) notify() {
	for _, fn := range s.subscribers {
		fn(s.current)
	}
}

// ApplyLocal validates and applies a local mutation: version is
// incremented, last_updated_* refreshed to selfIdentity/nowMS, and
// subscribers notified. It returns an error and leaves current
// unchanged if next fails validation.
func (s *Store) ApplyLocal(next GlobalSettings, nowMS int64) error {
	if err := Validate(next); err != nil {
		return err
	}
	next.Version = s.current.Version + 1
	next.LastUpdatedBy = s.selfIdentity
	next.LastUpdatedMS = nowMS
	s.current = next
	s.notify()
	return nil
}

// ApplyRemote processes a SettingsSync/SettingsResponse payload: a
// dominant remote update overwrites and notifies; an equal-or-lesser
// one is ignored. Invalid remote settings are rejected outright. An
// incompatible schema major version is rejected with a warning instead
// of silent ignore, since it signals a configuration mismatch rather
// than ordinary convergence.
func (s *Store) ApplyRemote(remote GlobalSettings) error {
	if err := Validate(remote); err != nil {
		log.Warnf("settings: rejecting invalid remote update: %v", err)
		return err
	}
	if compatible, err := schemaCompatible(s.current.SchemaVersion, remote.SchemaVersion); err != nil || !compatible {
		log.Warnf("settings: rejecting remote schema %q against local %q", remote.SchemaVersion, s.current.SchemaVersion)
		return ErrIncompatibleSchema
	}
	if !Dominates(remote, s.current) {
		return nil
	}
	s.current = remote
	s.notify()
	return nil
}

// schemaCompatible reports whether remote's major version matches
// local's. An empty version on either side is treated as compatible
// (schema gating is opt-in).
func schemaCompatible(local, remote string) (bool, error) {
	if local == "" || remote == "" {
		return true, nil
	}
	lv, err := version.NewVersion(local)
	if err != nil {
		return false, fmt.Errorf("settings: parsing local schema version: %w", err)
	}
	rv, err := version.NewVersion(remote)
	if err != nil {
		return false, fmt.Errorf("settings: parsing remote schema version: %w", err)
	}
	return lv.Segments()[0] == rv.Segments()[0], nil
}
