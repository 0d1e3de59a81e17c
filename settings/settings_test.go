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

package settings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRejectsOutOfRangeFields(t *testing.T) {
	s := Default()
	s.SyncPort = 80
	require.ErrorIs(t, Validate(s), ErrInvalidPort)

	s = Default()
	s.FilterWeight = 1.5
	require.ErrorIs(t, Validate(s), ErrInvalidFilter)

	s = Default()
	s.MasterPriority = 1.2
	require.ErrorIs(t, Validate(s), ErrInvalidPriority)
}

func TestDominatesOnHigherVersion(t *testing.T) {
	a := GlobalSettings{Version: 5, LastUpdatedMS: 2000}
	b := GlobalSettings{Version: 6, LastUpdatedMS: 1000}
	require.True(t, Dominates(b, a))
	require.False(t, Dominates(a, b))
}

func TestDominatesOnEqualVersionLaterTimestamp(t *testing.T) {
	a := GlobalSettings{Version: 5, LastUpdatedMS: 1000}
	b := GlobalSettings{Version: 5, LastUpdatedMS: 2000}
	require.True(t, Dominates(b, a))
}

func TestApplyLocalIncrementsVersionAndNotifies(t *testing.T) {
	store := NewStore("self", Default())
	var notified GlobalSettings
	store.Subscribe(func(s GlobalSettings) { notified = s })

	next := Default()
	next.TargetFPS = 90
	require.NoError(t, store.ApplyLocal(next, 1234))
	require.Equal(t, uint32(1), store.Current().Version)
	require.Equal(t, "self", store.Current().LastUpdatedBy)
	require.Equal(t, float32(90), notified.TargetFPS)
}

func TestApplyLocalRejectsInvalidSettings(t *testing.T) {
	store := NewStore("self", Default())
	bad := Default()
	bad.SyncPort = 0
	require.Error(t, store.ApplyLocal(bad, 1000))
	require.Equal(t, uint32(0), store.Current().Version) // unchanged
}

func TestApplyRemoteIgnoresStaleVersion(t *testing.T) {
	store := NewStore("self", Default())
	require.NoError(t, store.ApplyLocal(Default(), 1000)) // version -> 1

	stale := Default()
	stale.Version = 0
	stale.LastUpdatedMS = 9999
	require.NoError(t, store.ApplyRemote(stale))
	require.Equal(t, uint32(1), store.Current().Version)
}

// TestScenarioS6SettingsConflict checks that of A at v5/t=1000 and B at
// v5/t=2000, after one sync exchange both converge on B's copy.
func TestScenarioS6SettingsConflict(t *testing.T) {
	a := Default()
	a.Version = 5
	a.LastUpdatedMS = 1000
	a.LastUpdatedBy = "A"

	b := Default()
	b.Version = 5
	b.LastUpdatedMS = 2000
	b.LastUpdatedBy = "B"
	b.TargetFPS = 120 // distinguishing field to confirm full overwrite

	storeA := NewStore("A", a)
	storeB := NewStore("B", b)

	require.NoError(t, storeA.ApplyRemote(storeB.Current()))
	require.NoError(t, storeB.ApplyRemote(storeA.Current())) // A's copy doesn't dominate, ignored

	require.Equal(t, "B", storeA.Current().LastUpdatedBy)
	require.Equal(t, "B", storeB.Current().LastUpdatedBy)
	require.Equal(t, float32(120), storeA.Current().TargetFPS)
}

func TestSchemaVersionMismatchRejected(t *testing.T) {
	store := NewStore("self", Default())
	store.current.SchemaVersion = "2.0.0"

	remote := Default()
	remote.SchemaVersion = "1.0.0"
	remote.Version = 99
	remote.LastUpdatedMS = 99999

	require.ErrorIs(t, store.ApplyRemote(remote), ErrIncompatibleSchema)
	require.Equal(t, uint32(0), store.Current().Version)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.bin")

	s := Default()
	s.Version = 7
	s.TargetFPS = 144
	s.LastUpdatedBy = "node-a"

	require.NoError(t, Save(path, s))
	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, s, loaded)
}
