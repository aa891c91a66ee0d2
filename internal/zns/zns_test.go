// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package zns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirkpetersen/claudefs/internal/model"
)

func testConfig() Config {
	return Config{DeviceIdx: 0, NumZones: 4, ZoneSize4K: 256, MaxOpenZones: 2, MaxActiveZones: 4}
}

func TestAppendLifecycle(t *testing.T) {
	m := New(testConfig())

	off, err := m.Append(0, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), off)

	z, err := m.Zone(0)
	require.NoError(t, err)
	assert.Equal(t, model.ZoneOpen, z.State)
	assert.Equal(t, uint64(100), z.WritePointer)

	off, err = m.Append(0, 156)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), off)

	z, _ = m.Zone(0)
	assert.Equal(t, model.ZoneFull, z.State)

	_, err = m.Append(0, 1)
	assert.Error(t, err)
}

func TestResetRequiresTerminalState(t *testing.T) {
	m := New(testConfig())
	err := m.Reset(0)
	assert.Error(t, err, "cannot reset an Empty zone")

	_, err = m.Append(0, 50)
	require.NoError(t, err)
	err = m.Reset(0)
	assert.Error(t, err, "cannot reset an Open zone")

	require.NoError(t, m.Close(0))
	require.NoError(t, m.Reset(0))

	z, _ := m.Zone(0)
	assert.Equal(t, model.ZoneEmpty, z.State)
	assert.Equal(t, uint64(0), z.WritePointer)
}

func TestFindWritablePrefersOpen(t *testing.T) {
	m := New(testConfig())
	_, err := m.Append(2, 10)
	require.NoError(t, err)

	idx, ok := m.FindWritable()
	require.True(t, ok)
	assert.Equal(t, uint32(2), idx)
}

func TestFindWritableFallsBackToEmpty(t *testing.T) {
	m := New(testConfig())
	idx, ok := m.FindWritable()
	require.True(t, ok)
	assert.Equal(t, uint32(0), idx)
}

func TestGCCandidatesAreFullZones(t *testing.T) {
	m := New(testConfig())
	_, err := m.Append(1, 256)
	require.NoError(t, err)

	candidates := m.GCCandidates()
	require.Len(t, candidates, 1)
	assert.Equal(t, uint32(1), candidates[0])
}

func TestOpenAndFinishAndClose(t *testing.T) {
	m := New(testConfig())
	require.NoError(t, m.Open(0))
	z, _ := m.Zone(0)
	assert.Equal(t, model.ZoneOpen, z.State)

	require.NoError(t, m.Finish(0))
	z, _ = m.Zone(0)
	assert.Equal(t, model.ZoneFull, z.State)

	err := m.Close(0)
	assert.Error(t, err, "cannot close a Full zone")
}
