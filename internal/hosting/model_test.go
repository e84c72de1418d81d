// Copyright 2026 The CZ7 Host Authors
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


package hosting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cz7host/cz7host/internal/backend"
)

// TestPurpose: Validates kind parsing and routing properties.
// Scope: Unit Test
// Expected: Known kinds parse; unknown and lower-case kinds are unsupported; only VPS routes to the hypervisor.
// Test Case ID: MOD-01
func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseKind("vps")
	assert.ErrorIs(t, err, ErrUnsupportedKind)
	_, err = ParseKind("")
	assert.ErrorIs(t, err, ErrUnsupportedKind)

	assert.Equal(t, backend.KindHypervisor, KindVPS.BackendKind())
	assert.Equal(t, backend.KindContainer, KindPythonBot.BackendKind())
	assert.True(t, KindMinecraftForge.IsMinecraft())
	assert.False(t, KindNodeJSApp.IsMinecraft())
}

// TestPurpose: Validates handle derivation from the record's nullable columns.
// Scope: Unit Test
// Expected: Neither set is provisional; each column maps to its backend.
// Test Case ID: MOD-02
func TestService_Handle(t *testing.T) {
	svc := &Service{ID: "s1"}
	assert.True(t, svc.Provisional())
	_, ok := svc.Handle()
	assert.False(t, ok)

	setHandle(svc, Handle{Backend: backend.KindHypervisor, Value: "dom"})
	h, ok := svc.Handle()
	require.True(t, ok)
	assert.Equal(t, Handle{Backend: backend.KindHypervisor, Value: "dom"}, h)
	assert.Nil(t, svc.ContainerID)
}

// TestPurpose: Validates native status normalization for both backends.
// Scope: Unit Test
// Expected: Each native state maps to its normalized status; unmapped states are unknown.
// Test Case ID: MOD-03
func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		backend string
		native  string
		want    Status
	}{
		{backend.KindContainer, "running", StatusRunning},
		{backend.KindContainer, "created", StatusStopped},
		{backend.KindContainer, "exited", StatusStopped},
		{backend.KindContainer, "dead", StatusStopped},
		{backend.KindContainer, "restarting", StatusTransitioning},
		{backend.KindContainer, backend.NativeNotFound, StatusNotFound},
		{backend.KindContainer, "weird", StatusUnknown},
		{backend.KindHypervisor, "running", StatusRunning},
		{backend.KindHypervisor, "shutoff", StatusStopped},
		{backend.KindHypervisor, "crashed", StatusStopped},
		{backend.KindHypervisor, "shutdown", StatusTransitioning},
		{backend.KindHypervisor, backend.NativeNotFound, StatusNotFound},
		{backend.KindHypervisor, "unknown", StatusUnknown},
		{"other", "running", StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.backend+"/"+tt.native, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeStatus(tt.backend, tt.native))
		})
	}
}

// TestPurpose: Validates the lifecycle phase graph.
// Scope: Unit Test
// Expected: Allowed edges pass; terminal phases have no successors; skipping provisioning is illegal.
// Test Case ID: MOD-04
func TestPhase_CanTransition(t *testing.T) {
	assert.True(t, PhaseProvisional.CanTransition(PhaseProvisioning))
	assert.True(t, PhaseProvisioning.CanTransition(PhaseActive))
	assert.True(t, PhaseProvisioning.CanTransition(PhaseFailed))
	assert.True(t, PhaseActive.CanTransition(PhaseDeleting))
	assert.True(t, PhaseStopped.CanTransition(PhaseStarted))
	assert.True(t, PhaseDeleting.CanTransition(PhaseActive))

	assert.False(t, PhaseProvisional.CanTransition(PhaseActive))
	assert.False(t, PhaseActive.CanTransition(PhaseDeleted))
	for _, p := range []Phase{PhaseDeleted, PhaseFailed} {
		for _, to := range []Phase{PhaseProvisional, PhaseActive, PhaseStarted, PhaseDeleting} {
			assert.False(t, p.CanTransition(to), "%s -> %s", p, to)
		}
	}
}
