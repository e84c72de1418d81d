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
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cz7host/cz7host/internal/backend"
)

// TestPurpose: Validates that the console output of a container service is streamed to its owner.
// Scope: Unit Test
// Expected: The adapter's output is returned verbatim with the requested options; a negative tail is clamped to zero.
// Test Case ID: HCN-01
func TestOrchestrator_Logs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOpts{})
	h.container.console = "[Server] Done (3.2s)!\n"

	svc, err := h.orch.Create(ctx, tenantA, "srv", KindMinecraftPaper)
	require.NoError(t, err)

	rc, err := h.orch.Logs(ctx, tenantA, svc.ID, backend.LogOptions{Follow: true, Tail: -5})
	require.NoError(t, err)
	defer rc.Close()

	out, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "[Server] Done (3.2s)!\n", string(out))
	assert.Equal(t, backend.LogOptions{Follow: true, Tail: 0}, h.container.lastLogOpts)
}

// TestPurpose: Validates console access control and backends without console output.
// Scope: Unit Test
// Security: Another tenant cannot read a service's console.
// Expected: ErrForbidden for a foreign tenant, ErrNotFound for an unknown id, ErrNoConsole for a VM on a backend without log streaming.
// Test Case ID: HCN-02
func TestOrchestrator_Logs_Refusals(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOpts{maxServices: 2, bareVM: true})

	svc, err := h.orch.Create(ctx, tenantA, "srv", KindPythonBot)
	require.NoError(t, err)
	vm, err := h.orch.Create(ctx, tenantA, "box", KindVPS)
	require.NoError(t, err)

	_, err = h.orch.Logs(ctx, "tenant-b", svc.ID, backend.LogOptions{})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = h.orch.Logs(ctx, tenantA, "0192f3a4-0000-7000-8000-00000000dead", backend.LogOptions{})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.orch.Logs(ctx, tenantA, vm.ID, backend.LogOptions{})
	assert.ErrorIs(t, err, ErrNoConsole)
}

// TestPurpose: Validates that a vanished backend resource surfaces as a backend error.
// Scope: Unit Test
// Expected: Logs wraps both ErrBackendError and backend.ErrNotFound.
// Test Case ID: HCN-03
func TestOrchestrator_Logs_ResourceGone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOpts{})

	svc, err := h.orch.Create(ctx, tenantA, "srv", KindNodeJSApp)
	require.NoError(t, err)
	require.NoError(t, h.container.Remove(ctx, *svc.ContainerID))

	_, err = h.orch.Logs(ctx, tenantA, svc.ID, backend.LogOptions{})
	assert.ErrorIs(t, err, ErrBackendError)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

// TestPurpose: Validates the host status aggregated across backends.
// Scope: Unit Test
// Expected: Backends are ordered by kind; used memory and its percentage derive from free memory; a failing backend carries its error.
// Test Case ID: HCN-04
func TestOrchestrator_HostStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOpts{})
	h.container.host = backend.HostInfo{CPUs: 8, MemoryTotalBytes: 16 << 30, Running: 3, Version: "28.5.2"}
	h.hypervisor.hostErr = errors.New("rpc: connection reset")

	status, err := h.orch.HostStatus(ctx)
	require.NoError(t, err)
	require.Len(t, status.Backends, 2)

	assert.Equal(t, BackendHost{
		Backend:          backend.KindContainer,
		CPUs:             8,
		MemoryTotalBytes: 16 << 30,
		Running:          3,
		Version:          "28.5.2",
	}, status.Backends[0])
	assert.Equal(t, backend.KindHypervisor, status.Backends[1].Backend)
	assert.Equal(t, "rpc: connection reset", status.Backends[1].Error)

	h.hypervisor.hostErr = nil
	h.hypervisor.host = backend.HostInfo{CPUs: 16, MemoryTotalBytes: 32 << 30, MemoryFreeBytes: 8 << 30, Running: 1}
	status, err = h.orch.HostStatus(ctx)
	require.NoError(t, err)
	vm := status.Backends[1]
	assert.Empty(t, vm.Error)
	assert.Equal(t, uint64(24<<30), vm.MemoryUsedBytes)
	assert.InDelta(t, 75.0, vm.MemoryPercent, 0.001)
}

// TestPurpose: Validates that backends without host reporting are listed without figures.
// Scope: Unit Test
// Expected: The bare hypervisor entry has only its kind; a cancelled context fails the call.
// Test Case ID: HCN-05
func TestOrchestrator_HostStatus_NoReporter(t *testing.T) {
	h := newHarness(t, harnessOpts{bareVM: true})

	status, err := h.orch.HostStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, status.Backends, 2)
	assert.Equal(t, BackendHost{Backend: backend.KindHypervisor}, status.Backends[1])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.orch.HostStatus(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
