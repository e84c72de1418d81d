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

package hypervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/digitalocean/go-libvirt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"libvirt.org/go/libvirtxml"

	"github.com/cz7host/cz7host/internal/backend"
)

var errNoDomain = errors.New("Domain not found")

type mockLibvirt struct {
	mock.Mock
}

func (m *mockLibvirt) DomainDefineXML(XML string) (libvirt.Domain, error) {
	args := m.Called(XML)
	return args.Get(0).(libvirt.Domain), args.Error(1)
}

func (m *mockLibvirt) DomainLookupByName(Name string) (libvirt.Domain, error) {
	args := m.Called(Name)
	return args.Get(0).(libvirt.Domain), args.Error(1)
}

func (m *mockLibvirt) DomainCreate(Dom libvirt.Domain) error {
	return m.Called(Dom).Error(0)
}

func (m *mockLibvirt) DomainDestroy(Dom libvirt.Domain) error {
	return m.Called(Dom).Error(0)
}

func (m *mockLibvirt) DomainUndefine(Dom libvirt.Domain) error {
	return m.Called(Dom).Error(0)
}

func (m *mockLibvirt) DomainGetState(Dom libvirt.Domain, Flags uint32) (int32, int32, error) {
	args := m.Called(Dom, Flags)
	return args.Get(0).(int32), 0, args.Error(1)
}

func (m *mockLibvirt) NodeGetInfo() ([32]int8, uint64, int32, int32, int32, int32, int32, int32, error) {
	args := m.Called()
	return [32]int8{}, args.Get(0).(uint64), args.Get(1).(int32), 0, 1, 1, 0, 0, args.Error(2)
}

func (m *mockLibvirt) NodeGetFreeMemory() (uint64, error) {
	args := m.Called()
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockLibvirt) ConnectListAllDomains(NeedResults int32, Flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
	args := m.Called(NeedResults, Flags)
	doms, _ := args.Get(0).([]libvirt.Domain)
	return doms, uint32(len(doms)), args.Error(1)
}

func (m *mockLibvirt) ConnectGetLibVersion() (uint64, error) {
	args := m.Called()
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockLibvirt) Disconnect() error {
	return m.Called().Error(0)
}

func newTestAdapter(t *testing.T, conn *mockLibvirt) *Adapter {
	t.Helper()
	dir := t.TempDir()
	base := filepath.Join(dir, "base.qcow2")
	require.NoError(t, os.WriteFile(base, []byte("QFI\xfbbase-image"), 0o600))
	disks := filepath.Join(dir, "images")
	require.NoError(t, os.MkdirAll(disks, 0o755))

	a := newWithConn(conn, Config{BaseImage: base, DiskDir: disks})
	a.isNotFound = func(err error) bool { return errors.Is(err, errNoDomain) }
	return a
}

func vmRequest() backend.ProvisionRequest {
	return backend.ProvisionRequest{
		Name:    "cz7host_tenant-1_svc-9",
		Ceiling: backend.Ceiling{MemoryMB: 2048, CPUVCore: 2, DiskGB: 20},
	}
}

// TestPurpose: Validates that provisioning clones the base disk and defines a stopped domain sized to the ceiling.
// Scope: Unit Test
// Expected: Disk holds the base image bytes; XML names the domain with memory in KiB, vCPUs and the disk path; DomainCreate is not called.
// Test Case ID: HYP-01
func TestAdapter_Provision(t *testing.T) {
	ctx := context.Background()
	conn := new(mockLibvirt)
	a := newTestAdapter(t, conn)
	req := vmRequest()

	var defined string
	conn.On("DomainDefineXML", mock.Anything).Run(func(args mock.Arguments) {
		defined = args.String(0)
	}).Return(libvirt.Domain{Name: req.Name}, nil)

	handle, err := a.Provision(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, req.Name, handle)

	data, err := os.ReadFile(a.DiskPath(req.Name))
	require.NoError(t, err)
	assert.Equal(t, "QFI\xfbbase-image", string(data))

	var dom libvirtxml.Domain
	require.NoError(t, dom.Unmarshal(defined))
	assert.Equal(t, "kvm", dom.Type)
	assert.Equal(t, req.Name, dom.Name)
	assert.NotEmpty(t, dom.UUID)
	assert.Equal(t, uint(2048*1024), dom.Memory.Value)
	assert.Equal(t, uint(2), dom.VCPU.Value)
	require.Len(t, dom.Devices.Disks, 1)
	assert.Equal(t, a.DiskPath(req.Name), dom.Devices.Disks[0].Source.File.File)
	conn.AssertNotCalled(t, "DomainCreate", mock.Anything)
}

// TestPurpose: Validates adapter-local compensation when the domain definition fails after the disk clone.
// Scope: Unit Test
// Expected: The error is returned and the cloned disk no longer exists.
// Test Case ID: HYP-02
func TestAdapter_Provision_DefineFailsRemovesDisk(t *testing.T) {
	ctx := context.Background()
	conn := new(mockLibvirt)
	a := newTestAdapter(t, conn)
	req := vmRequest()

	conn.On("DomainDefineXML", mock.Anything).Return(libvirt.Domain{}, errors.New("invalid machine type"))
	conn.On("DomainLookupByName", req.Name).Return(libvirt.Domain{}, errNoDomain)

	_, err := a.Provision(ctx, req)
	require.Error(t, err)

	_, statErr := os.Stat(a.DiskPath(req.Name))
	assert.True(t, os.IsNotExist(statErr))
	conn.AssertNotCalled(t, "DomainUndefine", mock.Anything)
}

// TestPurpose: Validates that a missing base image fails before anything is defined.
// Scope: Unit Test
// Expected: Provision errors and DomainDefineXML is never invoked.
// Test Case ID: HYP-03
func TestAdapter_Provision_MissingBaseImage(t *testing.T) {
	ctx := context.Background()
	conn := new(mockLibvirt)
	a := newTestAdapter(t, conn)
	a.baseImage = filepath.Join(t.TempDir(), "absent.qcow2")

	_, err := a.Provision(ctx, vmRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base image not found")
	conn.AssertNotCalled(t, "DomainDefineXML", mock.Anything)
}

// TestPurpose: Validates that Stop is a forced power-off.
// Scope: Unit Test
// Expected: Stop calls DomainDestroy on the looked-up domain.
// Test Case ID: HYP-04
func TestAdapter_Stop_ForcesPowerOff(t *testing.T) {
	ctx := context.Background()
	conn := new(mockLibvirt)
	a := newTestAdapter(t, conn)
	dom := libvirt.Domain{Name: "vm-1"}

	conn.On("DomainLookupByName", "vm-1").Return(dom, nil)
	conn.On("DomainDestroy", dom).Return(nil).Once()

	require.NoError(t, a.Stop(ctx, "vm-1"))
	conn.AssertExpectations(t)
}

// TestPurpose: Validates removal powers off, undefines and deletes the disk.
// Scope: Unit Test
// Expected: Running domain is destroyed then undefined; the disk file is gone.
// Test Case ID: HYP-05
func TestAdapter_Remove(t *testing.T) {
	ctx := context.Background()
	conn := new(mockLibvirt)
	a := newTestAdapter(t, conn)
	dom := libvirt.Domain{Name: "vm-1"}
	require.NoError(t, os.WriteFile(a.DiskPath("vm-1"), []byte("disk"), 0o600))

	conn.On("DomainLookupByName", "vm-1").Return(dom, nil)
	conn.On("DomainGetState", dom, uint32(0)).Return(int32(libvirt.DomainRunning), nil)
	conn.On("DomainDestroy", dom).Return(nil).Once()
	conn.On("DomainUndefine", dom).Return(nil).Once()

	require.NoError(t, a.Remove(ctx, "vm-1"))
	conn.AssertExpectations(t)

	_, err := os.Stat(a.DiskPath("vm-1"))
	assert.True(t, os.IsNotExist(err))
}

// TestPurpose: Validates disk deletion failure after undefine does not fail removal.
// Scope: Unit Test
// Expected: Remove returns nil when the disk is already gone or cannot be deleted.
// Test Case ID: HYP-06
func TestAdapter_Remove_DiskFailureTolerated(t *testing.T) {
	ctx := context.Background()
	conn := new(mockLibvirt)
	a := newTestAdapter(t, conn)
	dom := libvirt.Domain{Name: "vm-2"}

	// a directory in place of the disk file makes os.Remove fail (non-empty)
	require.NoError(t, os.MkdirAll(filepath.Join(a.DiskPath("vm-2"), "x"), 0o755))

	conn.On("DomainLookupByName", "vm-2").Return(dom, nil)
	conn.On("DomainGetState", dom, uint32(0)).Return(int32(libvirt.DomainShutoff), nil)
	conn.On("DomainUndefine", dom).Return(nil)

	assert.NoError(t, a.Remove(ctx, "vm-2"))
	conn.AssertNotCalled(t, "DomainDestroy", mock.Anything)
}

// TestPurpose: Validates the not-found sentinel for lifecycle calls on an absent domain.
// Scope: Unit Test
// Expected: Start and Remove wrap backend.ErrNotFound; Status reports not_found.
// Test Case ID: HYP-07
func TestAdapter_NotFound(t *testing.T) {
	ctx := context.Background()
	conn := new(mockLibvirt)
	a := newTestAdapter(t, conn)

	conn.On("DomainLookupByName", "ghost").Return(libvirt.Domain{}, errNoDomain)

	assert.ErrorIs(t, a.Start(ctx, "ghost"), backend.ErrNotFound)
	assert.ErrorIs(t, a.Remove(ctx, "ghost"), backend.ErrNotFound)

	status, err := a.Status(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, backend.NativeNotFound, status)
}

// TestPurpose: Validates libvirt state names.
// Scope: Unit Test
// Expected: Every documented state maps to its name; out-of-range values are unknown.
// Test Case ID: HYP-08
func TestStateName(t *testing.T) {
	cases := map[libvirt.DomainState]string{
		libvirt.DomainNostate:     "nostate",
		libvirt.DomainRunning:     "running",
		libvirt.DomainBlocked:     "blocked",
		libvirt.DomainPaused:      "paused",
		libvirt.DomainShutdown:    "shutdown",
		libvirt.DomainShutoff:     "shutoff",
		libvirt.DomainCrashed:     "crashed",
		libvirt.DomainPmsuspended: "pmsuspended",
		libvirt.DomainState(42):   "unknown",
	}
	for state, name := range cases {
		assert.Equal(t, name, StateName(state))
	}
}

// TestPurpose: Validates that a failed state query aborts removal instead of undefining a possibly running domain.
// Scope: Unit Test
// Expected: Remove returns an error; neither DomainDestroy nor DomainUndefine is called and the disk is kept.
// Test Case ID: HYP-09
func TestAdapter_Remove_StateQueryFails(t *testing.T) {
	ctx := context.Background()
	conn := new(mockLibvirt)
	a := newTestAdapter(t, conn)
	dom := libvirt.Domain{Name: "vm-3"}
	require.NoError(t, os.WriteFile(a.DiskPath("vm-3"), []byte("disk"), 0o600))

	conn.On("DomainLookupByName", "vm-3").Return(dom, nil)
	conn.On("DomainGetState", dom, uint32(0)).Return(int32(0), errors.New("rpc: connection reset"))

	err := a.Remove(ctx, "vm-3")
	require.Error(t, err)
	assert.NotErrorIs(t, err, backend.ErrNotFound)
	assert.Contains(t, err.Error(), "get state of domain vm-3")
	conn.AssertNotCalled(t, "DomainDestroy", mock.Anything)
	conn.AssertNotCalled(t, "DomainUndefine", mock.Anything)

	_, statErr := os.Stat(a.DiskPath("vm-3"))
	assert.NoError(t, statErr)
}

// TestPurpose: Validates that a domain vanishing between lookup and state query counts as already removed.
// Scope: Unit Test
// Expected: Remove wraps backend.ErrNotFound and does not undefine.
// Test Case ID: HYP-10
func TestAdapter_Remove_StateQueryNotFound(t *testing.T) {
	ctx := context.Background()
	conn := new(mockLibvirt)
	a := newTestAdapter(t, conn)
	dom := libvirt.Domain{Name: "vm-4"}

	conn.On("DomainLookupByName", "vm-4").Return(dom, nil)
	conn.On("DomainGetState", dom, uint32(0)).Return(int32(0), errNoDomain)

	assert.ErrorIs(t, a.Remove(ctx, "vm-4"), backend.ErrNotFound)
	conn.AssertNotCalled(t, "DomainUndefine", mock.Anything)
}

// TestPurpose: Validates that a define error which still left a domain behind is cleaned up.
// Scope: Unit Test
// Expected: Provision errors; the leftover domain is undefined by name and the disk is removed.
// Test Case ID: HYP-11
func TestAdapter_Provision_DefineFailsUndefinesLeftover(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	conn := new(mockLibvirt)
	a := newTestAdapter(t, conn)
	req := vmRequest()
	leftover := libvirt.Domain{Name: req.Name}

	conn.On("DomainDefineXML", mock.Anything).Run(func(mock.Arguments) {
		cancel()
	}).Return(libvirt.Domain{}, errors.New("rpc: reply timed out"))
	conn.On("DomainLookupByName", req.Name).Return(leftover, nil)
	conn.On("DomainUndefine", leftover).Return(nil).Once()

	_, err := a.Provision(ctx, req)
	require.Error(t, err)
	conn.AssertExpectations(t)

	_, statErr := os.Stat(a.DiskPath(req.Name))
	assert.True(t, os.IsNotExist(statErr))
}

// TestPurpose: Validates that the disk clone honours cancellation.
// Scope: Unit Test
// Expected: A cancelled context fails the clone and leaves no partial disk behind.
// Test Case ID: HYP-12
func TestCloneDisk_Cancelled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "base.qcow2")
	dst := filepath.Join(dir, "clone.qcow2")
	require.NoError(t, os.WriteFile(src, make([]byte, 1<<20), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cloneDisk(ctx, src, dst)
	require.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}

// TestPurpose: Validates the node capacity reported from libvirt.
// Scope: Unit Test
// Expected: Memory converts from KiB to bytes, free memory and running domains are reported, the library version is decoded.
// Test Case ID: HYP-13
func TestAdapter_HostInfo(t *testing.T) {
	ctx := context.Background()
	conn := new(mockLibvirt)
	a := newTestAdapter(t, conn)

	conn.On("NodeGetInfo").Return(uint64(32<<20), int32(16), nil)
	conn.On("NodeGetFreeMemory").Return(uint64(8<<30), nil)
	conn.On("ConnectListAllDomains", int32(1), libvirt.ConnectListDomainsRunning).
		Return([]libvirt.Domain{{Name: "vm-1"}, {Name: "vm-2"}}, nil)
	conn.On("ConnectGetLibVersion").Return(uint64(10000000), nil)

	info, err := a.HostInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, backend.HostInfo{
		CPUs:             16,
		MemoryTotalBytes: 32 << 30,
		MemoryFreeBytes:  8 << 30,
		Running:          2,
		Version:          "10.0.0",
	}, info)
}

// TestPurpose: Validates that a failed node query is reported rather than yielding zero capacity.
// Scope: Unit Test
// Expected: HostInfo returns an error naming the node query.
// Test Case ID: HYP-14
func TestAdapter_HostInfo_NodeQueryFails(t *testing.T) {
	conn := new(mockLibvirt)
	a := newTestAdapter(t, conn)

	conn.On("NodeGetInfo").Return(uint64(0), int32(0), errors.New("rpc: connection reset"))

	_, err := a.HostInfo(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node info")
}
