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


package http

import (
	"context"
	"io"
	"os"

	"github.com/stretchr/testify/mock"

	"github.com/cz7host/cz7host/internal/backend"
	"github.com/cz7host/cz7host/internal/billing"
	"github.com/cz7host/cz7host/internal/hosting"
	"github.com/cz7host/cz7host/internal/storage"
)

type mockOrchestrator struct {
	mock.Mock
}

func (m *mockOrchestrator) SupportedKinds() []hosting.Kind {
	args := m.Called()
	return args.Get(0).([]hosting.Kind)
}

func (m *mockOrchestrator) Create(ctx context.Context, tenantID, name string, kind hosting.Kind) (*hosting.Service, error) {
	args := m.Called(ctx, tenantID, name, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*hosting.Service), args.Error(1)
}

func (m *mockOrchestrator) List(ctx context.Context, tenantID string) ([]*hosting.ServiceView, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*hosting.ServiceView), args.Error(1)
}

func (m *mockOrchestrator) Get(ctx context.Context, tenantID, serviceID string) (*hosting.ServiceView, error) {
	args := m.Called(ctx, tenantID, serviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*hosting.ServiceView), args.Error(1)
}

func (m *mockOrchestrator) Status(ctx context.Context, tenantID, serviceID string) (hosting.Status, error) {
	args := m.Called(ctx, tenantID, serviceID)
	return args.Get(0).(hosting.Status), args.Error(1)
}

func (m *mockOrchestrator) Start(ctx context.Context, tenantID, serviceID string) error {
	return m.Called(ctx, tenantID, serviceID).Error(0)
}

func (m *mockOrchestrator) Stop(ctx context.Context, tenantID, serviceID string) error {
	return m.Called(ctx, tenantID, serviceID).Error(0)
}

func (m *mockOrchestrator) Restart(ctx context.Context, tenantID, serviceID string) error {
	return m.Called(ctx, tenantID, serviceID).Error(0)
}

func (m *mockOrchestrator) Delete(ctx context.Context, tenantID, serviceID string) error {
	return m.Called(ctx, tenantID, serviceID).Error(0)
}

func (m *mockOrchestrator) CreateBackup(ctx context.Context, tenantID, serviceID string) (*hosting.Backup, error) {
	args := m.Called(ctx, tenantID, serviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*hosting.Backup), args.Error(1)
}

func (m *mockOrchestrator) ListBackups(ctx context.Context, tenantID, serviceID string) ([]*hosting.Backup, error) {
	args := m.Called(ctx, tenantID, serviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*hosting.Backup), args.Error(1)
}

func (m *mockOrchestrator) ListTenantBackups(ctx context.Context, tenantID string) ([]*hosting.Backup, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*hosting.Backup), args.Error(1)
}

func (m *mockOrchestrator) RestoreBackup(ctx context.Context, tenantID, backupID string) error {
	return m.Called(ctx, tenantID, backupID).Error(0)
}

func (m *mockOrchestrator) DeleteBackup(ctx context.Context, tenantID, backupID string) error {
	return m.Called(ctx, tenantID, backupID).Error(0)
}

func (m *mockOrchestrator) ListFiles(ctx context.Context, tenantID, serviceID, rel string) ([]storage.FileInfo, error) {
	args := m.Called(ctx, tenantID, serviceID, rel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.FileInfo), args.Error(1)
}

func (m *mockOrchestrator) ReadFile(ctx context.Context, tenantID, serviceID, rel string) ([]byte, error) {
	args := m.Called(ctx, tenantID, serviceID, rel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockOrchestrator) WriteFile(ctx context.Context, tenantID, serviceID, rel string, content []byte) error {
	return m.Called(ctx, tenantID, serviceID, rel, content).Error(0)
}

func (m *mockOrchestrator) DeleteFile(ctx context.Context, tenantID, serviceID, rel string) error {
	return m.Called(ctx, tenantID, serviceID, rel).Error(0)
}

func (m *mockOrchestrator) Logs(ctx context.Context, tenantID, serviceID string, opts backend.LogOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, tenantID, serviceID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *mockOrchestrator) HostStatus(ctx context.Context) (*hosting.HostStatus, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*hosting.HostStatus), args.Error(1)
}

func (m *mockOrchestrator) OpenBackup(ctx context.Context, tenantID, backupID string) (*hosting.Backup, *os.File, error) {
	args := m.Called(ctx, tenantID, backupID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*hosting.Backup), args.Get(1).(*os.File), args.Error(2)
}

type mockUsage struct {
	mock.Mock
}

func (m *mockUsage) Usage(ctx context.Context, tenantID string) (*billing.Usage, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Usage), args.Error(1)
}
