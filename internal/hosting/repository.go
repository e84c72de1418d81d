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
	"os"

	"github.com/cz7host/cz7host/internal/archive"
	"github.com/cz7host/cz7host/internal/backend"
	"github.com/cz7host/cz7host/internal/billing"
	"github.com/cz7host/cz7host/internal/storage"
)

// Domain errors
var (
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrUnsupportedKind    = errors.New("unsupported service kind")
	ErrProvisioningFailed = errors.New("provisioning failed")
	ErrBackendError       = errors.New("backend error")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidName        = errors.New("invalid service name")
	ErrHandleAttached     = errors.New("service handle already attached")
	ErrNoConsole          = errors.New("service has no console output")
)

// Repository persists service records.
type Repository interface {
	Create(ctx context.Context, svc *Service) error
	// GetByID returns the record, provisional or not, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*Service, error)
	// AttachHandle finalizes a provisional record. It fails with
	// ErrHandleAttached if a handle is already set and ErrNotFound if the
	// record is gone.
	AttachHandle(ctx context.Context, id string, h Handle) error
	Delete(ctx context.Context, id string) error
	// ListByOwner returns finalized services, oldest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*Service, error)
	// CountByOwner counts finalized services.
	CountByOwner(ctx context.Context, ownerID string) (int, error)
}

// BackupRepository persists backup records.
type BackupRepository interface {
	Create(ctx context.Context, b *Backup) error
	GetByID(ctx context.Context, id string) (*Backup, error)
	ListByService(ctx context.Context, serviceID string) ([]*Backup, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Backup, error)
	Delete(ctx context.Context, id string) error
}

// Backend is the capability contract of a compute adapter. Start, Stop and
// Remove wrap backend.ErrNotFound when the resource is absent.
type Backend interface {
	Kind() string
	Provision(ctx context.Context, req backend.ProvisionRequest) (string, error)
	Start(ctx context.Context, handle string) error
	Stop(ctx context.Context, handle string) error
	Remove(ctx context.Context, handle string) error
	Status(ctx context.Context, handle string) (string, error)
}

// LogStreamer is implemented by backends whose resources expose console
// output. The returned stream is plain text.
type LogStreamer interface {
	Logs(ctx context.Context, handle string, opts backend.LogOptions) (io.ReadCloser, error)
}

// HostReporter is implemented by backends that can describe the host.
type HostReporter interface {
	HostInfo(ctx context.Context) (backend.HostInfo, error)
}

// QuotaAuthorizer approves or denies one more service for a tenant.
type QuotaAuthorizer interface {
	Authorize(ctx context.Context, tenantID string) (*billing.Plan, error)
}

// DataRoot locates per-service data directories and gives confined access
// to the files inside them.
type DataRoot interface {
	Dir(serviceID string) (string, error)
	Ensure(serviceID string) (string, error)
	RemoveAll(serviceID string) error
	List(serviceID, rel string) ([]storage.FileInfo, error)
	Read(serviceID, rel string) ([]byte, error)
	Write(serviceID, rel string, content []byte) error
	Delete(serviceID, rel string) error
}

// ArchiveStore snapshots and restores data directories.
type ArchiveStore interface {
	Backup(ctx context.Context, serviceID, dataDir string) (*archive.Result, error)
	Restore(ctx context.Context, serviceID, dataDir, name, checksum string) error
	Delete(serviceID, name string) error
	Open(serviceID, name string) (*os.File, error)
}
