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
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cz7host/cz7host/internal/archive"
	"github.com/cz7host/cz7host/internal/audit"
	"github.com/cz7host/cz7host/internal/id"
	"github.com/cz7host/cz7host/internal/observability/logger"
)

var errBackupsDisabled = errors.New("backups are not configured")

// CreateBackup archives the service's data directory.
func (o *Orchestrator) CreateBackup(ctx context.Context, tenantID, serviceID string) (b *Backup, err error) {
	if o.archives == nil || o.backups == nil {
		return nil, errBackupsDisabled
	}
	ctx, span := startSpan(ctx, "hosting.CreateBackup",
		attribute.String("tenant.id", tenantID),
		attribute.String("service.id", serviceID),
	)
	defer func() { endSpan(span, err) }()

	unlock, err := o.locks.Lock(ctx, serviceKey(serviceID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	svc, err := o.load(ctx, tenantID, serviceID)
	if err != nil {
		return nil, err
	}
	dataDir, err := o.dataRoot.Dir(svc.ID)
	if err != nil {
		return nil, err
	}

	res, err := o.archives.Backup(ctx, svc.ID, dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to archive service data: %w", err)
	}

	b = &Backup{
		ID:        id.NewUUIDv7(),
		ServiceID: svc.ID,
		OwnerID:   svc.OwnerID,
		Filename:  res.Name,
		SizeBytes: res.SizeBytes,
		Checksum:  res.Checksum,
		CreatedAt: res.CreatedAt,
	}
	if err := o.backups.Create(ctx, b); err != nil {
		if derr := o.archives.Delete(svc.ID, res.Name); derr != nil {
			slog.WarnContext(ctx, "failed to remove unrecorded archive",
				logger.ServiceID(svc.ID),
				logger.Archive(res.Name),
				logger.Error(derr),
			)
		}
		return nil, fmt.Errorf("failed to record backup: %w", err)
	}

	o.audit(ctx, audit.TypeBackupCreated, svc, map[string]any{
		"backup_id":  b.ID,
		"filename":   b.Filename,
		"size_bytes": b.SizeBytes,
	})
	return b, nil
}

// ListBackups returns the backups of one of the tenant's services.
func (o *Orchestrator) ListBackups(ctx context.Context, tenantID, serviceID string) ([]*Backup, error) {
	if o.backups == nil {
		return nil, errBackupsDisabled
	}
	svc, err := o.load(ctx, tenantID, serviceID)
	if err != nil {
		return nil, err
	}
	return o.backups.ListByService(ctx, svc.ID)
}

// ListTenantBackups returns every backup the tenant owns, including those
// of deleted services.
func (o *Orchestrator) ListTenantBackups(ctx context.Context, tenantID string) ([]*Backup, error) {
	if o.backups == nil {
		return nil, errBackupsDisabled
	}
	return o.backups.ListByOwner(ctx, tenantID)
}

// OpenBackup returns one of the tenant's backups with its archive opened
// for reading. Backups of deleted services remain downloadable. The caller
// closes the file.
func (o *Orchestrator) OpenBackup(ctx context.Context, tenantID, backupID string) (*Backup, *os.File, error) {
	if o.archives == nil || o.backups == nil {
		return nil, nil, errBackupsDisabled
	}
	b, err := o.loadBackup(ctx, tenantID, backupID)
	if err != nil {
		return nil, nil, err
	}
	f, err := o.archives.Open(b.ServiceID, b.Filename)
	if err != nil {
		return nil, nil, err
	}
	return b, f, nil
}

// RestoreBackup replaces the service's data directory with the backup.
// Whether the directory is cleared before or after the archive is
// validated depends on the archive store's restore mode.
func (o *Orchestrator) RestoreBackup(ctx context.Context, tenantID, backupID string) (err error) {
	if o.archives == nil || o.backups == nil {
		return errBackupsDisabled
	}
	ctx, span := startSpan(ctx, "hosting.RestoreBackup",
		attribute.String("tenant.id", tenantID),
		attribute.String("backup.id", backupID),
	)
	defer func() { endSpan(span, err) }()

	b, err := o.loadBackup(ctx, tenantID, backupID)
	if err != nil {
		return err
	}

	unlock, err := o.locks.Lock(ctx, serviceKey(b.ServiceID))
	if err != nil {
		return err
	}
	defer unlock()

	svc, err := o.load(ctx, tenantID, b.ServiceID)
	if err != nil {
		return err
	}
	dataDir, err := o.dataRoot.Ensure(svc.ID)
	if err != nil {
		return err
	}

	if err := o.archives.Restore(ctx, svc.ID, dataDir, b.Filename, b.Checksum); err != nil {
		slog.ErrorContext(ctx, "restore failed",
			logger.ServiceID(svc.ID),
			logger.BackupID(b.ID),
			logger.Archive(b.Filename),
			logger.Error(err),
		)
		return fmt.Errorf("failed to restore backup %s: %w", b.ID, err)
	}

	o.audit(ctx, audit.TypeBackupRestored, svc, map[string]any{"backup_id": b.ID, "filename": b.Filename})
	return nil
}

// DeleteBackup removes the archive and its record. A record whose archive
// is already gone is still deleted.
func (o *Orchestrator) DeleteBackup(ctx context.Context, tenantID, backupID string) error {
	if o.archives == nil || o.backups == nil {
		return errBackupsDisabled
	}

	b, err := o.loadBackup(ctx, tenantID, backupID)
	if err != nil {
		return err
	}

	unlock, err := o.locks.Lock(ctx, serviceKey(b.ServiceID))
	if err != nil {
		return err
	}
	defer unlock()

	if err := o.archives.Delete(b.ServiceID, b.Filename); err != nil {
		if !errors.Is(err, archive.ErrNotFound) {
			return fmt.Errorf("failed to delete archive: %w", err)
		}
		slog.WarnContext(ctx, "archive already missing",
			logger.BackupID(b.ID),
			logger.Archive(b.Filename),
		)
	}
	if err := o.backups.Delete(ctx, b.ID); err != nil {
		return fmt.Errorf("failed to delete backup record: %w", err)
	}

	if o.auditLogger != nil {
		o.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeBackupDeleted,
			TenantID: tenantID,
			ActorID:  tenantID,
			Resource: b.ID,
			Metadata: map[string]any{"service_id": b.ServiceID, "filename": b.Filename},
		})
	}
	return nil
}

func (o *Orchestrator) loadBackup(ctx context.Context, tenantID, backupID string) (*Backup, error) {
	b, err := o.backups.GetByID(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if b.OwnerID != tenantID {
		return nil, ErrForbidden
	}
	return b, nil
}
