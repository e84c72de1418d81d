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


package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cz7host/cz7host/internal/hosting"
	"github.com/cz7host/cz7host/internal/id"
)

// BackupRepository implements hosting.BackupRepository
type BackupRepository struct {
	db *DB
}

// NewBackupRepository creates a new backup repository
func NewBackupRepository(db *DB) *BackupRepository {
	return &BackupRepository{db: db}
}

const backupColumns = `id, service_id, owner_id, filename, size_bytes, checksum, created_at`

// Create records a backup archive
func (r *BackupRepository) Create(ctx context.Context, b *hosting.Backup) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO backups (`+backupColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, b.ID, b.ServiceID, b.OwnerID, b.Filename, b.SizeBytes, b.Checksum, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert backup: %w", err)
	}
	return nil
}

// GetByID retrieves a backup by ID
func (r *BackupRepository) GetByID(ctx context.Context, backupID string) (*hosting.Backup, error) {
	if !id.Valid(backupID) {
		return nil, hosting.ErrNotFound
	}
	var b hosting.Backup
	err := r.db.pool.QueryRow(ctx, `SELECT `+backupColumns+` FROM backups WHERE id = $1`, backupID).Scan(
		&b.ID, &b.ServiceID, &b.OwnerID, &b.Filename, &b.SizeBytes, &b.Checksum, &b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, hosting.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get backup: %w", err)
	}
	return &b, nil
}

// ListByService lists a service's backups, newest first
func (r *BackupRepository) ListByService(ctx context.Context, serviceID string) ([]*hosting.Backup, error) {
	return r.list(ctx, `WHERE service_id = $1`, serviceID)
}

// ListByOwner lists every backup an owner holds, newest first
func (r *BackupRepository) ListByOwner(ctx context.Context, ownerID string) ([]*hosting.Backup, error) {
	return r.list(ctx, `WHERE owner_id = $1`, ownerID)
}

func (r *BackupRepository) list(ctx context.Context, where string, arg string) ([]*hosting.Backup, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+backupColumns+` FROM backups `+where+`
		ORDER BY created_at DESC, id DESC
	`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	backups, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*hosting.Backup, error) {
		var b hosting.Backup
		err := row.Scan(&b.ID, &b.ServiceID, &b.OwnerID, &b.Filename, &b.SizeBytes, &b.Checksum, &b.CreatedAt)
		return &b, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan backups: %w", err)
	}
	return backups, nil
}

// Delete removes a backup record
func (r *BackupRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM backups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	if result.RowsAffected() == 0 {
		return hosting.ErrNotFound
	}
	return nil
}
