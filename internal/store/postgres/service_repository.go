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
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cz7host/cz7host/internal/backend"
	"github.com/cz7host/cz7host/internal/hosting"
	"github.com/cz7host/cz7host/internal/id"
)

// ServiceRepository implements hosting.Repository
type ServiceRepository struct {
	db *DB
}

// NewServiceRepository creates a new service repository
func NewServiceRepository(db *DB) *ServiceRepository {
	return &ServiceRepository{db: db}
}

const serviceColumns = `id, owner_id, name, kind, container_id, domain_name, created_at`

// Create inserts a provisional service record
func (r *ServiceRepository) Create(ctx context.Context, svc *hosting.Service) error {
	if svc.CreatedAt.IsZero() {
		svc.CreatedAt = time.Now()
	}
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO services (id, owner_id, name, kind, container_id, domain_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, svc.ID, svc.OwnerID, svc.Name, string(svc.Kind), svc.ContainerID, svc.DomainName, svc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert service: %w", err)
	}
	return nil
}

// GetByID retrieves a service by ID
func (r *ServiceRepository) GetByID(ctx context.Context, serviceID string) (*hosting.Service, error) {
	if !id.Valid(serviceID) {
		return nil, hosting.ErrNotFound
	}
	row := r.db.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, serviceID)
	svc, err := scanService(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, hosting.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return svc, nil
}

// AttachHandle sets the backend handle on a provisional record. The WHERE
// clause makes the write conditional so a handle is never overwritten.
func (r *ServiceRepository) AttachHandle(ctx context.Context, id string, h hosting.Handle) error {
	var column string
	switch h.Backend {
	case backend.KindContainer:
		column = "container_id"
	case backend.KindHypervisor:
		column = "domain_name"
	default:
		return fmt.Errorf("unknown backend kind %q", h.Backend)
	}

	result, err := r.db.pool.Exec(ctx, `
		UPDATE services SET `+column+` = $2
		WHERE id = $1 AND container_id IS NULL AND domain_name IS NULL
	`, id, h.Value)
	if err != nil {
		return fmt.Errorf("failed to attach handle: %w", err)
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM services WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check service: %w", err)
	}
	if !exists {
		return hosting.ErrNotFound
	}
	return hosting.ErrHandleAttached
}

// Delete removes a service record
func (r *ServiceRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM services WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	if result.RowsAffected() == 0 {
		return hosting.ErrNotFound
	}
	return nil
}

// ListByOwner lists an owner's finalized services, oldest first
func (r *ServiceRepository) ListByOwner(ctx context.Context, ownerID string) ([]*hosting.Service, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE owner_id = $1 AND (container_id IS NOT NULL OR domain_name IS NOT NULL)
		ORDER BY created_at ASC, id ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var services []*hosting.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

// CountByOwner counts an owner's finalized services
func (r *ServiceRepository) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := r.db.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM services
		WHERE owner_id = $1 AND (container_id IS NOT NULL OR domain_name IS NOT NULL)
	`, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count services: %w", err)
	}
	return n, nil
}

// ListProvisional returns records whose handle was never attached and that
// are older than cutoff.
func (r *ServiceRepository) ListProvisional(ctx context.Context, cutoff time.Time) ([]*hosting.Service, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE container_id IS NULL AND domain_name IS NULL AND created_at < $1
		ORDER BY created_at ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list provisional services: %w", err)
	}
	defer rows.Close()

	var services []*hosting.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

func scanService(row pgx.Row) (*hosting.Service, error) {
	var (
		svc  hosting.Service
		kind string
	)
	if err := row.Scan(
		&svc.ID, &svc.OwnerID, &svc.Name, &kind,
		&svc.ContainerID, &svc.DomainName, &svc.CreatedAt,
	); err != nil {
		return nil, err
	}
	svc.Kind = hosting.Kind(kind)
	return &svc, nil
}
