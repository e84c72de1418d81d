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
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cz7host/cz7host/internal/billing"
)

// PlanRepository implements billing.PlanRepository
type PlanRepository struct {
	db *DB
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db *DB) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `id, name, price_cents, stripe_price_id, ram_mb, cpu_vcore, disk_gb, max_services, created_at`

// Create inserts a plan
func (r *PlanRepository) Create(ctx context.Context, plan *billing.Plan) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		plan.ID, plan.Name, plan.PriceCents, plan.StripePriceID,
		plan.RAMMB, plan.CPUVCore, plan.DiskGB, plan.MaxServices, plan.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return billing.ErrPlanAlreadyExists
		}
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

// GetByID retrieves a plan by ID
func (r *PlanRepository) GetByID(ctx context.Context, id string) (*billing.Plan, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

// GetByName retrieves a plan by name
func (r *PlanRepository) GetByName(ctx context.Context, name string) (*billing.Plan, error) {
	return r.get(ctx, `WHERE name = $1`, name)
}

func (r *PlanRepository) get(ctx context.Context, where, arg string) (*billing.Plan, error) {
	var p billing.Plan
	err := r.db.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM plans `+where, arg).Scan(
		&p.ID, &p.Name, &p.PriceCents, &p.StripePriceID,
		&p.RAMMB, &p.CPUVCore, &p.DiskGB, &p.MaxServices, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return &p, nil
}

// List returns every plan ordered by price
func (r *PlanRepository) List(ctx context.Context) ([]*billing.Plan, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT `+planColumns+` FROM plans ORDER BY price_cents ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []*billing.Plan
	for rows.Next() {
		var p billing.Plan
		if err := rows.Scan(
			&p.ID, &p.Name, &p.PriceCents, &p.StripePriceID,
			&p.RAMMB, &p.CPUVCore, &p.DiskGB, &p.MaxServices, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, &p)
	}
	return plans, rows.Err()
}

// SubscriptionRepository implements billing.SubscriptionRepository
type SubscriptionRepository struct {
	db *DB
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `id, tenant_id, plan_id, stripe_subscription_id, status, current_period_end, created_at, updated_at`

// Upsert inserts a subscription or updates the one with the same provider id.
// The stored id and creation time are written back to sub.
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *billing.Subscription) error {
	err := r.db.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			plan_id = EXCLUDED.plan_id,
			status = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`,
		sub.ID, sub.TenantID, sub.PlanID, sub.StripeSubscriptionID, string(sub.Status),
		sub.CurrentPeriodEnd, sub.CreatedAt, sub.UpdatedAt,
	).Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// GetActiveByTenant returns the active subscription with the latest period end
func (r *SubscriptionRepository) GetActiveByTenant(ctx context.Context, tenantID string) (*billing.Subscription, error) {
	sub, err := r.get(ctx, `
		WHERE tenant_id = $1 AND status = 'active'
		ORDER BY current_period_end DESC
		LIMIT 1
	`, tenantID)
	if errors.Is(err, billing.ErrSubscriptionNotFound) {
		return nil, billing.ErrNoActiveSubscription
	}
	return sub, err
}

// GetLatestByTenant returns the most recently updated subscription
func (r *SubscriptionRepository) GetLatestByTenant(ctx context.Context, tenantID string) (*billing.Subscription, error) {
	return r.get(ctx, `
		WHERE tenant_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, tenantID)
}

func (r *SubscriptionRepository) get(ctx context.Context, clause, tenantID string) (*billing.Subscription, error) {
	var (
		sub    billing.Subscription
		status string
	)
	err := r.db.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions `+clause, tenantID).Scan(
		&sub.ID, &sub.TenantID, &sub.PlanID, &sub.StripeSubscriptionID, &status,
		&sub.CurrentPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	sub.Status = billing.SubscriptionStatus(status)
	return &sub, nil
}
