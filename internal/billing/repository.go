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

package billing

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrPlanNotFound         = errors.New("plan not found")
	ErrPlanAlreadyExists    = errors.New("plan already exists")
	ErrInvalidPlan          = errors.New("invalid plan")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidSubscription  = errors.New("invalid subscription")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrLimitReached         = errors.New("limit reached")
)

// LimitError is returned when a tenant already holds Limit services.
type LimitError struct {
	Limit int
	Count int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("limit reached: plan allows %d service(s), tenant has %d", e.Limit, e.Count)
}

func (e *LimitError) Unwrap() error {
	return ErrLimitReached
}

// PlanRepository persists plans.
type PlanRepository interface {
	Create(ctx context.Context, plan *Plan) error
	GetByID(ctx context.Context, id string) (*Plan, error)
	GetByName(ctx context.Context, name string) (*Plan, error)
	List(ctx context.Context) ([]*Plan, error)
}

// SubscriptionRepository persists subscriptions.
type SubscriptionRepository interface {
	// Upsert inserts or replaces the subscription keyed by its provider id.
	Upsert(ctx context.Context, sub *Subscription) error
	// GetActiveByTenant returns the authorizing subscription, or
	// ErrNoActiveSubscription.
	GetActiveByTenant(ctx context.Context, tenantID string) (*Subscription, error)
	// GetLatestByTenant returns the most recently updated subscription
	// regardless of status.
	GetLatestByTenant(ctx context.Context, tenantID string) (*Subscription, error)
}

// ServiceCounter counts a tenant's finalized services. Provisional records
// must not be counted.
type ServiceCounter interface {
	CountByOwner(ctx context.Context, ownerID string) (int, error)
}
