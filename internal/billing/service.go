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
	"time"

	"github.com/cz7host/cz7host/internal/audit"
	"github.com/cz7host/cz7host/internal/id"
)

// Service administers plans and subscription bindings.
type Service struct {
	plans       PlanRepository
	subs        SubscriptionRepository
	auditLogger audit.Logger
}

// NewService creates a new billing service
func NewService(plans PlanRepository, subs SubscriptionRepository, auditLogger audit.Logger) *Service {
	return &Service{
		plans:       plans,
		subs:        subs,
		auditLogger: auditLogger,
	}
}

// CreatePlan validates and stores a new plan. Zero resource fields take the
// package defaults.
func (s *Service) CreatePlan(ctx context.Context, plan *Plan) (*Plan, error) {
	if plan.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidPlan)
	}
	if plan.StripePriceID == "" {
		return nil, fmt.Errorf("%w: stripe price id is required", ErrInvalidPlan)
	}
	if plan.PriceCents < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidPlan)
	}
	if plan.RAMMB == 0 {
		plan.RAMMB = DefaultRAMMB
	}
	if plan.CPUVCore == 0 {
		plan.CPUVCore = DefaultCPUVCore
	}
	if plan.DiskGB == 0 {
		plan.DiskGB = DefaultDiskGB
	}
	if plan.MaxServices == 0 {
		plan.MaxServices = DefaultMaxServices
	}
	if plan.RAMMB < 0 || plan.CPUVCore < 0 || plan.DiskGB < 0 || plan.MaxServices < 0 {
		return nil, fmt.Errorf("%w: resource limits must be positive", ErrInvalidPlan)
	}

	if _, err := s.plans.GetByName(ctx, plan.Name); err == nil {
		return nil, ErrPlanAlreadyExists
	} else if !errors.Is(err, ErrPlanNotFound) {
		return nil, fmt.Errorf("failed to check plan name: %w", err)
	}

	plan.ID = id.NewUUIDv7()
	plan.CreatedAt = time.Now()

	if err := s.plans.Create(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypePlanCreated,
		Resource: plan.ID,
		Metadata: map[string]any{"name": plan.Name, "max_services": plan.MaxServices},
	})

	return plan, nil
}

// ListPlans returns every plan.
func (s *Service) ListPlans(ctx context.Context) ([]*Plan, error) {
	return s.plans.List(ctx)
}

// SetSubscription binds a tenant to the named plan. An existing record with
// the same provider id is replaced.
func (s *Service) SetSubscription(ctx context.Context, tenantID, planName, providerID string, status SubscriptionStatus, periodEnd time.Time) (*Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInvalidSubscription)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidSubscription, status)
	}
	if providerID == "" {
		providerID = "manual-" + tenantID
	}

	plan, err := s.plans.GetByName(ctx, planName)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sub := &Subscription{
		ID:                   id.NewUUIDv7(),
		TenantID:             tenantID,
		PlanID:               plan.ID,
		StripeSubscriptionID: providerID,
		Status:               status,
		CurrentPeriodEnd:     periodEnd,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.subs.Upsert(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to store subscription: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeSubscriptionSet,
		TenantID: tenantID,
		Resource: sub.StripeSubscriptionID,
		Metadata: map[string]any{"plan": plan.Name, "status": string(status)},
	})

	return sub, nil
}

// GetSubscription returns the tenant's most recent subscription.
func (s *Service) GetSubscription(ctx context.Context, tenantID string) (*Subscription, error) {
	return s.subs.GetLatestByTenant(ctx, tenantID)
}
