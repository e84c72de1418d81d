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

// QuotaEvaluator decides whether a tenant may create another service.
// It never mutates state, so callers may retry it or call it speculatively.
type QuotaEvaluator struct {
	subs    SubscriptionRepository
	plans   PlanRepository
	counter ServiceCounter
}

// NewQuotaEvaluator creates a quota evaluator
func NewQuotaEvaluator(subs SubscriptionRepository, plans PlanRepository, counter ServiceCounter) *QuotaEvaluator {
	return &QuotaEvaluator{
		subs:    subs,
		plans:   plans,
		counter: counter,
	}
}

// Authorize returns the tenant's plan when one more service fits inside it.
// Denials wrap ErrNoActiveSubscription or a *LimitError.
func (q *QuotaEvaluator) Authorize(ctx context.Context, tenantID string) (*Plan, error) {
	usage, err := q.Usage(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if usage.Services >= usage.Plan.MaxServices {
		return nil, &LimitError{Limit: usage.Plan.MaxServices, Count: usage.Services}
	}

	return usage.Plan, nil
}

// Usage reports the tenant's authorizing plan and finalized service count.
func (q *QuotaEvaluator) Usage(ctx context.Context, tenantID string) (*Usage, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}

	sub, err := q.subs.GetActiveByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrNoActiveSubscription) {
			return nil, ErrNoActiveSubscription
		}
		return nil, fmt.Errorf("failed to look up subscription: %w", err)
	}
	if !sub.Authorizes() {
		return nil, ErrNoActiveSubscription
	}

	plan, err := q.plans.GetByID(ctx, sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan %s: %w", sub.PlanID, err)
	}

	count, err := q.counter.CountByOwner(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to count services: %w", err)
	}

	return &Usage{Plan: plan, Subscription: sub, Services: count}, nil
}
