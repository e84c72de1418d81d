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

// Package billing holds plans, subscriptions and the quota decision that
// gates service creation.
package billing

import (
	"time"
)

// Plan is a billing tier and the resource ceiling it grants.
// Edits do not resize services that already exist.
type Plan struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	PriceCents    int64     `json:"price_cents"`
	StripePriceID string    `json:"stripe_price_id"`
	RAMMB         int64     `json:"ram_mb"`
	CPUVCore      float64   `json:"cpu_vcore"`
	DiskGB        int64     `json:"disk_gb"`
	MaxServices   int       `json:"max_services"`
	CreatedAt     time.Time `json:"created_at"`
}

// Plan defaults for fields an operator leaves unset.
const (
	DefaultRAMMB       = 256
	DefaultCPUVCore    = 0.5
	DefaultDiskGB      = 1
	DefaultMaxServices = 1
)

// SubscriptionStatus mirrors the payment provider's subscription state.
type SubscriptionStatus string

const (
	StatusActive     SubscriptionStatus = "active"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusIncomplete SubscriptionStatus = "incomplete"
	StatusPastDue    SubscriptionStatus = "past_due"
)

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusCanceled, StatusIncomplete, StatusPastDue:
		return true
	}
	return false
}

// Subscription binds a tenant to one plan.
type Subscription struct {
	ID                   string             `json:"id"`
	TenantID             string             `json:"tenant_id"`
	PlanID               string             `json:"plan_id"`
	StripeSubscriptionID string             `json:"stripe_subscription_id"`
	Status               SubscriptionStatus `json:"status"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Authorizes reports whether the subscription allows new services.
func (s *Subscription) Authorizes() bool {
	return s.Status == StatusActive
}

// Usage is a tenant's plan together with its current service count.
type Usage struct {
	Plan         *Plan         `json:"plan"`
	Subscription *Subscription `json:"subscription"`
	Services     int           `json:"services"`
}

// Remaining returns how many more services the plan admits.
func (u *Usage) Remaining() int {
	if u.Plan == nil {
		return 0
	}
	if r := u.Plan.MaxServices - u.Services; r > 0 {
		return r
	}
	return 0
}
