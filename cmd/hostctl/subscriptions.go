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


package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cz7host/cz7host/internal/billing"
)

// defaultPeriod is used when --period-end is not given.
const defaultPeriod = 30 * 24 * time.Hour

func newSubscriptionsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscriptions",
		Aliases: []string{"subs"},
		Short:   "Bind tenants to plans",
	}
	cmd.AddCommand(newSubscriptionsSetCmd(opts))
	cmd.AddCommand(newSubscriptionsShowCmd(opts))
	return cmd
}

func newSubscriptionsSetCmd(opts *options) *cobra.Command {
	var (
		plan       string
		status     string
		providerID string
		periodEnd  string
	)

	cmd := &cobra.Command{
		Use:   "set <tenant-id>",
		Short: "Create or replace a tenant's subscription",
		Long: `Bind a tenant to a plan. Only an active subscription authorizes new
services. --provider-id defaults to "manual-<tenant-id>", so repeated calls
for the same tenant replace the same record.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := billing.SubscriptionStatus(status)
			if !st.Valid() {
				return fmt.Errorf("unknown status %q (want active, canceled, incomplete or past_due)", status)
			}
			end, err := parsePeriodEnd(periodEnd, time.Now())
			if err != nil {
				return err
			}

			s, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			sub, err := s.billing.SetSubscription(cmd.Context(), args[0], plan, providerID, st, end)
			if err != nil {
				return err
			}
			return printSubscription(opts.printer(cmd), sub, plan, nil)
		},
	}

	cmd.Flags().StringVar(&plan, "plan", "", "Plan name")
	cmd.Flags().StringVar(&status, "status", string(billing.StatusActive), "Subscription status")
	cmd.Flags().StringVar(&providerID, "provider-id", "", "Payment provider subscription id")
	cmd.Flags().StringVar(&periodEnd, "period-end", "", "End of the current period (RFC 3339 or a duration from now)")
	_ = cmd.MarkFlagRequired("plan")

	return cmd
}

func newSubscriptionsShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <tenant-id>",
		Short: "Show a tenant's subscription and usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			sub, err := s.billing.GetSubscription(ctx, args[0])
			if err != nil {
				return err
			}
			plan, err := s.plans.GetByID(ctx, sub.PlanID)
			if err != nil {
				return err
			}

			usage, err := s.quota.Usage(ctx, args[0])
			if err != nil && !errors.Is(err, billing.ErrNoActiveSubscription) {
				return err
			}
			return printSubscription(opts.printer(cmd), sub, plan.Name, usage)
		},
	}
}

type subscriptionView struct {
	*billing.Subscription
	Plan  string         `json:"plan"`
	Usage *billing.Usage `json:"usage,omitempty"`
}

func printSubscription(p *printer, sub *billing.Subscription, plan string, usage *billing.Usage) error {
	services, remaining := "-", "-"
	if usage != nil {
		services = strconv.Itoa(usage.Services)
		remaining = strconv.Itoa(usage.Remaining())
	}
	row := []string{
		sub.TenantID,
		plan,
		string(sub.Status),
		sub.CurrentPeriodEnd.Format(time.RFC3339),
		services,
		remaining,
	}
	return p.print(subscriptionView{Subscription: sub, Plan: plan, Usage: usage},
		[]string{"TENANT", "PLAN", "STATUS", "PERIOD END", "SERVICES", "REMAINING"},
		[][]string{row})
}

// parsePeriodEnd accepts an RFC 3339 time or a duration added to now.
func parsePeriodEnd(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now.Add(defaultPeriod), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --period-end %q: want RFC 3339 or a duration", s)
	}
	return now.Add(d), nil
}
