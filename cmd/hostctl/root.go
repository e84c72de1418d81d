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
	"context"

	"github.com/spf13/cobra"

	"github.com/cz7host/cz7host/internal/app"
	"github.com/cz7host/cz7host/internal/audit"
	"github.com/cz7host/cz7host/internal/billing"
	"github.com/cz7host/cz7host/internal/config"
	"github.com/cz7host/cz7host/internal/observability/logger"
	"github.com/cz7host/cz7host/internal/store/postgres"
)

// options is shared by every subcommand.
type options struct {
	output string
	cfg    *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "hostctl",
		Short: "Operate a cz7host installation",
		Long: `hostctl manages the parts of cz7host that have no tenant-facing API:
the database schema, billing plans, tenant subscriptions and API tokens.
It reads the same environment variables as the server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := parseFormat(opts.output); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger.InitLogger(logger.Config{
				Level:       cfg.Observability.LogLevel,
				Format:      "text",
				ServiceName: cfg.Observability.ServiceName,
				Output:      cmd.ErrOrStderr(),
				DisableOTel: true,
			})
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", string(formatTable), "Output format (table, json, yaml)")

	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newPlansCmd(opts))
	cmd.AddCommand(newSubscriptionsCmd(opts))
	cmd.AddCommand(newServicesCmd(opts))
	cmd.AddCommand(newTokenCmd(opts))

	return cmd
}

// billingStore is the database-only wiring used by the billing commands.
type billingStore struct {
	db       *postgres.DB
	plans    *postgres.PlanRepository
	subs     *postgres.SubscriptionRepository
	services *postgres.ServiceRepository
	billing  *billing.Service
	quota    *billing.QuotaEvaluator
}

func (o *options) openStore(ctx context.Context) (*billingStore, error) {
	db, err := app.OpenDB(ctx, o.cfg.Database)
	if err != nil {
		return nil, err
	}
	s := &billingStore{
		db:       db,
		plans:    postgres.NewPlanRepository(db),
		subs:     postgres.NewSubscriptionRepository(db),
		services: postgres.NewServiceRepository(db),
	}
	s.billing = billing.NewService(s.plans, s.subs, audit.NewSlogLogger())
	s.quota = billing.NewQuotaEvaluator(s.subs, s.plans, s.services)
	return s, nil
}

func (s *billingStore) Close() {
	s.db.Close()
}

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := app.OpenDB(ctx, opts.cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
				return err
			}
			cmd.Println("Migration successful.")
			return nil
		},
	}
}
