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
	"time"

	"github.com/spf13/cobra"

	"github.com/cz7host/cz7host/internal/app"
	"github.com/cz7host/cz7host/internal/hosting"
	"github.com/cz7host/cz7host/internal/observability/metrics"
)

func newServicesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "Inspect hosted services",
	}
	cmd.AddCommand(newServicesListCmd(opts))
	cmd.AddCommand(newServicesProvisionalCmd(opts))
	return cmd
}

func newServicesListCmd(opts *options) *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's services with their live status",
		Long: `List a tenant's services. Status is read from the backends, so the
enabled backends must be reachable from this host.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := app.New(ctx, opts.cfg, metrics.Noop())
			if err != nil {
				return err
			}
			defer a.Close()

			views, err := a.Orchestrator.List(ctx, tenant)
			if err != nil {
				return err
			}
			if views == nil {
				views = []*hosting.ServiceView{}
			}

			rows := make([][]string, 0, len(views))
			for _, v := range views {
				handle, _ := v.Handle()
				rows = append(rows, []string{
					v.ID,
					v.Name,
					string(v.Kind),
					string(v.Status),
					handle.Value,
					v.CreatedAt.Format(time.RFC3339),
				})
			}
			return opts.printer(cmd).print(views,
				[]string{"ID", "NAME", "KIND", "STATUS", "HANDLE", "CREATED"}, rows)
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func newServicesProvisionalCmd(opts *options) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "provisional",
		Short: "List records that never received a backend handle",
		Long: `List service records still waiting for a backend handle. A record
older than any in-flight create is left over from a create whose rollback
could not finish; its backend resource, if any, needs manual cleanup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			svcs, err := s.services.ListProvisional(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			if svcs == nil {
				svcs = []*hosting.Service{}
			}

			rows := make([][]string, 0, len(svcs))
			for _, svc := range svcs {
				rows = append(rows, []string{
					svc.ID,
					svc.OwnerID,
					svc.Name,
					string(svc.Kind),
					svc.CreatedAt.Format(time.RFC3339),
				})
			}
			return opts.printer(cmd).print(svcs,
				[]string{"ID", "TENANT", "NAME", "KIND", "CREATED"}, rows)
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "Only records created before now minus this duration")

	return cmd
}
