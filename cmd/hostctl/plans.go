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
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cz7host/cz7host/internal/billing"
)

func newPlansCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "Manage billing plans",
	}
	cmd.AddCommand(newPlansCreateCmd(opts))
	cmd.AddCommand(newPlansListCmd(opts))
	return cmd
}

func newPlansCreateCmd(opts *options) *cobra.Command {
	plan := &billing.Plan{}

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a plan",
		Long: `Create a billing plan. Resource fields left unset take the defaults
(256 MB RAM, 0.5 vCPU, 1 GB disk, one service).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan.Name = args[0]

			s, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			created, err := s.billing.CreatePlan(cmd.Context(), plan)
			if err != nil {
				return err
			}
			return printPlans(opts.printer(cmd), created, []*billing.Plan{created})
		},
	}

	cmd.Flags().StringVar(&plan.StripePriceID, "stripe-price", "", "Payment provider price id")
	cmd.Flags().Int64Var(&plan.PriceCents, "price-cents", 0, "Monthly price in cents")
	cmd.Flags().Int64Var(&plan.RAMMB, "ram-mb", 0, "Memory per service in MB")
	cmd.Flags().Float64Var(&plan.CPUVCore, "cpu", 0, "vCPU per service")
	cmd.Flags().Int64Var(&plan.DiskGB, "disk-gb", 0, "Disk per service in GB")
	cmd.Flags().IntVar(&plan.MaxServices, "max-services", 0, "Maximum services per tenant")
	_ = cmd.MarkFlagRequired("stripe-price")

	return cmd
}

func newPlansListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			plans, err := s.billing.ListPlans(cmd.Context())
			if err != nil {
				return err
			}
			if plans == nil {
				plans = []*billing.Plan{}
			}
			return printPlans(opts.printer(cmd), plans, plans)
		},
	}
}

func printPlans(p *printer, v any, plans []*billing.Plan) error {
	rows := make([][]string, 0, len(plans))
	for _, plan := range plans {
		rows = append(rows, []string{
			plan.Name,
			strconv.FormatInt(plan.PriceCents, 10),
			strconv.FormatInt(plan.RAMMB, 10),
			strconv.FormatFloat(plan.CPUVCore, 'g', -1, 64),
			strconv.FormatInt(plan.DiskGB, 10),
			strconv.Itoa(plan.MaxServices),
		})
	}
	return p.print(v, []string{"NAME", "PRICE", "RAM MB", "CPU", "DISK GB", "MAX SERVICES"}, rows)
}
