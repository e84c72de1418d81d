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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	transportHTTP "github.com/cz7host/cz7host/internal/transport/http"
)

func newTokenCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue API tokens",
	}
	cmd.AddCommand(newTokenIssueCmd(opts))
	return cmd
}

type tokenView struct {
	Tenant    string    `json:"tenant"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newTokenIssueCmd(opts *options) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "issue <tenant-id>",
		Short: "Issue a bearer token for a tenant",
		Long: `Issue an HS256 bearer token signed with JWT_SECRET. The token's subject
is the tenant id the API acts for.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}
			v := transportHTTP.NewTokenVerifier(opts.cfg.Security.JWTSecret, opts.cfg.Security.JWTIssuer)
			token, err := v.Issue(args[0], ttl)
			if err != nil {
				return err
			}

			p := opts.printer(cmd)
			if p.format == formatTable {
				_, err := fmt.Fprintln(p.w, token)
				return err
			}
			return p.print(tokenView{Tenant: args[0], Token: token, ExpiresAt: time.Now().Add(ttl).UTC()}, nil, nil)
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")

	return cmd
}
