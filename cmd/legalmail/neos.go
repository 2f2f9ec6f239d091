// Copyright (c) 2026 John Earle
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

	"github.com/spf13/cobra"

	"github.com/bcem/legalmail/internal/app"
)

func newNeosTokenCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "neos-token",
		Short: "Check the case-management credentials",
		Long: `Request an access token from the NEOS auth endpoint using the
configured company, integration and API key. The token itself is not
printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			if !cfg.Neos.Enabled() {
				return errors.New("NEOS_AUTH_URL and NEOS_API_KEY must be set")
			}

			token, err := app.NewNeosClient(cfg).Authenticate(cmd.Context())
			if err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token acquired (%d characters)\n", len(token))
			return nil
		},
	}
}
