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
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bcem/legalmail/internal/app"
	"github.com/bcem/legalmail/internal/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCmd creates the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "legalmail",
		Short: "Templated client email delivery for case intake",
		Long: `legalmail merges client records into email templates, delivers them
through Microsoft Graph or SMTP and records each delivery in the
per-tenant delivery log and the case-management system.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default is $CONFIG_PATH)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug|info|warn|error)")

	cmd.AddCommand(newSendBatchCmd(opts))
	cmd.AddCommand(newNeosTokenCmd(opts))

	return cmd
}

// load reads configuration and installs the stderr JSON logger. Logs go
// to stderr so command output stays parseable.
func (o *rootOptions) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	logger := app.NewLogger(os.Stderr, level)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
