// Copyright 2025 Emiliano Spinella (eminwux)
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
//
// SPDX-License-Identifier: Apache-2.0

package rvctl

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/eminwux/rendervisor/cmd/config"
	"github.com/eminwux/rendervisor/internal/discovery"
	"github.com/eminwux/rendervisor/internal/env"
	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/internal/logging"
	"github.com/eminwux/rendervisor/pkg/api"
	"github.com/eminwux/rendervisor/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	outputKey  = "rvctl.output"
	timeoutKey = "rvctl.timeout"

	defaultTimeout = 30 * time.Second
)

//nolint:gochecknoglobals // replaced in tests
var dial = client.Dial

func NewRvctlRootCmd() *cobra.Command {
	// rootCmd represents the base command when called without any subcommands.
	rootCmd := &cobra.Command{
		Use:   "rvctl",
		Short: "rvctl talks to a running rendervisor",
		Long: `rvctl sends one command to a running rendervisor over its command
channel and prints the response.

Examples:
  rvctl server-status
  rvctl start
  rvctl status 2 -o json
  rvctl stop --last
  rvctl shutdown
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadConfig(); err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			return logging.SetupLogger(cmd, viper.GetString(env.LOG_FILE.ViperKey), viper.GetString(env.LOG_LEVEL.ViperKey))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			logging.CloseFromContext(cmd.Context())
			return nil
		},
	}

	setupRootCmd(rootCmd)
	return rootCmd
}

func setupRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(NewServerStatusCmd())
	rootCmd.AddCommand(NewStatusCmd())
	rootCmd.AddCommand(NewStartCmd())
	rootCmd.AddCommand(NewStopCmd())
	rootCmd.AddCommand(NewShutdownCmd())
	rootCmd.AddCommand(NewEventsCmd())

	flags := rootCmd.PersistentFlags()
	config.BindFlag(flags, "config", "config file (default is $HOME/.rendervisor/config.yaml)", env.CONFIG_FILE)
	config.BindFlag(flags, "address", "Control address of the supervisor", env.CONTROL_ADDRESS)
	config.BindFlag(flags, "log-level", "Log level (debug, info, warn, error)", env.LOG_LEVEL)
	config.BindFlag(flags, "log-file", "Optional log file (default is stderr)", env.LOG_FILE)

	flags.StringP("output", "o", "", "Output format: json|yaml (default: human-readable)")
	_ = viper.BindPFlag(outputKey, flags.Lookup("output"))
	_ = rootCmd.RegisterFlagCompletionFunc(
		"output",
		func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
			return []string{"json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
		},
	)

	flags.Duration("timeout", defaultTimeout, "How long to wait for the supervisor")
	_ = viper.BindPFlag(timeoutKey, flags.Lookup("timeout"))
}

type requestFunc func(ctx context.Context, c client.Client) (*api.Response, error)

// withClient dials the supervisor, runs fn and prints whatever response it
// got back, failed requests included.
func withClient(cmd *cobra.Command, fn requestFunc) error {
	logger, ok := logging.FromContext(cmd.Context())
	if !ok {
		return errdefs.ErrLoggerNotFound
	}

	format, err := outputFormat()
	if err != nil {
		return err
	}

	timeout := viper.GetDuration(timeoutKey)
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	c, err := dialSupervisor(ctx, logger)
	if err != nil {
		return err
	}
	defer closeClient(logger, c)

	resp, errReq := fn(ctx, c)
	if resp != nil {
		if errP := discovery.PrintFormatted(cmd.OutOrStdout(), resp, format); errP != nil {
			return errP
		}
	}
	return errReq
}

func dialSupervisor(ctx context.Context, logger *slog.Logger) (client.Client, error) {
	addr := viper.GetString(env.CONTROL_ADDRESS.ViperKey)
	if addr == "" {
		addr = env.CONTROL_ADDRESS.Default
	}
	logger.DebugContext(ctx, "dialing supervisor", "addr", addr)
	return dial(ctx, addr, client.WithLogger(logger))
}

func closeClient(logger *slog.Logger, c client.Client) {
	if err := c.Close(); err != nil {
		logger.Debug("closing client failed", "error", err)
	}
}

func outputFormat() (string, error) {
	format := viper.GetString(outputKey)
	switch format {
	case "", "json", "yaml":
		return format, nil
	default:
		return "", fmt.Errorf("%w: unknown output format %q (use json|yaml)", errdefs.ErrInvalidFlag, format)
	}
}

func parseID(arg string) (api.ID, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a session id", errdefs.ErrInvalidArgument, arg)
	}
	return api.ID(n), nil
}

// completeIDs offers the identities found under the instances root.
func completeIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	logger, _ := logging.FromContext(cmd.Context())
	ids, err := config.AutoCompleteListInstanceIDs(cmd.Context(), logger)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.HasPrefix(id, toComplete) {
			out = append(out, id)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}
