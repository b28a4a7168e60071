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

package provision

import (
	"fmt"
	"log/slog"

	"github.com/eminwux/rendervisor/cmd/config"
	"github.com/eminwux/rendervisor/internal/env"
	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/internal/logging"
	"github.com/eminwux/rendervisor/internal/provision"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Command      string = "provision"
	CommandAlias string = "p"

	dryRunKey = "rendervisor.provision.dryRun"
)

//nolint:gochecknoglobals // replaced in tests
var newProvisioner = provision.NewProvisioner

func NewProvisionCmd() *cobra.Command {
	// provisionCmd represents the provision command.
	provisionCmd := &cobra.Command{
		Use:     Command,
		Aliases: []string{CommandAlias},
		Short:   "Create the next instance directory from the template",
		Long: `Create the next instance directory from the template instance.

The new instance gets the next free identity, command port and stream
identifier. Nothing is written unless the shared storage variable is set
and the filesystem has room for the copy. A failed copy leaves nothing
behind.

Examples:
  rendervisor provision
  rendervisor provision --dry-run
  OPENSPACE_SYNC=/data/sync rendervisor provision --headroom 1GiB
`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		PreRunE:      setupLogger,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, ok := logging.FromContext(cmd.Context())
			if !ok {
				return errdefs.ErrLoggerNotFound
			}

			cfg, err := config.ProvisionConfig()
			if err != nil {
				return err
			}
			logger.DebugContext(cmd.Context(), "provision config values",
				"root", cfg.Layout.Root,
				"sync_env", cfg.SyncEnv,
				"headroom", cfg.Headroom,
				"port_base", cfg.PortBase,
				"stream_base", cfg.StreamBase,
				"copy_dirs", cfg.CopyDirs,
				"copy_files", cfg.CopyFiles,
			)

			p := newProvisioner(logger, cfg)
			if viper.GetBool(dryRunKey) {
				plan, errP := p.Plan(cmd.Context())
				if errP != nil {
					return errP
				}
				return provision.WritePlan(cmd.OutOrStdout(), plan)
			}

			plan, err := p.Provision(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "provisioned instance %d in %s (port %d, stream %d)\n",
				plan.ID, plan.Dir, plan.Port, plan.StreamID)
			return nil
		},
		PostRunE: closeLogger,
	}

	setupProvisionCmdFlags(provisionCmd)
	provisionCmd.AddCommand(NewListCmd())
	return provisionCmd
}

func setupProvisionCmdFlags(provisionCmd *cobra.Command) {
	flags := provisionCmd.Flags()
	flags.Bool("dry-run", false, "Print the plan as YAML without creating anything")
	_ = viper.BindPFlag(dryRunKey, flags.Lookup("dry-run"))

	config.BindFlag(flags, "sync-env", "Environment variable naming the shared storage dir", env.PROVISION_SYNC_ENV)
	config.BindFlag(flags, "headroom", "Free space to keep after the copy, e.g. 512MiB", env.PROVISION_HEADROOM)
	config.BindFlag(flags, "port-base", "Lowest command port to allocate", env.PROVISION_PORT_BASE)
	config.BindFlag(flags, "stream-base", "Lowest stream identifier to allocate", env.PROVISION_STREAM_BASE)
}

// provisioning is a one-shot command; it logs to stderr unless --log-file is set.
func setupLogger(cmd *cobra.Command, _ []string) error {
	return logging.SetupLogger(cmd, viper.GetString(env.LOG_FILE.ViperKey), viper.GetString(env.LOG_LEVEL.ViperKey))
}

func closeLogger(cmd *cobra.Command, _ []string) error {
	logging.CloseFromContext(cmd.Context())
	return nil
}

func loggerFrom(cmd *cobra.Command) (*slog.Logger, error) {
	logger, ok := logging.FromContext(cmd.Context())
	if !ok {
		return nil, errdefs.ErrLoggerNotFound
	}
	return logger, nil
}
