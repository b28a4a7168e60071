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

package rendervisor

import (
	"fmt"

	"github.com/eminwux/rendervisor/cmd/config"
	"github.com/eminwux/rendervisor/cmd/rendervisor/provision"
	"github.com/eminwux/rendervisor/cmd/rendervisor/run"
	"github.com/eminwux/rendervisor/internal/env"
	"github.com/spf13/cobra"
)

func NewRendervisorRootCmd() *cobra.Command {
	// rootCmd represents the base command when called without any subcommands.
	rootCmd := &cobra.Command{
		Use:   "rendervisor",
		Short: "rendervisor supervises OpenSpace rendering sessions",
		Long: `rendervisor supervises OpenSpace rendering sessions on a single host.

It runs the engine instances, the frontend and the signaling relay on behalf
of a remote controller, and provisions new instance directories from the
template instance.

Examples:
  rendervisor run --instances-root /opt/openspace
  rendervisor provision --dry-run
  rendervisor provision list -o yaml
`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := config.LoadConfig(); err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	setupRootCmd(rootCmd)
	return rootCmd
}

func setupRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(run.NewRunCmd())
	rootCmd.AddCommand(provision.NewProvisionCmd())

	flags := rootCmd.PersistentFlags()
	config.BindFlag(flags, "config", "config file (default is $HOME/.rendervisor/config.yaml)", env.CONFIG_FILE)
	config.BindFlag(flags, "run-path", "Optional run path for logs (default is $HOME/.rendervisor/run)", env.RUN_PATH)
	config.BindFlag(flags, "log-level", "Log level (debug, info, warn, error)", env.LOG_LEVEL)
	config.BindFlag(flags, "log-file", "Optional log file", env.LOG_FILE)
	config.BindFlag(flags, "instances-root", "Directory holding the instance directories", env.INSTANCES_ROOT)
}
