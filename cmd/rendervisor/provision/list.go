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
	"os"

	"github.com/eminwux/rendervisor/cmd/config"
	"github.com/eminwux/rendervisor/internal/discovery"
	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const listOutputKey = "rendervisor.provision.list.output"

func NewListCmd() *cobra.Command {
	// listCmd represents the provision list command.
	cmd := &cobra.Command{
		Use:          "list",
		Aliases:      []string{"ls", "l"},
		Short:        "List the instance directories",
		Long:         "List the instance directories with their command port, stream identifier and geometry.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		PreRunE:      setupLogger,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := loggerFrom(cmd)
			if err != nil {
				return err
			}

			format := viper.GetString(listOutputKey)
			if format != "" && format != "json" && format != "yaml" {
				return fmt.Errorf("%w: unknown output format %q (use json|yaml)", errdefs.ErrInvalidFlag, format)
			}

			l, err := config.InstanceLayout()
			if err != nil {
				return err
			}
			logger.Debug("provision list command invoked", "root", l.Root, "output", format)

			if errP := discovery.ScanAndPrintInstances(cmd.Context(), logger, l, cmd.OutOrStdout(), format); errP != nil {
				logger.Debug("error scanning and printing instances", "error", errP)
				fmt.Fprintln(os.Stderr, "Could not scan instances")
				return errP
			}
			return nil
		},
		PostRunE: closeLogger,
	}

	cmd.Flags().StringP("output", "o", "", "Output format: json|yaml (default: table)")
	_ = viper.BindPFlag(listOutputKey, cmd.Flags().Lookup("output"))
	_ = cmd.RegisterFlagCompletionFunc(
		"output",
		func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
			return []string{"json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
		},
	)
	return cmd
}
