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
	"os"
	"os/signal"
	"syscall"

	"github.com/eminwux/rendervisor/internal/discovery"
	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const eventsCountKey = "rvctl.events.count"

func NewEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "events",
		Aliases: []string{"watch"},
		Short:   "Print state changes as the supervisor reports them",
		Long: `Subscribe to the supervisor and print every state change until
interrupted, or until --count events were printed.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, ok := logging.FromContext(cmd.Context())
			if !ok {
				return errdefs.ErrLoggerNotFound
			}
			format, err := outputFormat()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			c, err := dialSupervisor(ctx, logger)
			if err != nil {
				return err
			}
			defer closeClient(logger, c)

			events, err := c.Subscribe(ctx)
			if err != nil {
				return err
			}

			limit := viper.GetInt(eventsCountKey)
			for n := 0; limit <= 0 || n < limit; n++ {
				select {
				case <-ctx.Done():
					return nil
				case ev, open := <-events:
					if !open {
						logger.Info("supervisor closed the connection")
						return nil
					}
					if errP := discovery.PrintFormatted(cmd.OutOrStdout(), ev, format); errP != nil {
						return errP
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().Int("count", 0, "Exit after this many events (0 waits forever)")
	_ = viper.BindPFlag(eventsCountKey, cmd.Flags().Lookup("count"))
	return cmd
}
