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

	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/pkg/api"
	"github.com/eminwux/rendervisor/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const stopLastKey = "rvctl.stop.last"

func NewStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start [id]",
		Short: "Start a session",
		Long: `Start a session. Without an id the lowest idle session is started.
The frontend and the signaling relay are started first when needed.`,
		SilenceUsage:      true,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: completeIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var id *api.ID
			if len(args) == 1 {
				parsed, err := parseID(args[0])
				if err != nil {
					return err
				}
				id = parsed.Ptr()
			}
			return withClient(cmd, func(ctx context.Context, c client.Client) (*api.Response, error) {
				return c.Start(ctx, id)
			})
		},
	}
}

func NewStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "stop <id> | --last",
		Short:             "Stop a session",
		SilenceUsage:      true,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: completeIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			last := viper.GetBool(stopLastKey)
			switch {
			case last && len(args) == 1:
				return fmt.Errorf("%w: give an id or --last, not both", errdefs.ErrInvalidArgument)
			case !last && len(args) == 0:
				return fmt.Errorf("%w: stop needs an id or --last", errdefs.ErrInvalidArgument)
			case last:
				return withClient(cmd, stopLast)
			}

			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c client.Client) (*api.Response, error) {
				return c.Stop(ctx, id)
			})
		},
	}

	cmd.Flags().Bool("last", false, "Stop the active session with the highest id")
	_ = viper.BindPFlag(stopLastKey, cmd.Flags().Lookup("last"))
	return cmd
}

func stopLast(ctx context.Context, c client.Client) (*api.Response, error) {
	st, err := c.ServerStatus(ctx)
	if err != nil {
		return st, err
	}
	if len(st.Active) == 0 {
		return nil, errdefs.ErrNoActiveSession
	}
	return c.Stop(ctx, st.Active[len(st.Active)-1])
}

func NewShutdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "shutdown",
		Short:        "Stop every session and the shared services, then exit the supervisor",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(ctx context.Context, c client.Client) (*api.Response, error) {
				return c.Shutdown(ctx)
			})
		},
	}
}
