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

	"github.com/eminwux/rendervisor/pkg/api"
	"github.com/eminwux/rendervisor/pkg/client"
	"github.com/spf13/cobra"
)

func NewServerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "server-status",
		Aliases:      []string{"ss"},
		Short:        "Show running and total session counts",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(ctx context.Context, c client.Client) (*api.Response, error) {
				return c.ServerStatus(ctx)
			})
		},
	}
}

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [id]",
		Short: "Show the state of one session",
		Long: `Show the state of one session.
Without an id it behaves like server-status.`,
		SilenceUsage:      true,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: completeIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return withClient(cmd, func(ctx context.Context, c client.Client) (*api.Response, error) {
					return c.ServerStatus(ctx)
				})
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c client.Client) (*api.Response, error) {
				return c.Status(ctx, id)
			})
		},
	}
}
