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

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eminwux/rendervisor/cmd/rendervisor"
	"github.com/eminwux/rendervisor/cmd/rvctl"
	"github.com/eminwux/rendervisor/internal/logging"
	"github.com/spf13/cobra"
)

type rootFactory func() *cobra.Command

func execRoot(root *cobra.Command) int {
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func runWithFactory(ctx context.Context, factory rootFactory) int {
	root := factory()
	root.SetContext(ctx)
	return execRoot(root)
}

func factories() map[string]rootFactory {
	return map[string]rootFactory{
		"rendervisor": rendervisor.NewRendervisorRootCmd,
		"rvctl":       rvctl.NewRvctlRootCmd,
	}
}

func main() {
	logger := logging.NewNoopLogger()
	ctx := context.WithValue(context.Background(), logging.CtxLogger, logger)

	// Select which subtree to run based on the executable name
	exe := filepath.Base(os.Args[0])

	if factory, ok := factories()[exe]; ok {
		os.Exit(runWithFactory(ctx, factory))
	}

	// RENDERVISOR_DEBUG_MODE picks the subtree when the binary runs under
	// another name, e.g. from a debugger.
	debug := os.Getenv("RENDERVISOR_DEBUG_MODE")
	if factory, ok := factories()[debug]; ok {
		os.Exit(runWithFactory(ctx, factory))
	}

	fmt.Fprintf(os.Stderr, "unknown entry command: %s\n", exe)
	os.Exit(1)
}
