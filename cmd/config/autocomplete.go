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

package config

import (
	"context"
	"errors"
	"log/slog"

	"github.com/eminwux/rendervisor/internal/instance"
	"github.com/eminwux/rendervisor/internal/logging"
)

// AutoCompleteListInstanceIDs lists the session identities found on disk.
func AutoCompleteListInstanceIDs(ctx context.Context, logger *slog.Logger) ([]string, error) {
	// logger is not set on autocomplete calls
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	if err := LoadConfig(); err != nil {
		return nil, err
	}
	l, err := InstanceLayout()
	if err != nil {
		return nil, err
	}

	instances, err := instance.Scan(ctx, logger, l)
	if err != nil {
		logger.ErrorContext(ctx, "ListInstances: failed to scan instances", "root", l.Root, "error", err)
		return nil, err
	}

	var ids []string
	for _, inst := range instances {
		ids = append(ids, inst.ID.String())
	}
	if len(ids) == 0 {
		return nil, errors.New("no instances found")
	}
	return ids, nil
}
