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

package instance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/pkg/api"
)

// Instance is one discovered instance directory and the values read from
// its config files.
type Instance struct {
	ID        api.ID        `json:"id"                 yaml:"id"`
	Dir       string        `json:"dir"                yaml:"dir"`
	Port      int           `json:"port"               yaml:"port"`
	HasPort   bool          `json:"-"                  yaml:"-"`
	StreamID  int           `json:"streamId"           yaml:"streamId"`
	HasStream bool          `json:"-"                  yaml:"-"`
	Geometry  *api.Geometry `json:"geometry,omitempty" yaml:"geometry,omitempty"`
	Problems  []string      `json:"problems,omitempty" yaml:"problems,omitempty"`
}

// Scan lists the instance directories under l.Root ordered by identity.
// Directories that are empty are not instances. Unreadable config files are
// reported in Problems rather than failing the scan.
func Scan(ctx context.Context, logger *slog.Logger, l Layout) ([]Instance, error) {
	logger.DebugContext(ctx, "Scan: reading instances root", "root", l.Root)
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		logger.ErrorContext(ctx, "Scan: failed to read root", "root", l.Root, "error", err)
		return nil, fmt.Errorf("%w: %w", errdefs.ErrInstanceScan, err)
	}

	out := make([]Instance, 0, len(entries))
	for _, e := range entries {
		select {
		case <-ctx.Done():
			logger.WarnContext(ctx, "Scan: context done while reading")
			return nil, ctx.Err()
		default:
		}
		if !e.IsDir() {
			continue
		}
		id, ok := l.ParseDirName(e.Name())
		if !ok {
			continue
		}
		inst, ok := Load(ctx, logger, l, id)
		if !ok {
			continue
		}
		out = append(out, inst)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	logger.InfoContext(ctx, "Scan: finished scanning", "count", len(out))
	return out, nil
}

// Load reads a single instance directory. It reports false when the
// directory is missing or empty.
func Load(ctx context.Context, logger *slog.Logger, l Layout, id api.ID) (Instance, bool) {
	dir := l.Dir(id)
	children, err := os.ReadDir(dir)
	if err != nil || len(children) == 0 {
		logger.DebugContext(ctx, "Load: skipping missing or empty directory", "dir", dir)
		return Instance{}, false
	}

	inst := Instance{ID: id, Dir: dir}

	port, errP := ReadPort(filepath.Join(dir, l.EngineConfig))
	if errP != nil {
		logger.WarnContext(ctx, "Load: could not read command port", "id", id, "error", errP)
		inst.Problems = append(inst.Problems, errP.Error())
	} else {
		inst.Port = port
		inst.HasPort = true
	}

	out, errO := ReadOutput(filepath.Join(dir, l.OutputConfig))
	if errO != nil {
		logger.WarnContext(ctx, "Load: could not read output config", "id", id, "error", errO)
		inst.Problems = append(inst.Problems, errO.Error())
	} else {
		inst.StreamID = out.StreamID
		inst.HasStream = true
		inst.Geometry = out.Geometry
	}

	return inst, true
}

// NextID returns max(existing)+1 and the identities missing below it.
// A tree without the template instance cannot grow.
func NextID(instances []Instance) (api.ID, []api.ID, error) {
	seen := make(map[api.ID]bool, len(instances))
	maxID := api.ID(-1)
	for _, inst := range instances {
		seen[inst.ID] = true
		if inst.ID > maxID {
			maxID = inst.ID
		}
	}
	if !seen[0] {
		return 0, nil, errdefs.ErrTemplateMissing
	}

	var gaps []api.ID
	for id := api.ID(1); id < maxID; id++ {
		if !seen[id] {
			gaps = append(gaps, id)
		}
	}
	return maxID + 1, gaps, nil
}

// Allocate returns the smallest value >= base not present in used.
func Allocate(base int, used []int) int {
	taken := make(map[int]bool, len(used))
	for _, u := range used {
		taken[u] = true
	}
	v := base
	for taken[v] {
		v++
	}
	return v
}

// UsedPorts collects the command ports of instances whose port is known.
func UsedPorts(instances []Instance) []int {
	out := make([]int, 0, len(instances))
	for _, inst := range instances {
		if inst.HasPort {
			out = append(out, inst.Port)
		}
	}
	return out
}

// UsedStreams collects the stream identifiers of instances whose output config is known.
func UsedStreams(instances []Instance) []int {
	out := make([]int, 0, len(instances))
	for _, inst := range instances {
		if inst.HasStream {
			out = append(out, inst.StreamID)
		}
	}
	return out
}
