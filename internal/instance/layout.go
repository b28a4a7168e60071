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
	"path/filepath"
	"strconv"
	"strings"

	"github.com/eminwux/rendervisor/pkg/api"
)

// Layout names the on-disk pieces of an instance tree.
type Layout struct {
	Root         string // directory holding every instance
	Template     string // directory name of instance 0
	Prefix       string // directory name prefix of instance N >= 1
	EngineConfig string // relative path of the Lua engine config
	OutputConfig string // relative path of the JSON output config
	Executable   string // relative path of the engine binary
}

func DefaultLayout(root string) Layout {
	return Layout{
		Root:         root,
		Template:     "OpenSpace",
		Prefix:       "OpenSpace_s",
		EngineConfig: "openspace.cfg",
		OutputConfig: filepath.Join("config", "remote_gstreamer_output.json"),
		Executable:   filepath.Join("bin", "RelWithDebInfo", "OpenSpace"),
	}
}

func (l Layout) DirName(id api.ID) string {
	if id == 0 {
		return l.Template
	}
	return l.Prefix + id.String()
}

func (l Layout) Dir(id api.ID) string {
	return filepath.Join(l.Root, l.DirName(id))
}

func (l Layout) TemplateDir() string {
	return l.Dir(0)
}

func (l Layout) EngineConfigPath(id api.ID) string {
	return filepath.Join(l.Dir(id), l.EngineConfig)
}

func (l Layout) OutputConfigPath(id api.ID) string {
	return filepath.Join(l.Dir(id), l.OutputConfig)
}

func (l Layout) ExecutablePath(id api.ID) string {
	return filepath.Join(l.Dir(id), l.Executable)
}

// ParseDirName maps a directory name back to its identity. Leading zeros
// are rejected so every identity has exactly one directory name.
func (l Layout) ParseDirName(name string) (api.ID, bool) {
	if name == l.Template {
		return 0, true
	}
	rest, ok := strings.CutPrefix(name, l.Prefix)
	if !ok || rest == "" || rest[0] == '0' {
		return 0, false
	}
	for _, c := range rest {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return api.ID(n), true
}
