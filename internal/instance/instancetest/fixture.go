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

// Package instancetest builds small instance trees for tests.
package instancetest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

const EngineConfigTmpl = `-- engine configuration
ModuleConfigurations = {
    Server = {
        AllowAddresses = { "127.0.0.1", "localhost" },
        Interfaces = {
            {
                Type = "TcpSocket",
                Identifier = "DefaultTcpSocketInterface",
                Port = 4681,
                Enabled = true,
            },
            {
                Type = "WebSocket",
                Identifier = "DefaultWebSocketInterface",
                Port = %d,
                Enabled = true,
            }
        }
    }
}
`

const OutputConfigTmpl = `{
  "version": 1,
  "masteraddress": "localhost",
  "nodes": [
    {
      "address": "localhost",
      "port": 20401,
      "windows": [
        {
          "name": "OpenSpace",
          "size": { "x": 1280, "y": 720 },
          "webrtcid": %d,
          "stereo": "none"
        }
      ]
    }
  ]
}
`

// CopyDirs is the directory allow-list the fixture populates.
var CopyDirs = []string{"bin", "config", "data"} //nolint:gochecknoglobals // fixture

// WriteInstance creates dir with an engine config, an output config, a fake
// executable and a little data. Caches and sync/ are created too so tests
// can check they are not copied.
func WriteInstance(t *testing.T, dir string, port, stream int) {
	t.Helper()

	write := func(rel, content string, mode os.FileMode) {
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", p, err)
		}
		if err := os.WriteFile(p, []byte(content), mode); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	write("openspace.cfg", fmt.Sprintf(EngineConfigTmpl, port), 0o644)
	write(filepath.Join("config", "remote_gstreamer_output.json"), fmt.Sprintf(OutputConfigTmpl, stream), 0o644)
	write(filepath.Join("bin", "RelWithDebInfo", "OpenSpace"), "#!/bin/sh\nexec sleep 30\n", 0o755)
	write(filepath.Join("data", "assets", "earth.asset"), "local earth = {}\n", 0o644)
	write(filepath.Join("cache", "blob.bin"), "cached", 0o644)
	write(filepath.Join("sync", "shared.bin"), "synced", 0o644)
	write(filepath.Join("logs", "log.html"), "<html></html>", 0o644)
}
