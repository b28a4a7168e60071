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

package discovery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/internal/instance"
	"github.com/eminwux/rendervisor/internal/instance/instancetest"
	"github.com/eminwux/rendervisor/pkg/api"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTree(t *testing.T) instance.Layout {
	t.Helper()
	l := instance.DefaultLayout(t.TempDir())
	instancetest.WriteInstance(t, l.TemplateDir(), 4682, 0)
	instancetest.WriteInstance(t, l.Dir(1), 4683, 1)
	// broken output config
	if err := os.WriteFile(filepath.Join(l.Dir(1), l.OutputConfig), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	return l
}

func Test_ScanAndPrintInstancesTable(t *testing.T) {
	l := newTree(t)
	var buf bytes.Buffer
	if err := ScanAndPrintInstances(context.Background(), newTestLogger(), l, &buf, ""); err != nil {
		t.Fatalf("expected '%v'; got: '%v'", nil, err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected '%d'; got: '%d' (%q)", 3, len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "ID") {
		t.Fatalf("expected a header; got: '%v'", lines[0])
	}
	if !strings.Contains(lines[1], "4682") || !strings.Contains(lines[1], "1280x720") {
		t.Fatalf("expected port and geometry; got: '%v'", lines[1])
	}
	if !strings.Contains(lines[2], "4683") || strings.Contains(lines[2], "1280x720") {
		t.Fatalf("expected port without geometry; got: '%v'", lines[2])
	}
}

func Test_ScanAndPrintInstancesEmpty(t *testing.T) {
	l := instance.DefaultLayout(t.TempDir())
	var buf bytes.Buffer
	if err := ScanAndPrintInstances(context.Background(), newTestLogger(), l, &buf, ""); err != nil {
		t.Fatalf("expected '%v'; got: '%v'", nil, err)
	}
	if buf.String() != NoInstancesString {
		t.Fatalf("expected '%v'; got: '%v'", NoInstancesString, buf.String())
	}
}

func Test_ScanAndPrintInstancesFormats(t *testing.T) {
	l := newTree(t)
	tests := []struct {
		format string
		want   string
	}{
		{format: "yaml", want: "port: 4683"},
		{format: "json", want: `"port": 4683`},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := ScanAndPrintInstances(context.Background(), newTestLogger(), l, &buf, tt.format); err != nil {
				t.Fatalf("expected '%v'; got: '%v'", nil, err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Fatalf("expected '%v' in output; got: '%v'", tt.want, buf.String())
			}
		})
	}
}

func Test_PrintFormattedRejectsUnknownFormat(t *testing.T) {
	err := PrintFormatted(io.Discard, struct{}{}, "toml")
	if !errors.Is(err, errdefs.ErrInvalidFlag) {
		t.Fatalf("expected '%v'; got: '%v'", errdefs.ErrInvalidFlag, err)
	}
}

func Test_PrintHumanResponse(t *testing.T) {
	running, total := 1, 3
	resp := &api.Response{
		Command: api.CmdServerStatus,
		Result:  api.ResultOK,
		Error:   api.ErrorNone,
		Running: &running,
		Total:   &total,
		Services: map[api.ServiceName]api.State{
			api.ServiceSignaling: api.StateRunning,
			api.ServiceFrontend:  api.StateStopped,
		},
	}
	var buf bytes.Buffer
	PrintHuman(&buf, resp, "")
	out := buf.String()

	for _, want := range []string{
		"command: SERVER_STATUS",
		"running: 1",
		"total: 3",
		"  frontend: STOPPED",
		"  signaling: RUNNING",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected '%v' in output; got: '%v'", want, out)
		}
	}
	if strings.Contains(out, "requestId") || strings.Contains(out, "session") {
		t.Fatalf("expected empty optional fields to be skipped; got: '%v'", out)
	}
	if strings.Index(out, "frontend") > strings.Index(out, "signaling") {
		t.Fatalf("expected sorted services; got: '%v'", out)
	}
}
