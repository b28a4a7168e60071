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

package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eminwux/rendervisor/internal/instance"
	"github.com/eminwux/rendervisor/internal/instance/instancetest"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startWatcher(t *testing.T, l instance.Layout) <-chan instance.Instance {
	t.Helper()
	Debounce = 20 * time.Millisecond

	added := make(chan instance.Instance, 4)
	w, err := New(newTestLogger(), l, func(inst instance.Instance) { added <- inst })
	if err != nil {
		t.Fatalf("expected '%v'; got: '%v'", nil, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = w.Close()
		<-done
	})
	return added
}

func Test_WatcherReportsRenamedInstance(t *testing.T) {
	root := t.TempDir()
	l := instance.DefaultLayout(root)
	instancetest.WriteInstance(t, l.TemplateDir(), 4682, 0)

	added := startWatcher(t, l)

	staging := filepath.Join(root, "."+l.DirName(1)+".staging")
	instancetest.WriteInstance(t, staging, 4683, 1)
	if err := os.Rename(staging, l.Dir(1)); err != nil {
		t.Fatal(err)
	}

	select {
	case inst := <-added:
		if inst.ID != 1 {
			t.Fatalf("expected '%d'; got: '%d'", 1, inst.ID)
		}
		if inst.Port != 4683 || inst.StreamID != 1 {
			t.Fatalf("expected '%d/%d'; got: '%d/%d'", 4683, 1, inst.Port, inst.StreamID)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("expected an instance to be reported")
	}
}

func Test_WatcherIgnoresForeignAndEmptyDirs(t *testing.T) {
	root := t.TempDir()
	l := instance.DefaultLayout(root)
	instancetest.WriteInstance(t, l.TemplateDir(), 4682, 0)

	added := startWatcher(t, l)

	if err := os.Mkdir(filepath.Join(root, "unrelated"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(l.Dir(2), 0o755); err != nil {
		t.Fatal(err)
	}

	select {
	case inst := <-added:
		t.Fatalf("expected no instance; got: '%v'", inst.ID)
	case <-time.After(200 * time.Millisecond):
	}
}

func Test_NewFailsOnMissingRoot(t *testing.T) {
	l := instance.DefaultLayout(filepath.Join(t.TempDir(), "missing"))
	if _, err := New(newTestLogger(), l, func(instance.Instance) {}); err == nil {
		t.Fatalf("expected an error; got: '%v'", err)
	}
}
