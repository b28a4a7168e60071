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
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/internal/instance"
	"github.com/eminwux/rendervisor/pkg/api"
	"github.com/fsnotify/fsnotify"
)

// Debounce is how long the watcher waits after the last event for a
// directory before reading it.
var Debounce = 250 * time.Millisecond

// Watcher reports instance directories that appear under the instances
// root while the supervisor runs. It never creates anything itself.
type Watcher struct {
	logger *slog.Logger
	layout instance.Layout
	onAdd  func(instance.Instance)
	fsW    *fsnotify.Watcher

	mu      sync.Mutex
	pending map[api.ID]*time.Timer
	closed  bool
}

func New(logger *slog.Logger, l instance.Layout, onAdd func(instance.Instance)) (*Watcher, error) {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrWatchInstances, err)
	}
	if errAdd := fsW.Add(l.Root); errAdd != nil {
		_ = fsW.Close()
		return nil, fmt.Errorf("%w: %s: %w", errdefs.ErrWatchInstances, l.Root, errAdd)
	}
	logger.Info("watcher: watching instances root", "root", l.Root)
	return &Watcher{
		logger:  logger,
		layout:  l,
		onAdd:   onAdd,
		fsW:     fsW,
		pending: make(map[api.ID]*time.Timer),
	}, nil
}

// Run processes filesystem events until ctx is done or Close is called.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsW.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsW.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher: fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	// staging directories are hidden and never parse as instance names
	id, ok := w.layout.ParseDirName(filepath.Base(ev.Name))
	if !ok {
		return
	}
	w.logger.Debug("watcher: instance directory event", "id", id, "op", ev.Op.String())

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, exists := w.pending[id]; exists {
		t.Reset(Debounce)
		return
	}
	w.pending[id] = time.AfterFunc(Debounce, func() {
		w.mu.Lock()
		delete(w.pending, id)
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return
		}
		inst, found := instance.Load(ctx, w.logger, w.layout, id)
		if !found {
			w.logger.Debug("watcher: directory not an instance yet", "id", id)
			return
		}
		w.onAdd(inst)
	})
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	for id, t := range w.pending {
		t.Stop()
		delete(w.pending, id)
	}
	w.mu.Unlock()
	return w.fsW.Close()
}
