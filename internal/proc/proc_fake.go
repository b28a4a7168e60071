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

package proc

import (
	"context"
	"sync"
	"time"

	"github.com/eminwux/rendervisor/internal/errdefs"
)

type FakeSpawner struct {
	SpawnFunc func(ctx context.Context, spec Spec) (Handle, error)

	mu    sync.Mutex
	Specs []Spec
}

func (f *FakeSpawner) Spawn(ctx context.Context, spec Spec) (Handle, error) {
	f.mu.Lock()
	f.Specs = append(f.Specs, spec)
	f.mu.Unlock()
	if f.SpawnFunc == nil {
		return nil, errdefs.ErrFuncNotSet
	}
	return f.SpawnFunc(ctx, spec)
}

func (f *FakeSpawner) Spawned() []Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Spec, len(f.Specs))
	copy(out, f.Specs)
	return out
}

// FakeHandle exits on any Terminate unless TerminateFunc says otherwise.
type FakeHandle struct {
	PID           int
	TerminateFunc func(h *FakeHandle, sig Signal) error

	mu       sync.Mutex
	signals  []Signal
	done     chan struct{}
	exitOnce sync.Once
	exitErr  error
}

func NewFakeHandle(pid int) *FakeHandle {
	return &FakeHandle{PID: pid, done: make(chan struct{})}
}

// Exit simulates the process exiting on its own.
func (f *FakeHandle) Exit(err error) {
	f.exitOnce.Do(func() {
		f.mu.Lock()
		f.exitErr = err
		f.mu.Unlock()
		close(f.done)
	})
}

func (f *FakeHandle) Signals() []Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Signal, len(f.signals))
	copy(out, f.signals)
	return out
}

func (f *FakeHandle) Pid() int { return f.PID }

func (f *FakeHandle) Terminate(sig Signal) error {
	f.mu.Lock()
	f.signals = append(f.signals, sig)
	f.mu.Unlock()
	if f.TerminateFunc != nil {
		return f.TerminateFunc(f, sig)
	}
	f.Exit(nil)
	return nil
}

func (f *FakeHandle) Wait(timeout time.Duration) bool {
	select {
	case <-f.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (f *FakeHandle) Alive() bool {
	select {
	case <-f.done:
		return false
	default:
		return true
	}
}

func (f *FakeHandle) Done() <-chan struct{} { return f.done }

func (f *FakeHandle) ExitErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitErr
}
