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

package procmgr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/internal/instance"
	"github.com/eminwux/rendervisor/internal/proc"
	"github.com/eminwux/rendervisor/internal/supervisor/registry"
	"github.com/eminwux/rendervisor/pkg/api"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	reg     *registry.Registry
	spawner *proc.FakeSpawner
	mgr     *Manager
	events  chan api.Event

	mu      sync.Mutex
	handles map[string]*proc.FakeHandle
	stopped []string
}

func newHarness(t *testing.T, sessions int) *harness {
	t.Helper()
	h := &harness{
		reg:     registry.New(),
		events:  make(chan api.Event, 128),
		handles: make(map[string]*proc.FakeHandle),
	}
	for i := range sessions {
		if _, err := h.reg.AddSession(instance.Instance{ID: api.ID(i), Port: 4682 + i}); err != nil {
			t.Fatal(err)
		}
	}
	pid := 100
	h.spawner = &proc.FakeSpawner{
		SpawnFunc: func(_ context.Context, spec proc.Spec) (proc.Handle, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			pid++
			fh := proc.NewFakeHandle(pid)
			name := spec.Name
			fh.TerminateFunc = func(fh *proc.FakeHandle, _ proc.Signal) error {
				h.mu.Lock()
				h.stopped = append(h.stopped, name)
				h.mu.Unlock()
				fh.Exit(nil)
				return nil
			}
			h.handles[name] = fh
			return fh, nil
		},
	}
	cmds := Commands{
		Layout:     instance.DefaultLayout("/srv/openspace"),
		EngineArgs: DefaultEngineArgs(),
		Signaling:  ServiceCommand{Dir: "/srv/web/src/signalingserver", Command: "node signalingserver"},
		Frontend:   ServiceCommand{Dir: "/srv/web", Command: "npm start"},
	}
	h.mgr = New(newTestLogger(), h.reg, h.spawner, cmds, 50*time.Millisecond, h.events)
	return h
}

func (h *harness) handle(name string) *proc.FakeHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handles[name]
}

func (h *harness) stopOrder() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.stopped))
	copy(out, h.stopped)
	return out
}

func Test_StartSessionStartsServicesFirst(t *testing.T) {
	h := newHarness(t, 2)

	st, err := h.mgr.Start(context.Background(), registry.SessionRef(1))
	if err != nil {
		t.Fatalf("expected '%v'; got: '%v'", nil, err)
	}
	if st != api.StateRunning {
		t.Fatalf("expected '%v'; got: '%v'", api.StateRunning, st)
	}

	specs := h.spawner.Spawned()
	want := []string{"signaling", "frontend", "session-1"}
	if len(specs) != len(want) {
		t.Fatalf("expected '%v'; got: '%v'", want, specs)
	}
	for i := range want {
		if specs[i].Name != want[i] {
			t.Fatalf("expected '%s' at %d; got: '%s'", want[i], i, specs[i].Name)
		}
	}

	for _, svc := range h.reg.Services() {
		if svc.State() != api.StateRunning {
			t.Fatalf("expected %v RUNNING; got: '%v'", svc.Ref(), svc.State())
		}
	}

	engine := specs[2]
	if engine.Path != "/srv/openspace/OpenSpace_s1/bin/RelWithDebInfo/OpenSpace" {
		t.Fatalf("unexpected engine path: '%s'", engine.Path)
	}
	if engine.Dir != "/srv/openspace/OpenSpace_s1/bin/RelWithDebInfo" {
		t.Fatalf("unexpected engine dir: '%s'", engine.Dir)
	}
	if strings.Join(engine.Args, " ") !=
		"--config /srv/openspace/OpenSpace_s1/config/remote_gstreamer_output.json --profile default --bypassLauncher" {
		t.Fatalf("unexpected engine args: '%v'", engine.Args)
	}
	if specs[1].Path != "npm" || strings.Join(specs[1].Args, " ") != "start" || specs[1].Dir != "/srv/web" {
		t.Fatalf("unexpected frontend spec: '%+v'", specs[1])
	}
}

func Test_StartRunningIsNoop(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	if _, err := h.mgr.Start(ctx, registry.SessionRef(0)); err != nil {
		t.Fatal(err)
	}
	st, err := h.mgr.Start(ctx, registry.SessionRef(0))
	if err != nil || st != api.StateRunning {
		t.Fatalf("expected RUNNING/nil; got: '%v'/'%v'", st, err)
	}
	if n := len(h.spawner.Spawned()); n != 3 {
		t.Fatalf("expected '%d' spawns; got: '%d'", 3, n)
	}
}

func Test_ConcurrentStartSpawnsOnce(t *testing.T) {
	h := newHarness(t, 1)
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.mgr.Start(context.Background(), registry.SessionRef(0))
		}()
	}
	wg.Wait()
	count := 0
	for _, s := range h.spawner.Spawned() {
		if s.Name == "session-0" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected '%d'; got: '%d'", 1, count)
	}
}

func Test_StopTwiceIsNoop(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	if _, err := h.mgr.Start(ctx, registry.SessionRef(0)); err != nil {
		t.Fatal(err)
	}

	st, err := h.mgr.Stop(ctx, registry.SessionRef(0))
	if err != nil || st != api.StateStopped {
		t.Fatalf("expected STOPPED/nil; got: '%v'/'%v'", st, err)
	}
	signals := len(h.handle("session-0").Signals())

	st, err = h.mgr.Stop(ctx, registry.SessionRef(0))
	if err != nil || st != api.StateStopped {
		t.Fatalf("expected STOPPED/nil; got: '%v'/'%v'", st, err)
	}
	if got := len(h.handle("session-0").Signals()); got != signals {
		t.Fatalf("expected no further signals; got: '%d'", got-signals)
	}

	st, err = h.mgr.Stop(ctx, registry.SessionRef(0))
	if err != nil || st != api.StateStopped {
		t.Fatalf("expected STOPPED/nil; got: '%v'/'%v'", st, err)
	}
}

func Test_StopProvisionedReturnsState(t *testing.T) {
	h := newHarness(t, 1)
	st, err := h.mgr.Stop(context.Background(), registry.SessionRef(0))
	if err != nil || st != api.StateProvisioned {
		t.Fatalf("expected PROVISIONED/nil; got: '%v'/'%v'", st, err)
	}
}

func Test_StopEscalates(t *testing.T) {
	old := proc.ForceWait
	proc.ForceWait = 50 * time.Millisecond
	defer func() { proc.ForceWait = old }()

	h := newHarness(t, 1)
	ctx := context.Background()
	if _, err := h.mgr.Start(ctx, registry.SessionRef(0)); err != nil {
		t.Fatal(err)
	}
	fh := h.handle("session-0")
	fh.TerminateFunc = func(fh *proc.FakeHandle, sig proc.Signal) error {
		if sig == proc.Forced {
			fh.Exit(nil)
		}
		return nil
	}

	st, err := h.mgr.Stop(ctx, registry.SessionRef(0))
	if err != nil || st != api.StateStopped {
		t.Fatalf("expected STOPPED/nil; got: '%v'/'%v'", st, err)
	}
	sigs := fh.Signals()
	if len(sigs) != 2 || sigs[1] != proc.Forced {
		t.Fatalf("expected graceful then forced; got: '%v'", sigs)
	}
}

func Test_StopUnkillableStillStopped(t *testing.T) {
	old := proc.ForceWait
	proc.ForceWait = 20 * time.Millisecond
	defer func() { proc.ForceWait = old }()

	h := newHarness(t, 1)
	ctx := context.Background()
	if _, err := h.mgr.Start(ctx, registry.SessionRef(0)); err != nil {
		t.Fatal(err)
	}
	h.handle("session-0").TerminateFunc = func(*proc.FakeHandle, proc.Signal) error { return nil }

	st, err := h.mgr.Stop(ctx, registry.SessionRef(0))
	if err != nil || st != api.StateStopped {
		t.Fatalf("expected STOPPED/nil; got: '%v'/'%v'", st, err)
	}
}

func Test_SpawnFailure(t *testing.T) {
	h := newHarness(t, 1)
	boom := errors.New("exec format error")
	inner := h.spawner.SpawnFunc
	h.spawner.SpawnFunc = func(ctx context.Context, spec proc.Spec) (proc.Handle, error) {
		if strings.HasPrefix(spec.Name, "session-") {
			return nil, boom
		}
		return inner(ctx, spec)
	}

	st, err := h.mgr.Start(context.Background(), registry.SessionRef(0))
	if !errors.Is(err, errdefs.ErrProcess) || !errors.Is(err, boom) {
		t.Fatalf("expected '%v'; got: '%v'", errdefs.ErrProcess, err)
	}
	if st != api.StateStopped {
		t.Fatalf("expected '%v'; got: '%v'", api.StateStopped, st)
	}
	status, _ := h.mgr.Status(registry.SessionRef(0))
	if status.Detail == "" {
		t.Fatalf("expected failure detail in status")
	}
}

func Test_UnexpectedExitMovesToStopped(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	for id := api.ID(0); id < 2; id++ {
		if _, err := h.mgr.Start(ctx, registry.SessionRef(id)); err != nil {
			t.Fatal(err)
		}
	}

	h.handle("session-0").Exit(errors.New("segfault"))

	deadline := time.Now().Add(2 * time.Second)
	for {
		st, _ := h.mgr.Status(registry.SessionRef(0))
		if st.State == api.StateStopped {
			if !strings.Contains(st.Detail, "segfault") {
				t.Fatalf("expected exit detail; got: '%s'", st.Detail)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected session 0 to be STOPPED; got: '%v'", st.State)
		}
		time.Sleep(5 * time.Millisecond)
	}

	other, _ := h.mgr.Status(registry.SessionRef(1))
	if other.State != api.StateRunning {
		t.Fatalf("expected session 1 unaffected; got: '%v'", other.State)
	}

	found := false
	for {
		select {
		case ev := <-h.events:
			if ev.ID != nil && *ev.ID == 0 && ev.State == api.StateStopped {
				found = true
			}
			continue
		default:
		}
		break
	}
	if !found {
		t.Fatalf("expected a STOPPED event for session 0")
	}
}

func Test_StartIdle(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	if _, err := h.mgr.Start(ctx, registry.SessionRef(0)); err != nil {
		t.Fatal(err)
	}

	id, st, err := h.mgr.StartIdle(ctx)
	if err != nil || id != 1 || st != api.StateRunning {
		t.Fatalf("expected 1/RUNNING/nil; got: '%v'/'%v'/'%v'", id, st, err)
	}
	id, _, err = h.mgr.StartIdle(ctx)
	if err != nil || id != 2 {
		t.Fatalf("expected 2/nil; got: '%v'/'%v'", id, err)
	}
	if _, _, err = h.mgr.StartIdle(ctx); !errors.Is(err, errdefs.ErrNoIdleSession) {
		t.Fatalf("expected '%v'; got: '%v'", errdefs.ErrNoIdleSession, err)
	}
}

func Test_StopAllOrder(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	for id := api.ID(0); id < 3; id++ {
		if _, err := h.mgr.Start(ctx, registry.SessionRef(id)); err != nil {
			t.Fatal(err)
		}
	}

	if err := h.mgr.StopAll(ctx); err != nil {
		t.Fatalf("expected '%v'; got: '%v'", nil, err)
	}

	order := h.stopOrder()
	if len(order) != 5 {
		t.Fatalf("expected 5 stops; got: '%v'", order)
	}
	for _, name := range order[:3] {
		if !strings.HasPrefix(name, "session-") {
			t.Fatalf("expected sessions first; got: '%v'", order)
		}
	}
	if order[3] != "frontend" || order[4] != "signaling" {
		t.Fatalf("expected frontend then signaling; got: '%v'", order)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for name, fh := range h.handles {
		if fh.Alive() {
			t.Fatalf("expected %s to be dead", name)
		}
	}
}

func Test_UnknownRefs(t *testing.T) {
	h := newHarness(t, 1)
	if _, err := h.mgr.Start(context.Background(), registry.SessionRef(7)); !errors.Is(err, errdefs.ErrUnknownSession) {
		t.Fatalf("expected '%v'; got: '%v'", errdefs.ErrUnknownSession, err)
	}
	if _, err := h.mgr.Stop(context.Background(), registry.SessionRef(7)); !errors.Is(err, errdefs.ErrUnknownSession) {
		t.Fatalf("expected '%v'; got: '%v'", errdefs.ErrUnknownSession, err)
	}
}
