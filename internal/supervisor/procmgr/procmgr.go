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
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/internal/instance"
	"github.com/eminwux/rendervisor/internal/proc"
	"github.com/eminwux/rendervisor/internal/supervisor/registry"
	"github.com/eminwux/rendervisor/pkg/api"
	"golang.org/x/sync/errgroup"
)

// ServiceCommand launches a shared service.
type ServiceCommand struct {
	Dir     string
	Command string // split on whitespace; first field is the executable
	TTY     bool
}

// Commands describes how every managed process is launched.
type Commands struct {
	Layout instance.Layout
	// EngineArgs may reference {dir}, {id}, {port} and {outputConfig}.
	EngineArgs []string
	EngineTTY  bool
	Signaling  ServiceCommand
	Frontend   ServiceCommand
	LogDir     string
	Env        []string
}

func DefaultEngineArgs() []string {
	return []string{"--config", "{outputConfig}", "--profile", "default", "--bypassLauncher"}
}

type Manager struct {
	logger      *slog.Logger
	reg         *registry.Registry
	spawner     proc.Spawner
	cmds        Commands
	stopTimeout time.Duration
	events      chan<- api.Event
}

var errNotIdle = errors.New("session is not idle")

func New(
	logger *slog.Logger,
	reg *registry.Registry,
	spawner proc.Spawner,
	cmds Commands,
	stopTimeout time.Duration,
	events chan<- api.Event,
) *Manager {
	return &Manager{
		logger:      logger,
		reg:         reg,
		spawner:     spawner,
		cmds:        cmds,
		stopTimeout: stopTimeout,
		events:      events,
	}
}

func (m *Manager) StopTimeout() time.Duration { return m.stopTimeout }

// Start brings ref to RUNNING. Sessions first start any stopped shared
// service. Starting a running entry is a no-op.
func (m *Manager) Start(ctx context.Context, ref registry.Ref) (api.State, error) {
	e, err := m.reg.Get(ref)
	if err != nil {
		return "", err
	}
	if ref.IsSession() {
		if errS := m.StartServices(ctx); errS != nil {
			return e.State(), errS
		}
	}
	return m.start(ctx, e, false)
}

// StartIdle starts the lowest idle session.
func (m *Manager) StartIdle(ctx context.Context) (api.ID, api.State, error) {
	if len(m.reg.Idle()) == 0 {
		return 0, "", errdefs.ErrNoIdleSession
	}
	if err := m.StartServices(ctx); err != nil {
		return 0, "", err
	}
	for _, e := range m.reg.Idle() {
		st, err := m.start(ctx, e, true)
		if errors.Is(err, errNotIdle) {
			// claimed by a concurrent START
			continue
		}
		return e.Ref().ID, st, err
	}
	return 0, "", errdefs.ErrNoIdleSession
}

// StartServices starts the shared services that are not running, in order.
func (m *Manager) StartServices(ctx context.Context) error {
	for _, svc := range m.reg.Services() {
		if _, err := m.start(ctx, svc, false); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) start(ctx context.Context, e *registry.Entry, requireIdle bool) (api.State, error) {
	e.LockOp()
	defer e.UnlockOp()

	ref := e.Ref()
	st := e.State()
	if requireIdle && !st.Idle() {
		return st, errNotIdle
	}
	if st == api.StateRunning || st == api.StateStarting {
		m.logger.DebugContext(ctx, "start: already running", "ref", ref.String())
		return st, nil
	}

	spec, err := m.specFor(e)
	if err != nil {
		return st, err
	}

	m.transition(e, api.StateStarting, "")
	h, err := m.spawner.Spawn(ctx, spec)
	if err != nil {
		m.logger.ErrorContext(ctx, "start: spawn failed", "ref", ref.String(), "error", err)
		m.transition(e, api.StateStopped, err.Error())
		return api.StateStopped, fmt.Errorf("%w: %s: %w", errdefs.ErrProcess, ref, err)
	}

	e.SetHandle(h)
	m.transition(e, api.StateRunning, "")
	m.logger.InfoContext(ctx, "start: running", "ref", ref.String(), "pid", h.Pid())

	go m.watch(e, h)
	return api.StateRunning, nil
}

// Stop terminates ref gracefully, escalating after the stop timeout. It
// always ends in STOPPED; stopping an inactive entry is a no-op.
func (m *Manager) Stop(ctx context.Context, ref registry.Ref) (api.State, error) {
	return m.StopWithTimeout(ctx, ref, m.stopTimeout)
}

func (m *Manager) StopWithTimeout(ctx context.Context, ref registry.Ref, timeout time.Duration) (api.State, error) {
	e, err := m.reg.Get(ref)
	if err != nil {
		return "", err
	}

	e.LockOp()
	defer e.UnlockOp()

	st := e.State()
	if !st.Active() {
		m.logger.DebugContext(ctx, "stop: not active", "ref", ref.String(), "state", st)
		return st, nil
	}

	h := e.Handle()
	m.transition(e, api.StateStopping, "")

	detail := ""
	if !proc.Stop(m.logger, ref.String(), h, timeout) {
		detail = "process did not exit after SIGKILL"
		m.logger.WarnContext(ctx, "stop: process could not be killed", "ref", ref.String(), "pid", h.Pid())
	}

	e.SetHandle(nil)
	m.transition(e, api.StateStopped, detail)
	m.logger.InfoContext(ctx, "stop: stopped", "ref", ref.String())
	return api.StateStopped, nil
}

func (m *Manager) Status(ref registry.Ref) (api.SessionStatus, error) {
	e, err := m.reg.Get(ref)
	if err != nil {
		return api.SessionStatus{}, err
	}
	return e.Status(), nil
}

// StopAll stops every active session in parallel, then the frontend, then
// the signaling relay. Each step finishes before the next begins.
func (m *Manager) StopAll(ctx context.Context) error {
	var errs []error

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for _, e := range m.reg.Active() {
		ref := e.Ref()
		g.Go(func() error {
			_, err := m.Stop(gctx, ref)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	svcs := m.reg.Services()
	for i := len(svcs) - 1; i >= 0; i-- {
		if _, err := m.Stop(ctx, svcs[i].Ref()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// watch reacts to a process exiting on its own.
func (m *Manager) watch(e *registry.Entry, h proc.Handle) {
	<-h.Done()

	e.LockOp()
	defer e.UnlockOp()
	if e.Handle() != h {
		// stopped on purpose or replaced
		return
	}
	detail := "process exited unexpectedly"
	if err := h.ExitErr(); err != nil {
		detail = fmt.Sprintf("%s: %v", detail, err)
	}
	m.logger.Warn("watch: process exited", "ref", e.Ref().String(), "pid", h.Pid(), "detail", detail)
	e.SetHandle(nil)
	m.transition(e, api.StateStopped, fmt.Sprintf("%v: %s", errdefs.ErrProcess, detail))
}

func (m *Manager) transition(e *registry.Entry, st api.State, detail string) {
	e.SetState(st, detail)
	ref := e.Ref()
	ev := api.Event{State: st, Detail: detail, When: time.Now()}
	if ref.IsSession() {
		ev.ID = ref.ID.Ptr()
	} else {
		ev.Service = ref.Service
	}
	trySendEvent(m.logger, m.events, ev)
}

// non-blocking so a slow controller never stalls a start or stop
func trySendEvent(logger *slog.Logger, ch chan<- api.Event, ev api.Event) {
	if ch == nil {
		return
	}
	logger.Debug("send event", "service", ev.Service, "state", ev.State, "detail", ev.Detail)
	select {
	case ch <- ev:
	default:
		logger.Warn("event dropped; channel full", "state", ev.State)
	}
}

func (m *Manager) specFor(e *registry.Entry) (proc.Spec, error) {
	ref := e.Ref()
	if !ref.IsSession() {
		sc := m.cmds.Signaling
		if ref.Service == api.ServiceFrontend {
			sc = m.cmds.Frontend
		}
		fields := strings.Fields(sc.Command)
		if len(fields) == 0 {
			return proc.Spec{}, fmt.Errorf("%w: %s", errdefs.ErrSpecCmdMissing, ref.Service)
		}
		return proc.Spec{
			Name:    string(ref.Service),
			Path:    fields[0],
			Args:    fields[1:],
			Dir:     sc.Dir,
			Env:     m.cmds.Env,
			LogFile: m.logFile(string(ref.Service)),
			TTY:     sc.TTY,
		}, nil
	}

	inst := e.Instance()
	l := m.cmds.Layout
	exe := l.ExecutablePath(ref.ID)
	r := strings.NewReplacer(
		"{dir}", l.Dir(ref.ID),
		"{id}", ref.ID.String(),
		"{port}", strconv.Itoa(inst.Port),
		"{outputConfig}", l.OutputConfigPath(ref.ID),
	)
	args := make([]string, len(m.cmds.EngineArgs))
	for i, a := range m.cmds.EngineArgs {
		args[i] = r.Replace(a)
	}
	return proc.Spec{
		Name:    "session-" + ref.ID.String(),
		Path:    exe,
		Args:    args,
		Dir:     filepath.Dir(exe),
		Env:     m.cmds.Env,
		LogFile: m.logFile("session-" + ref.ID.String()),
		TTY:     m.cmds.EngineTTY,
	}, nil
}

func (m *Manager) logFile(name string) string {
	if m.cmds.LogDir == "" {
		return ""
	}
	return filepath.Join(m.cmds.LogDir, name+".log")
}
