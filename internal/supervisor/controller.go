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

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/internal/instance"
	"github.com/eminwux/rendervisor/internal/proc"
	"github.com/eminwux/rendervisor/internal/supervisor/channel"
	"github.com/eminwux/rendervisor/internal/supervisor/procmgr"
	"github.com/eminwux/rendervisor/internal/supervisor/registry"
	"github.com/eminwux/rendervisor/internal/supervisor/watcher"
	"github.com/eminwux/rendervisor/pkg/api"
)

// SupervisorController is what the run command drives.
type SupervisorController interface {
	Run(spec *Spec) error
	WaitReady() error
	Close(reason error) error
	WaitClose() error
}

// Spec is the resolved configuration of one supervisor run.
type Spec struct {
	Layout         instance.Layout
	Commands       procmgr.Commands
	ControlAddress string
	StopTimeout    time.Duration
	StartServices  bool
	WatchInstances bool
}

/* ---------- Controller ---------- */

// Controller owns the registry, the process manager and the command channel.
type Controller struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	logger *slog.Logger

	NewSpawner func(logger *slog.Logger) proc.Spawner
	NewChannel func(logger *slog.Logger, addr string, h channel.Handler) Channel
	NewWatcher func(logger *slog.Logger, l instance.Layout, onAdd func(instance.Instance)) (Watcher, error)

	spec *Spec
	reg  *registry.Registry
	mgr  *procmgr.Manager
	ch   Channel
	w    Watcher

	ctrlReadyCh  chan struct{}
	closeReqCh   chan error
	closedCh     chan struct{}
	shuttingDown atomic.Bool

	eventsCh chan api.Event

	srvReadyCh  chan error
	srvDoneCh   chan error
	serveCancel context.CancelFunc
}

// Channel is the part of channel.Server the controller uses.
type Channel interface {
	Listen() error
	Addr() net.Addr
	Serve(ctx context.Context, readyCh chan error, doneCh chan error)
	WaitIdle()
	Notify(ev api.Event)
	Close() error
}

type Watcher interface {
	Run(ctx context.Context) error
	Close() error
}

func NewController(ctx context.Context, logger *slog.Logger) *Controller {
	logger.InfoContext(ctx, "New supervisor controller is being created")
	newCtx, cancel := context.WithCancelCause(ctx)

	return &Controller{
		ctx:         newCtx,
		cancel:      cancel,
		logger:      logger,
		closedCh:    make(chan struct{}),
		ctrlReadyCh: make(chan struct{}),
		srvReadyCh:  make(chan error, 1),
		srvDoneCh:   make(chan error, 1),
		closeReqCh:  make(chan error, 1),
		//nolint:mnd // event channel buffer size
		eventsCh: make(chan api.Event, 32),
		NewSpawner: func(logger *slog.Logger) proc.Spawner {
			return proc.NewExec(logger)
		},
		NewChannel: func(logger *slog.Logger, addr string, h channel.Handler) Channel {
			return channel.New(logger, addr, h)
		},
		NewWatcher: func(logger *slog.Logger, l instance.Layout, onAdd func(instance.Instance)) (Watcher, error) {
			return watcher.New(logger, l, onAdd)
		},
	}
}

func (s *Controller) WaitReady() error {
	select {
	case <-s.ctrlReadyCh:
		return nil
	case <-s.ctx.Done():
		// a failed startup closes ctrlReadyCh before Run cancels ctx
		select {
		case <-s.ctrlReadyCh:
			return nil
		default:
		}
		return s.ctx.Err()
	}
}

// Run loads the instances, opens the command channel and then serves until
// a shutdown trigger arrives.
//
//nolint:funlen // main orchestration loop
func (s *Controller) Run(spec *Spec) error {
	s.spec = spec
	s.logger.Info("controller loop started", "root", spec.Layout.Root, "control_address", spec.ControlAddress)
	defer s.logger.Info("controller loop stopped", "root", spec.Layout.Root)
	defer s.cancel(errdefs.ErrCloseReq)

	s.reg = registry.New()
	s.mgr = procmgr.New(s.logger, s.reg, s.NewSpawner(s.logger), spec.Commands, spec.StopTimeout, s.eventsCh)

	instances, errScan := instance.Scan(s.ctx, s.logger, spec.Layout)
	if errScan != nil {
		s.logger.Error("failed to scan instances", "error", errScan)
		return s.abort(errScan)
	}
	for _, inst := range instances {
		if _, err := s.reg.AddSession(inst); err != nil {
			return s.abort(err)
		}
	}
	if _, gaps, err := instance.NextID(instances); err == nil && len(gaps) > 0 {
		s.logger.Warn("instance identities have gaps", "missing", gaps)
	}
	s.logger.Info("instances loaded", "total", len(instances))

	s.ch = s.NewChannel(s.logger, spec.ControlAddress, s)
	if errListen := s.ch.Listen(); errListen != nil {
		return s.abort(errListen)
	}

	// the channel outlives a canceled parent; Close shuts it after the
	// sessions and services are stopped
	serveCtx, serveCancel := context.WithCancel(context.WithoutCancel(s.ctx))
	s.serveCancel = serveCancel
	go s.ch.Serve(serveCtx, s.srvReadyCh, s.srvDoneCh)
	if errSrv := <-s.srvReadyCh; errSrv != nil {
		s.logger.Error("failed to start command channel", "error", errSrv)
		return s.abort(fmt.Errorf("%w: %w", errdefs.ErrStartServer, errSrv))
	}

	if spec.WatchInstances {
		w, errW := s.NewWatcher(s.logger, spec.Layout, s.onInstanceAdded)
		if errW != nil {
			// the supervisor still works on the instances it already knows
			s.logger.Warn("instance watcher disabled", "error", errW)
		} else {
			s.w = w
			go func() {
				if err := w.Run(s.ctx); err != nil {
					s.logger.Warn("instance watcher exited", "error", err)
				}
			}()
		}
	}

	if spec.StartServices {
		if err := s.mgr.StartServices(s.ctx); err != nil {
			s.logger.Error("failed to start shared services on boot", "error", err)
		}
	}

	s.logger.Info("controller ready, entering main event loop")
	close(s.ctrlReadyCh)

	for {
		select {
		case <-s.ctx.Done():
			var errDone error
			s.logger.Warn("parent context canceled, shutting down controller")
			if errC := s.Close(context.Cause(s.ctx)); errC != nil {
				s.logger.Error("error during Close after context done", "error", errC)
				errDone = fmt.Errorf("%w: %w", errdefs.ErrOnClose, errC)
			}
			return fmt.Errorf("%w: %w", errdefs.ErrContextDone, errDone)

		case ev := <-s.eventsCh:
			s.logger.Debug(
				"received supervisor event",
				"id", ev.ID,
				"service", ev.Service,
				"state", ev.State,
				"detail", ev.Detail,
				"event_time", ev.When.Format(time.RFC3339Nano),
			)
			s.ch.Notify(ev)

		case errSrv := <-s.srvDoneCh:
			if s.shuttingDown.Load() || s.ctx.Err() != nil {
				// closed by our own shutdown; the close request follows
				s.srvDoneCh = nil
				continue
			}
			s.logger.Error("command channel exited", "error", errSrv)
			if errSrv == nil {
				errSrv = errdefs.ErrServerExited
			}
			if errC := s.Close(errSrv); errC != nil {
				s.logger.Error("error during Close after command channel failure", "error", errC)
				errSrv = fmt.Errorf("%w: %w: %w", errSrv, errdefs.ErrOnClose, errC)
			}
			return fmt.Errorf("%w: %w", errdefs.ErrServerExited, errSrv)

		case errClose := <-s.closeReqCh:
			s.logger.Warn("close request received", "error", errClose)
			return fmt.Errorf("%w: %w", errdefs.ErrCloseReq, errClose)
		}
	}
}

// abort closes whatever was set up before a startup failure and releases
// WaitReady callers.
func (s *Controller) abort(err error) error {
	if errC := s.Close(err); errC != nil {
		s.logger.Error("error during Close after startup failure", "error", errC)
		err = fmt.Errorf("%w: %w: %w", err, errdefs.ErrOnClose, errC)
	}
	close(s.ctrlReadyCh)
	return err
}

func (s *Controller) onInstanceAdded(inst instance.Instance) {
	if _, err := s.reg.AddSession(inst); err != nil {
		if !errors.Is(err, errdefs.ErrSessionExists) {
			s.logger.Warn("could not register new instance", "id", inst.ID, "error", err)
		}
		return
	}
	s.logger.Info("new instance registered", "id", inst.ID, "dir", inst.Dir, "port", inst.Port)
	ev := api.Event{ID: inst.ID.Ptr(), State: api.StateProvisioned, When: time.Now()}
	select {
	case s.eventsCh <- ev:
	default:
		s.logger.Warn("event dropped; channel full", "state", ev.State)
	}
}

// Close runs the ordered shutdown once: sessions, frontend, signaling
// relay, then the command channel. Later calls are logged and ignored.
func (s *Controller) Close(reason error) error {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		s.logger.Info("shutdown sequence already in progress, ignoring duplicate request", "reason", reason)
		return nil
	}
	s.logger.Info("initiating shutdown sequence", "reason", reason)

	var errs []error

	// let running START/STOP handlers settle before stopping everything
	if s.ch != nil {
		s.ch.WaitIdle()
	}

	if s.mgr != nil {
		if err := s.mgr.StopAll(s.ctx); err != nil {
			s.logger.Error("stopping processes failed", "error", err)
			errs = append(errs, err)
		}
	}

	if s.w != nil {
		if err := s.w.Close(); err != nil {
			s.logger.Warn("closing instance watcher failed", "error", err)
		}
	}

	if s.ch != nil {
		if err := s.ch.Close(); err != nil {
			s.logger.Error("closing command channel failed", "error", err)
			errs = append(errs, err)
		}
	}
	if s.serveCancel != nil {
		s.serveCancel()
	}

	// Notify Run to exit
	s.closeReqCh <- reason

	close(s.closedCh)
	s.logger.Info("shutdown sequence complete")
	return errors.Join(errs...)
}

// Addr is the bound control address, nil before Run has listened.
func (s *Controller) Addr() net.Addr {
	if s.ch == nil {
		return nil
	}
	return s.ch.Addr()
}

func (s *Controller) WaitClose() error {
	<-s.closedCh
	s.logger.Debug("controller has fully exited and resources are released")
	return nil
}
