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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/eminwux/rendervisor/internal/errdefs"
	"golang.org/x/sys/unix"
)

// Signal selects how a process group is asked to terminate.
type Signal int

const (
	Graceful Signal = iota // SIGTERM
	Forced                 // SIGKILL
)

func (s Signal) String() string {
	switch s {
	case Graceful:
		return "graceful"
	case Forced:
		return "forced"
	default:
		return "unknown"
	}
}

func (s Signal) unix() unix.Signal {
	if s == Forced {
		return unix.SIGKILL
	}
	return unix.SIGTERM
}

// Spec describes one child process.
type Spec struct {
	Name    string   // service or session name, used in logs
	Path    string   // executable; looked up in PATH when it has no slash
	Args    []string // arguments after Path
	Dir     string   // working directory
	Env     []string // nil inherits the supervisor environment
	LogFile string   // stdout and stderr; empty discards output
	TTY     bool     // run attached to a pseudo-terminal
}

// Handle is a running child process and its process group.
type Handle interface {
	Pid() int
	Terminate(sig Signal) error
	// Wait blocks until the process exits or timeout elapses and reports
	// whether the process exited.
	Wait(timeout time.Duration) bool
	Alive() bool
	Done() <-chan struct{}
	// ExitErr is the result of the child's wait. Only valid after Done.
	ExitErr() error
}

type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (Handle, error)
}

type Exec struct {
	logger *slog.Logger
}

func NewExec(logger *slog.Logger) *Exec {
	return &Exec{logger: logger}
}

// ptyDrain bounds how long the reaper waits for pty output after exit.
const ptyDrain = 2 * time.Second

type process struct {
	logger *slog.Logger
	name   string
	cmd    *exec.Cmd
	pid    int

	done    chan struct{}
	exitMu  sync.Mutex
	exitErr error

	closers  []io.Closer
	copyDone chan struct{}
}

func (e *Exec) Spawn(_ context.Context, spec Spec) (Handle, error) {
	if spec.Path == "" {
		return nil, fmt.Errorf("%w: %s", errdefs.ErrSpecCmdMissing, spec.Name)
	}

	e.logger.Debug("Spawn: preparing process",
		"name", spec.Name,
		"path", spec.Path,
		"args", spec.Args,
		"dir", spec.Dir,
		"tty", spec.TTY,
	)

	//nolint:gosec,noctx // commands come from the operator's config; children must outlive request contexts
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	p := &process{
		logger: e.logger,
		name:   spec.Name,
		cmd:    cmd,
		done:   make(chan struct{}),
	}

	var logf *os.File
	if spec.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(spec.LogFile), 0o700); err != nil {
			return nil, fmt.Errorf("%w: create log dir: %w", errdefs.ErrStartCmd, err)
		}
		f, err := os.OpenFile(spec.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("%w: open log file: %w", errdefs.ErrStartCmd, err)
		}
		logf = f
		p.closers = append(p.closers, f)
	}

	if spec.TTY {
		// Setsid also makes the child a process group leader.
		ptmx, err := pty.StartWithAttrs(cmd, nil, &syscall.SysProcAttr{Setsid: true, Setctty: true})
		if err != nil {
			p.closeAll()
			e.logger.Error("Spawn: failed to start command in pty", "name", spec.Name, "error", err)
			return nil, fmt.Errorf("%w: %w", errdefs.ErrStartCmd, err)
		}
		// the copy goroutine owns the log file so the output tail is written
		// before it is closed
		p.closers = []io.Closer{ptmx}
		p.copyDone = make(chan struct{})
		var out io.Writer = io.Discard
		if logf != nil {
			out = logf
		}
		go func() {
			defer close(p.copyDone)
			// returns EIO once the child side closes
			_, _ = io.Copy(out, ptmx)
			if logf != nil {
				_ = logf.Close()
			}
		}()
	} else {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		if logf != nil {
			cmd.Stdout = logf
			cmd.Stderr = logf
		}
		if err := cmd.Start(); err != nil {
			p.closeAll()
			e.logger.Error("Spawn: failed to start command", "name", spec.Name, "error", err)
			return nil, fmt.Errorf("%w: %w", errdefs.ErrStartCmd, err)
		}
	}

	p.pid = cmd.Process.Pid
	e.logger.Info("Spawn: process started", "name", spec.Name, "pid", p.pid)

	// reap it in the background so it never zombifies
	go p.reap()

	return p, nil
}

func (p *process) reap() {
	err := p.cmd.Wait()
	if err != nil {
		p.logger.Warn("process exited with error", "name", p.name, "pid", p.pid, "error", err)
	} else {
		p.logger.Info("process exited", "name", p.name, "pid", p.pid)
	}
	p.exitMu.Lock()
	p.exitErr = err
	p.exitMu.Unlock()
	if p.copyDone != nil {
		// a grandchild holding the pty open must not block the reaper
		select {
		case <-p.copyDone:
		case <-time.After(ptyDrain):
		}
	}
	p.closeAll()
	if p.copyDone != nil {
		<-p.copyDone
	}
	close(p.done)
}

func (p *process) closeAll() {
	for _, c := range p.closers {
		_ = c.Close()
	}
	p.closers = nil
}

func (p *process) Pid() int { return p.pid }

func (p *process) Terminate(sig Signal) error {
	if !p.Alive() {
		return nil
	}
	p.logger.Debug("Terminate: signalling process group", "name", p.name, "pid", p.pid, "signal", sig.String())

	err := unix.Kill(-p.pid, sig.unix())
	if errors.Is(err, unix.ESRCH) {
		// group already gone; fall back to the leader alone
		err = unix.Kill(p.pid, sig.unix())
	}
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("%w: signal %s to %d: %w", errdefs.ErrProcess, sig, p.pid, err)
	}
	return nil
}

func (p *process) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	}
}

func (p *process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) ExitErr() error {
	p.exitMu.Lock()
	defer p.exitMu.Unlock()
	return p.exitErr
}
