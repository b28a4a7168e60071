//go:build e2e

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

package e2e_test

import (
	"context"
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/eminwux/rendervisor/internal/instance"
	"github.com/eminwux/rendervisor/internal/instance/instancetest"
)

const (
	rendervisor = "rendervisor"
	rvctl       = "rvctl"
)

// binPath resolves a binary under E2E_BIN_DIR. rvctl is usually a symlink
// to rendervisor.
func binPath(t *testing.T, command string) string {
	t.Helper()
	dir := os.Getenv("E2E_BIN_DIR")
	if dir == "" {
		dir = ".." // or detect repo root
	}
	bin := filepath.Join(dir, command)
	if _, err := os.Stat(bin); os.IsNotExist(err) {
		t.Skipf("binary %s not found, skipping", bin)
	}
	return bin
}

// runBinary runs command to completion and returns its combined output and
// exit code.
func runBinary(t *testing.T, env []string, command string, args ...string) ([]byte, int) {
	t.Helper()
	bin := binPath(t, command)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return out, 0
	case errors.As(err, &exitErr):
		return out, exitErr.ExitCode()
	default:
		t.Fatalf("running %s %v failed: %v\noutput:\n%s", bin, args, err, string(out))
		return nil, -1
	}
}

// runReturningBinary fails the test on a non-zero exit or empty output.
func runReturningBinary(t *testing.T, env []string, command string, args ...string) []byte {
	t.Helper()
	out, code := runBinary(t, env, command, args...)
	if code != 0 {
		t.Fatalf("%s %v exited %d\noutput:\n%s", command, args, code, string(out))
	}
	if len(out) == 0 {
		t.Fatalf("no output from %s %v", command, args)
	}
	return out
}

// startSupervisorPty starts `rendervisor run` with a pseudo-terminal as its
// controlling terminal so the quit key can be typed into ptmx.
func startSupervisorPty(t *testing.T, env []string, args ...string) (*os.File, <-chan int) {
	t.Helper()
	bin := binPath(t, rendervisor)

	ptmx, pts, err := pty.Open()
	if err != nil {
		t.Fatalf("error opening pty: %v", err)
	}
	t.Cleanup(func() { _ = ptmx.Close() })
	if errSize := pty.Setsize(ptmx, &pty.Winsize{Cols: 120, Rows: 40}); errSize != nil {
		t.Errorf("error setting pty size: %v", errSize)
	}

	procAttr := &os.ProcAttr{
		Env:   append(os.Environ(), env...),
		Files: []*os.File{pts, pts, pts},
		Sys: &syscall.SysProcAttr{
			Setsid:  true, // detach from your pg/ctty
			Setctty: true,
			Ctty:    0,
		},
	}
	p, err := os.StartProcess(bin, append([]string{bin, "run"}, args...), procAttr)
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	_ = pts.Close()

	// drain the terminal so the child never blocks on output
	go func() {
		buf := make([]byte, 4096)
		for {
			n, errR := ptmx.Read(buf)
			if n > 0 {
				t.Logf("rendervisor output: %q", buf[:n])
			}
			if errR != nil {
				return
			}
		}
	}()

	exitCh := make(chan int, 1)
	go func() {
		st, errW := p.Wait()
		if errW != nil {
			exitCh <- -1
			return
		}
		exitCh <- st.ExitCode()
	}()
	t.Cleanup(func() { _ = p.Kill() })
	return ptmx, exitCh
}

// newInstancesRoot returns an instances root holding only the template.
func newInstancesRoot(t *testing.T) instance.Layout {
	t.Helper()
	l := instance.DefaultLayout(filepath.Join(t.TempDir(), "instances"))
	instancetest.WriteInstance(t, l.TemplateDir(), 4682, 0)
	return l
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

// baseEnv isolates a test from the user's config and run path.
func baseEnv(t *testing.T, l instance.Layout, addr string) []string {
	t.Helper()
	home := t.TempDir()
	return []string{
		"HOME=" + home,
		"RENDERVISOR_RUN_PATH=" + filepath.Join(home, "run"),
		"RENDERVISOR_INSTANCES_ROOT=" + l.Root,
		"RENDERVISOR_CONTROL_ADDRESS=" + addr,
		"RENDERVISOR_STOP_TIMEOUT=2s",
	}
}

// waitForSupervisor polls server-status until the command channel answers.
func waitForSupervisor(t *testing.T, env []string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, code := runBinary(t, env, rvctl, "server-status", "--timeout", "1s"); code == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("supervisor did not come up")
}

func waitExit(t *testing.T, exitCh <-chan int) int {
	t.Helper()
	select {
	case code := <-exitCh:
		return code
	case <-time.After(15 * time.Second):
		t.Fatal("timeout waiting for rendervisor to exit")
		return -1
	}
}
