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
	"net"
	"os"
	"strings"
	"testing"

	"github.com/eminwux/rendervisor/internal/discovery"
	"github.com/eminwux/rendervisor/internal/instance"
)

func TestRendervisor_Help(t *testing.T) {
	t.Parallel()

	_ = runReturningBinary(t, nil, rendervisor, "-h")
	_ = runReturningBinary(t, nil, rendervisor, "--help")
	_ = runReturningBinary(t, nil, rvctl, "--help")
}

func TestProvision_ListEmptyRoot(t *testing.T) {
	t.Parallel()

	l := instance.DefaultLayout(t.TempDir())
	env := baseEnv(t, l, freeAddr(t))
	out := runReturningBinary(t, env, rendervisor, "provision", "list")
	if string(out) != discovery.NoInstancesString {
		t.Fatalf("expected %s\n got:\n%s", discovery.NoInstancesString, string(out))
	}
}

func TestProvision_TwiceThenList(t *testing.T) {
	t.Parallel()

	l := newInstancesRoot(t)
	env := append(baseEnv(t, l, freeAddr(t)),
		"OPENSPACE_SYNC="+t.TempDir(),
		"RENDERVISOR_PROVISION_HEADROOM=0",
		"RENDERVISOR_PROVISION_COPY_DIRS=bin config data",
	)

	_ = runReturningBinary(t, env, rendervisor, "provision")
	_ = runReturningBinary(t, env, rendervisor, "provision")

	out := string(runReturningBinary(t, env, rendervisor, "provision", "list", "-o", "yaml"))
	for _, want := range []string{"port: 4683", "port: 4684", "streamId: 2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q\n got:\n%s", want, out)
		}
	}
}

func TestProvision_MissingSyncEnvLeavesNothing(t *testing.T) {
	t.Parallel()

	l := newInstancesRoot(t)
	env := append(baseEnv(t, l, freeAddr(t)), "OPENSPACE_SYNC=")

	if _, code := runBinary(t, env, rendervisor, "provision"); code == 0 {
		t.Fatal("expected provision to fail without OPENSPACE_SYNC")
	}
	entries, err := os.ReadDir(l.Root)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected only the template; got: %v (%v)", entries, err)
	}
}

func TestRun_BindFailureExitsOne(t *testing.T) {
	t.Parallel()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	l := newInstancesRoot(t)
	env := baseEnv(t, l, busy.Addr().String())
	if out, code := runBinary(t, env, rendervisor, "run"); code != 1 {
		t.Fatalf("expected exit code 1; got: %d\noutput:\n%s", code, string(out))
	}
}

func TestRun_QuitKey(t *testing.T) {
	l := newInstancesRoot(t)
	env := baseEnv(t, l, freeAddr(t))

	ptmx, exitCh := startSupervisorPty(t, env)
	waitForSupervisor(t, env)

	if _, err := ptmx.WriteString("Q"); err != nil {
		t.Fatalf("error sending quit key: %v", err)
	}
	if code := waitExit(t, exitCh); code != 0 {
		t.Fatalf("expected exit code 0; got: %d", code)
	}
}
