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

package keypress

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	expect "github.com/Netflix/go-expect"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newConsole(t *testing.T) *expect.Console {
	t.Helper()
	console, err := expect.NewConsole(expect.WithDefaultTimeout(2 * time.Second))
	if err != nil {
		t.Skipf("pseudo-terminal not available: %v", err)
	}
	t.Cleanup(func() { _ = console.Close() })
	return console
}

func Test_QuitKeyTriggersCallback(t *testing.T) {
	tests := []struct {
		name string
		send string
	}{
		{name: "lower case", send: "xq"},
		{name: "upper case", send: "aQ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			console := newConsole(t)
			l := New(newTestLogger(), console.Tty(), "q")
			if !l.Enabled() {
				t.Fatalf("expected '%v'; got: '%v'", true, l.Enabled())
			}

			quit := make(chan struct{}, 1)
			done := make(chan error, 1)
			go func() {
				done <- l.Run(context.Background(), func() { quit <- struct{}{} })
			}()

			time.Sleep(50 * time.Millisecond)
			if _, err := console.Send(tt.send); err != nil {
				t.Fatalf("expected '%v'; got: '%v'", nil, err)
			}

			select {
			case <-quit:
			case <-time.After(2 * time.Second):
				t.Fatalf("expected the quit callback")
			}
			if err := <-done; err != nil {
				t.Fatalf("expected '%v'; got: '%v'", nil, err)
			}
		})
	}
}

func Test_OtherKeysAreIgnored(t *testing.T) {
	console := newConsole(t)
	l := New(newTestLogger(), console.Tty(), "q")

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- l.Run(ctx, func() { quit <- struct{}{} })
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := console.Send("hello world\r"); err != nil {
		t.Fatalf("expected '%v'; got: '%v'", nil, err)
	}

	select {
	case <-quit:
		t.Fatalf("expected no quit callback")
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected '%v'; got: '%v'", nil, err)
	}
}

func Test_NonTerminalInputDisablesListener(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	l := New(newTestLogger(), r, "")
	if l.Enabled() {
		t.Fatalf("expected '%v'; got: '%v'", false, l.Enabled())
	}
	called := false
	if errRun := l.Run(context.Background(), func() { called = true }); errRun != nil {
		t.Fatalf("expected '%v'; got: '%v'", nil, errRun)
	}
	if called {
		t.Fatalf("expected no quit callback")
	}
}
