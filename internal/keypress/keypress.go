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
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode"

	"golang.org/x/term"
)

// Listener watches an interactive input for the quit key. The terminal is
// switched to raw mode so a single key press is enough.
type Listener struct {
	logger *slog.Logger
	in     *os.File
	key    rune
}

func New(logger *slog.Logger, in *os.File, key string) *Listener {
	k := 'q'
	if r := []rune(strings.TrimSpace(key)); len(r) > 0 {
		k = r[0]
	}
	return &Listener{logger: logger, in: in, key: unicode.ToLower(k)}
}

// Enabled reports whether the input is a terminal.
func (l *Listener) Enabled() bool {
	return l.in != nil && term.IsTerminal(int(l.in.Fd()))
}

// Run calls onQuit once when the quit key is read, in either case. It
// returns when the key was pressed, the input ends, or ctx is done. A
// non-interactive input disables the listener.
func (l *Listener) Run(ctx context.Context, onQuit func()) error {
	if !l.Enabled() {
		l.logger.Info("keypress: input is not a terminal, quit key disabled")
		return nil
	}

	fd := int(l.in.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		l.logger.Error("keypress: failed to set raw mode", "error", err)
		return err
	}
	defer func() {
		if errR := term.Restore(fd, state); errR != nil {
			l.logger.Warn("keypress: failed to restore terminal state", "error", errR)
		}
	}()
	l.logger.Info("keypress: press the quit key to shut down", "key", string(l.key))

	pressed := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		for {
			n, errR := l.in.Read(buf)
			if n == 1 && unicode.ToLower(rune(buf[0])) == l.key {
				pressed <- nil
				return
			}
			if errR != nil {
				pressed <- errR
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		// the reader stays blocked until the input closes
		return nil
	case errP := <-pressed:
		if errP != nil {
			if errors.Is(errP, io.EOF) || errors.Is(errP, os.ErrClosed) {
				return nil
			}
			l.logger.Warn("keypress: read failed", "error", errP)
			return errP
		}
		l.logger.Warn("keypress: quit key pressed")
		onQuit()
		return nil
	}
}
