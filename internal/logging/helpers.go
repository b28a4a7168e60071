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

package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func ParseLevel(lvl string) slog.Level {
	switch lvl {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "err":
		return slog.LevelError
	default:
		// default if unknown
		return slog.LevelInfo
	}
}

// NewNoopLogger returns a logger that discards everything. It is placed in the
// root context before flags are parsed so commands never see a nil logger.
func NewNoopLogger() *slog.Logger {
	return slog.New(NewReformatHandler(io.Discard, slog.LevelError))
}

// SetupLogger installs a ReformatHandler on cmd's context. An empty logfile
// logs to stderr.
func SetupLogger(cmd *cobra.Command, logfile string, loglevel string) error {
	if cmd == nil {
		return errors.New("cmd must not be nil")
	}

	var w io.Writer = os.Stderr
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if logfile != "" {
		if err := os.MkdirAll(filepath.Dir(logfile), 0o700); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}

		f, err := os.OpenFile(logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = f
		ctx = context.WithValue(ctx, CtxCloser, f)
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(ParseLevel(loglevel))

	handler := NewReformatHandler(w, levelVar)
	logger := slog.New(handler)

	ctx = context.WithValue(ctx, CtxLogger, logger)
	ctx = context.WithValue(ctx, CtxLevelVar, levelVar)
	ctx = context.WithValue(ctx, CtxHandler, handler)

	cmd.SetContext(ctx)
	return nil
}

// FromContext returns the logger stored by SetupLogger.
func FromContext(ctx context.Context) (*slog.Logger, bool) {
	if ctx == nil {
		return nil, false
	}
	logger, ok := ctx.Value(CtxLogger).(*slog.Logger)
	return logger, ok && logger != nil
}

// CloseFromContext closes the log file opened by SetupLogger, if any.
func CloseFromContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	if c, _ := ctx.Value(CtxCloser).(io.Closer); c != nil {
		_ = c.Close()
	}
}
