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
	"log/slog"
	"time"
)

// ForceWait is how long Stop waits for a process after SIGKILL.
var ForceWait = 5 * time.Second //nolint:gochecknoglobals // tests shorten it

// Stop terminates h gracefully, waits up to timeout, and escalates to a
// forced kill. It reports whether the process is gone.
func Stop(logger *slog.Logger, name string, h Handle, timeout time.Duration) bool {
	if h == nil || !h.Alive() {
		return true
	}

	if err := h.Terminate(Graceful); err != nil {
		logger.Warn("Stop: graceful terminate failed", "name", name, "pid", h.Pid(), "error", err)
	}
	if h.Wait(timeout) {
		return true
	}

	logger.Warn("Stop: process did not exit in time, escalating", "name", name, "pid", h.Pid(), "timeout", timeout)
	if err := h.Terminate(Forced); err != nil {
		logger.Warn("Stop: forced terminate failed", "name", name, "pid", h.Pid(), "error", err)
	}
	if h.Wait(ForceWait) {
		return true
	}

	logger.Warn("Stop: process survived SIGKILL", "name", name, "pid", h.Pid())
	return false
}
