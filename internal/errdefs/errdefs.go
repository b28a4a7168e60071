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

package errdefs

import "errors"

// Failure taxonomy. Callers wrap these with fmt.Errorf("%w: %w", ...) and
// match them with errors.Is.
var (
	ErrPrecondition    = errors.New("precondition not met")
	ErrResource        = errors.New("insufficient resources")
	ErrProcess         = errors.New("process error")
	ErrProtocol        = errors.New("protocol error")
	ErrPartialFailure  = errors.New("provisioning failed and was rolled back")
	ErrOpenControlPort = errors.New("could not open control port")
)

var (
	ErrFuncNotSet          = errors.New("function not set")
	ErrContextDone         = errors.New("context has been cancelled")
	ErrWaitOnReady         = errors.New("waiting for readiness has failed")
	ErrWaitOnClose         = errors.New("waiting for close has failed")
	ErrChildExit           = errors.New("child routine exited")
	ErrStartServer         = errors.New("error starting command channel server")
	ErrServerExited        = errors.New("command channel server exited with error")
	ErrOnClose             = errors.New("error closing")
	ErrCloseReq            = errors.New("close requested")
	ErrConfig              = errors.New("config error")
	ErrLoggerNotFound      = errors.New("logger not found in context")
	ErrInvalidFlag         = errors.New("invalid flag usage")
	ErrInvalidArgument     = errors.New("invalid positional argument")
	ErrUnknownSession      = errors.New("invalid id")
	ErrUnknownService      = errors.New("unknown service")
	ErrNoIdleSession       = errors.New("no available slots")
	ErrSessionExists       = errors.New("session id already exists in registry")
	ErrSpecCmdMissing      = errors.New("process spec is missing a command")
	ErrStartCmd            = errors.New("could not start cmd")
	ErrTemplateMissing     = errors.New("template instance not found")
	ErrInstanceScan        = errors.New("could not scan instance directories")
	ErrEngineConfig        = errors.New("engine config error")
	ErrOutputConfig        = errors.New("output config error")
	ErrControllerBusy      = errors.New("a controller is already connected")
	ErrShuttingDown        = errors.New("supervisor is shutting down")
	ErrProvisionOutOfBand  = errors.New("provisioning is not available over the command channel")
	ErrWatchInstances      = errors.New("could not watch instance directories")
	ErrClientRequestFailed = errors.New("controller request failed")
	ErrShutdownRequested   = errors.New("shutdown requested by controller")
	ErrQuitKey             = errors.New("quit key pressed")
	ErrSignal              = errors.New("termination signal received")
	ErrNoActiveSession     = errors.New("no active session")
)
