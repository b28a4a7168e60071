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
	"fmt"

	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/internal/supervisor/channel"
	"github.com/eminwux/rendervisor/internal/supervisor/registry"
	"github.com/eminwux/rendervisor/pkg/api"
)

// Handle answers one controller request. It runs on its own goroutine per
// request; per-session serialization lives in the process manager.
func (s *Controller) Handle(ctx context.Context, req *api.Request) *api.Response {
	s.logger.DebugContext(ctx, "Handle: command", "command", req.Command, "id", req.ID)

	switch req.Command {
	case api.CmdServerStatus:
		return s.serverStatus()
	case api.CmdStatus:
		return s.status(req)
	case api.CmdStart:
		return s.start(ctx, req)
	case api.CmdStop:
		return s.stop(ctx, req)
	case api.CmdShutdown:
		return s.shutdown()
	case api.CmdProvision:
		return channel.ErrorResponse(errdefs.ErrProvisionOutOfBand)
	default:
		s.logger.WarnContext(ctx, "Handle: unknown command", "command", req.Command)
		return channel.ErrorResponse(fmt.Errorf("%w: unknown command %q", errdefs.ErrProtocol, req.Command))
	}
}

func (s *Controller) serverStatus() *api.Response {
	snap := s.reg.Snapshot()
	resp := channel.OKResponse()
	resp.Running = &snap.Running
	resp.Total = &snap.Total
	resp.Active = snap.Active
	resp.Services = snap.Services
	return resp
}

func (s *Controller) status(req *api.Request) *api.Response {
	if req.ID == nil {
		return channel.ErrorResponse(fmt.Errorf("%w: %s requires an id", errdefs.ErrProtocol, req.Command))
	}
	st, err := s.mgr.Status(registry.SessionRef(*req.ID))
	if err != nil {
		return withID(channel.ErrorResponse(err), *req.ID, "")
	}
	resp := withID(channel.OKResponse(), *req.ID, st.State)
	resp.Status = string(st.State)
	resp.Session = &st
	return resp
}

func (s *Controller) start(ctx context.Context, req *api.Request) *api.Response {
	if s.shuttingDown.Load() {
		return channel.ErrorResponse(errdefs.ErrShuttingDown)
	}

	if req.ID == nil {
		id, st, err := s.mgr.StartIdle(ctx)
		if err != nil {
			resp := channel.ErrorResponse(err)
			if st != "" {
				resp = withID(resp, id, st)
			}
			return resp
		}
		return withID(channel.OKResponse(), id, st)
	}

	st, err := s.mgr.Start(ctx, registry.SessionRef(*req.ID))
	if err != nil {
		return withID(channel.ErrorResponse(err), *req.ID, st)
	}
	return withID(channel.OKResponse(), *req.ID, st)
}

func (s *Controller) stop(ctx context.Context, req *api.Request) *api.Response {
	if req.ID == nil {
		return channel.ErrorResponse(fmt.Errorf("%w: %s requires an id", errdefs.ErrProtocol, req.Command))
	}
	st, err := s.mgr.Stop(ctx, registry.SessionRef(*req.ID))
	if err != nil {
		return withID(channel.ErrorResponse(err), *req.ID, st)
	}
	return withID(channel.OKResponse(), *req.ID, st)
}

// shutdown replies first. Close waits for in-flight requests, this one
// included, so it must not run on the request goroutine.
func (s *Controller) shutdown() *api.Response {
	if s.shuttingDown.Load() {
		s.logger.Info("shutdown: already in progress")
		return channel.OKResponse()
	}
	s.logger.Warn("shutdown: requested by controller")
	go func() {
		if err := s.Close(errdefs.ErrShutdownRequested); err != nil {
			s.logger.Error("shutdown: close failed", "error", err)
		}
	}()
	return channel.OKResponse()
}

func withID(resp *api.Response, id api.ID, st api.State) *api.Response {
	resp.ID = id.Ptr()
	resp.State = st
	return resp
}
