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

package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/internal/supervisor/channel"
	"github.com/eminwux/rendervisor/pkg/api"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startChannel(t *testing.T, h channel.Handler) *channel.Server {
	t.Helper()
	s := channel.New(newTestLogger(), "127.0.0.1:0", h)
	if err := s.Listen(); err != nil {
		t.Fatalf("expected '%v'; got: '%v'", nil, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	readyCh := make(chan error, 1)
	doneCh := make(chan error, 1)
	go s.Serve(ctx, readyCh, doneCh)
	if err := <-readyCh; err != nil {
		t.Fatalf("expected '%v'; got: '%v'", nil, err)
	}
	t.Cleanup(func() {
		cancel()
		_ = s.Close()
		<-doneCh
	})
	return s
}

func dialChannel(t *testing.T, s *channel.Server) Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, s.Addr().String(), WithLogger(newTestLogger()))
	if err != nil {
		t.Fatalf("expected '%v'; got: '%v'", nil, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func Test_DoMatchesResponsesByRequestID(t *testing.T) {
	s := startChannel(t, channel.HandlerFunc(func(_ context.Context, req *api.Request) *api.Response {
		if req.ID != nil && *req.ID == 0 {
			time.Sleep(100 * time.Millisecond)
		}
		resp := channel.OKResponse()
		resp.ID = req.ID
		return resp
	}))
	c := dialChannel(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type result struct {
		want api.ID
		got  *api.Response
		err  error
	}
	results := make(chan result, 2)
	for _, id := range []api.ID{0, 1} {
		go func() {
			resp, err := c.Status(ctx, id)
			results <- result{want: id, got: resp, err: err}
		}()
	}
	for range 2 {
		r := <-results
		if r.err != nil {
			t.Fatalf("expected '%v'; got: '%v'", nil, r.err)
		}
		if r.got.ID == nil || *r.got.ID != r.want {
			t.Fatalf("expected '%v'; got: '%v'", r.want, r.got.ID)
		}
		if r.got.Command != api.CmdStatus {
			t.Fatalf("expected '%v'; got: '%v'", api.CmdStatus, r.got.Command)
		}
	}
}

func Test_ErrorResponseIsReturnedWithError(t *testing.T) {
	s := startChannel(t, channel.HandlerFunc(func(context.Context, *api.Request) *api.Response {
		return channel.ErrorResponse(errdefs.ErrUnknownSession)
	}))
	c := dialChannel(t, s)

	resp, err := c.Stop(context.Background(), 9)
	if !errors.Is(err, errdefs.ErrClientRequestFailed) {
		t.Fatalf("expected '%v'; got: '%v'", errdefs.ErrClientRequestFailed, err)
	}
	if resp == nil || resp.Error != "invalid id" {
		t.Fatalf("expected '%v'; got: '%v'", "invalid id", resp)
	}
}

func Test_DialRefusedWhenBusy(t *testing.T) {
	s := startChannel(t, channel.HandlerFunc(func(context.Context, *api.Request) *api.Response {
		return channel.OKResponse()
	}))
	_ = dialChannel(t, s)

	_, err := Dial(context.Background(), s.Addr().String())
	if !errors.Is(err, errdefs.ErrControllerBusy) {
		t.Fatalf("expected '%v'; got: '%v'", errdefs.ErrControllerBusy, err)
	}
}

func Test_SubscribeReceivesEvents(t *testing.T) {
	s := startChannel(t, channel.HandlerFunc(func(context.Context, *api.Request) *api.Response {
		return channel.OKResponse()
	}))
	c := dialChannel(t, s)

	events, err := c.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("expected '%v'; got: '%v'", nil, err)
	}

	s.Notify(api.Event{ID: api.ID(3).Ptr(), State: api.StateStopped, Detail: "process exited", When: time.Now()})

	select {
	case ev := <-events:
		if ev.ID == nil || *ev.ID != 3 || ev.State != api.StateStopped {
			t.Fatalf("expected '%v'; got: '%v'", "3 STOPPED", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected an event")
	}
}

func Test_PendingRequestFailsWhenServerCloses(t *testing.T) {
	release := make(chan struct{})
	s := startChannel(t, channel.HandlerFunc(func(context.Context, *api.Request) *api.Response {
		<-release
		return channel.OKResponse()
	}))
	c := dialChannel(t, s)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.ServerStatus(context.Background())
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)
	go func() { _ = s.Close() }()

	select {
	case err := <-errCh:
		// either answered before the close or failed with the connection
		if err != nil && !errors.Is(err, errdefs.ErrClientRequestFailed) {
			t.Fatalf("expected '%v'; got: '%v'", errdefs.ErrClientRequestFailed, err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("expected the request to finish")
	}
}
