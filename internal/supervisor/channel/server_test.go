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

package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/pkg/api"
	"github.com/gorilla/websocket"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoHandler() Handler {
	return HandlerFunc(func(_ context.Context, req *api.Request) *api.Response {
		if req.Command == "SLOW" {
			time.Sleep(200 * time.Millisecond)
		}
		resp := OKResponse()
		resp.ID = req.ID
		return resp
	})
}

func startServer(t *testing.T, h Handler) (*Server, string) {
	t.Helper()
	s := New(newTestLogger(), "127.0.0.1:0", h)
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
	return s, "ws://" + s.Addr().String() + "/"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func roundTrip(t *testing.T, ws *websocket.Conn, frame string) api.Response {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
	return read(t, ws)
}

func read(t *testing.T, ws *websocket.Conn) api.Response {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp api.Response
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	return resp
}

func Test_RequestResponseCorrelation(t *testing.T) {
	_, url := startServer(t, echoHandler())
	ws := dial(t, url)

	resp := roundTrip(t, ws, `{"command":"STATUS","id":2,"requestId":"r-1"}`)
	if resp.Command != api.CmdStatus || resp.RequestID != "r-1" {
		t.Fatalf("expected STATUS/r-1; got: '%s'/'%s'", resp.Command, resp.RequestID)
	}
	if !resp.OK() || resp.Error != api.ErrorNone {
		t.Fatalf("expected ok/none; got: '%s'/'%s'", resp.Result, resp.Error)
	}
	if resp.ID == nil || *resp.ID != 2 {
		t.Fatalf("expected id 2; got: '%v'", resp.ID)
	}
}

func Test_SlowRequestDoesNotBlockOthers(t *testing.T) {
	_, url := startServer(t, echoHandler())
	ws := dial(t, url)

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"command":"SLOW","requestId":"slow"}`)); err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"command":"FAST","requestId":"fast"}`)); err != nil {
		t.Fatal(err)
	}
	first := read(t, ws)
	second := read(t, ws)
	if first.RequestID != "fast" || second.RequestID != "slow" {
		t.Fatalf("expected fast before slow; got: '%s' then '%s'", first.RequestID, second.RequestID)
	}
}

func Test_MalformedFramesKeepConnectionOpen(t *testing.T) {
	_, url := startServer(t, echoHandler())
	ws := dial(t, url)

	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `{"command":`},
		{"missing command", `{"id":1}`},
		{"wrong type", `{"command":"STATUS","id":"one"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := roundTrip(t, ws, tt.frame)
			if resp.Result != api.ResultError {
				t.Fatalf("expected '%s'; got: '%s'", api.ResultError, resp.Result)
			}
			if !strings.Contains(resp.Error, errdefs.ErrProtocol.Error()) {
				t.Fatalf("expected protocol error; got: '%s'", resp.Error)
			}
		})
	}

	resp := roundTrip(t, ws, `{"command":"SERVER_STATUS"}`)
	if !resp.OK() {
		t.Fatalf("expected connection to stay usable; got: '%+v'", resp)
	}
}

func Test_SecondControllerRefused(t *testing.T) {
	_, url := startServer(t, echoHandler())
	first := dial(t, url)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected '%v'; got: '%v'", websocket.ErrBadHandshake, err)
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected status 409; got: '%v'", resp)
	}
	_ = resp.Body.Close()

	_ = first.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = first.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		ws, r, errD := websocket.DefaultDialer.Dial(url, nil)
		if r != nil && r.Body != nil {
			_ = r.Body.Close()
		}
		if errD == nil {
			_ = ws.Close()
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected reconnect after disconnect; got: '%v'", errD)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func Test_NotifyOnlyWhenSubscribed(t *testing.T) {
	s, url := startServer(t, echoHandler())
	ws := dial(t, url)

	// establish the connection before notifying
	_ = roundTrip(t, ws, `{"command":"SERVER_STATUS"}`)
	s.Notify(api.Event{ID: api.ID(1).Ptr(), State: api.StateStopped})

	resp := roundTrip(t, ws, `{"command":"SUBSCRIBE","requestId":"sub"}`)
	if resp.Command != api.CmdSubscribe || !resp.OK() {
		t.Fatalf("expected SUBSCRIBE ok; got: '%+v'", resp)
	}

	s.Notify(api.Event{ID: api.ID(1).Ptr(), State: api.StateStopped, Detail: "exited"})
	ev := read(t, ws)
	if ev.Command != api.CmdNotify {
		t.Fatalf("expected NOTIFY; got: '%s'", ev.Command)
	}
	if ev.Event == nil || ev.Event.Detail != "exited" || ev.State != api.StateStopped {
		t.Fatalf("unexpected event: '%+v'", ev.Event)
	}

	_ = roundTrip(t, ws, `{"command":"UNSUBSCRIBE"}`)
	s.Notify(api.Event{State: api.StateRunning})
	resp = roundTrip(t, ws, `{"command":"SERVER_STATUS","requestId":"after"}`)
	if resp.RequestID != "after" {
		t.Fatalf("expected no notification after UNSUBSCRIBE; got: '%+v'", resp)
	}
}

func Test_ListenFailureIsFatal(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	s := New(newTestLogger(), ln.Addr().String(), echoHandler())
	if err := s.Listen(); !errors.Is(err, errdefs.ErrOpenControlPort) {
		t.Fatalf("expected '%v'; got: '%v'", errdefs.ErrOpenControlPort, err)
	}
}

func Test_CloseDisconnectsController(t *testing.T) {
	s, url := startServer(t, echoHandler())
	ws := dial(t, url)
	_ = roundTrip(t, ws, `{"command":"SERVER_STATUS"}`)

	if err := s.Close(); err != nil {
		t.Fatalf("expected '%v'; got: '%v'", nil, err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatalf("expected connection to be closed")
	}
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatalf("expected listener to be closed")
	}
}
