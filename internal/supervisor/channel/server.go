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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/pkg/api"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBuffer    = 64
)

// Handler answers one request. The channel fills in command and requestId.
type Handler interface {
	Handle(ctx context.Context, req *api.Request) *api.Response
}

type HandlerFunc func(ctx context.Context, req *api.Request) *api.Response

func (f HandlerFunc) Handle(ctx context.Context, req *api.Request) *api.Response { return f(ctx, req) }

// Server is the command channel: a websocket endpoint that accepts exactly
// one controller at a time.
type Server struct {
	logger   *slog.Logger
	addr     string
	handler  Handler
	upgrader websocket.Upgrader

	ln  net.Listener
	srv *http.Server
	ctx context.Context

	mu      sync.Mutex
	current *conn

	inflight inflight
}

type conn struct {
	id         string
	ws         *websocket.Conn
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	subscribed atomic.Bool
}

func New(logger *slog.Logger, addr string, h Handler) *Server {
	return &Server{
		logger:  logger,
		addr:    addr,
		handler: h,
		ctx:     context.Background(),
		upgrader: websocket.Upgrader{
			// the controller is a backend process, not a browser
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Listen binds the control address. Failing to bind is fatal for the supervisor.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.logger.Error("Listen: could not bind control address", "addr", s.addr, "error", err)
		return fmt.Errorf("%w: %s: %w", errdefs.ErrOpenControlPort, s.addr, err)
	}
	s.ln = ln
	s.logger.Info("Listen: command channel listening", "addr", ln.Addr().String())
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Handler routes every path to the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	return mux
}

// Serve runs the accept loop on the listener opened by Listen. readyCh gets
// nil once serving; doneCh gets the loop's exit error.
func (s *Server) Serve(ctx context.Context, readyCh chan error, doneCh chan error) {
	if s.ln == nil {
		readyCh <- errdefs.ErrStartServer
		close(readyCh)
		doneCh <- errdefs.ErrStartServer
		close(doneCh)
		return
	}

	s.ctx = ctx
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// stop accepting when ctx is canceled.
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	readyCh <- nil
	close(readyCh)

	err := s.srv.Serve(s.ln)
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		err = nil
	}
	doneCh <- err
	close(doneCh)
}

// WaitIdle blocks until no request is being handled.
func (s *Server) WaitIdle() {
	s.inflight.wait()
}

// Close stops accepting, lets in-flight requests queue their replies and
// then disconnects the controller after flushing them.
func (s *Server) Close() error {
	var err error
	if s.srv != nil {
		err = s.srv.Close()
	} else if s.ln != nil {
		err = s.ln.Close()
	}

	s.inflight.wait()

	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	if c != nil {
		c.close()
	}

	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Notify pushes ev to the controller if it has subscribed.
func (s *Server) Notify(ev api.Event) {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	if c == nil || !c.subscribed.Load() {
		return
	}

	resp := &api.Response{
		Command: api.CmdNotify,
		Result:  api.ResultOK,
		Error:   api.ErrorNone,
		ID:      ev.ID,
		State:   ev.State,
		Event:   &ev,
	}
	b, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Notify: marshal failed", "error", err)
		return
	}
	select {
	case c.send <- b:
	case <-c.done:
	default:
		s.logger.Warn("Notify: controller send buffer full, dropping event", "conn", c.id)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	c := &conn{
		id:   uuid.NewString(),
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		s.logger.Warn("handleWebSocket: refusing second controller", "remote", r.RemoteAddr)
		http.Error(w, errdefs.ErrControllerBusy.Error(), http.StatusConflict)
		return
	}
	s.current = c
	s.mu.Unlock()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("handleWebSocket: upgrade failed", "remote", r.RemoteAddr, "error", err)
		s.release(c)
		return
	}
	c.ws = ws
	s.logger.Info("handleWebSocket: controller connected", "conn", c.id, "remote", r.RemoteAddr)

	go s.writePump(c)
	s.readPump(c)

	s.release(c)
	s.logger.Info("handleWebSocket: controller disconnected", "conn", c.id)
}

func (s *Server) release(c *conn) {
	c.close()
	s.mu.Lock()
	if s.current == c {
		s.current = nil
	}
	s.mu.Unlock()
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (s *Server) readPump(c *conn) {
	_ = c.ws.SetReadDeadline(time.Now().Add(readDeadline))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("readPump: read error", "conn", c.id, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readDeadline))
		s.dispatch(c, message)
	}
}

func (s *Server) writePump(c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			// flush replies queued before the close, e.g. the SHUTDOWN ack
			for {
				select {
				case message := <-c.send:
					if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Warn("writePump: write failed", "conn", c.id, "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// dispatch decodes one frame and answers it from its own goroutine so a
// slow start or stop never blocks the read loop.
func (s *Server) dispatch(c *conn, message []byte) {
	var req api.Request
	if err := json.Unmarshal(message, &req); err != nil {
		s.logger.Warn("dispatch: malformed frame", "conn", c.id, "error", err)
		s.reply(c, &req, ErrorResponse(fmt.Errorf("%w: json decode error: %w", errdefs.ErrProtocol, err)))
		return
	}
	if req.Command == "" {
		s.reply(c, &req, ErrorResponse(fmt.Errorf("%w: missing command", errdefs.ErrProtocol)))
		return
	}
	s.logger.Debug("dispatch: request", "conn", c.id, "command", req.Command, "requestId", req.RequestID)

	switch req.Command {
	case api.CmdSubscribe:
		c.subscribed.Store(true)
		s.reply(c, &req, OKResponse())
		return
	case api.CmdUnsubscribe:
		c.subscribed.Store(false)
		s.reply(c, &req, OKResponse())
		return
	}

	s.inflight.add()
	go func() {
		defer s.inflight.done()
		resp := s.handler.Handle(s.ctx, &req)
		if resp == nil {
			resp = ErrorResponse(fmt.Errorf("%w: no response for %s", errdefs.ErrProtocol, req.Command))
		}
		s.reply(c, &req, resp)
	}()
}

func (s *Server) reply(c *conn, req *api.Request, resp *api.Response) {
	resp.Command = req.Command
	resp.RequestID = req.RequestID
	b, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("reply: marshal failed", "conn", c.id, "error", err)
		return
	}
	select {
	case c.send <- b:
	case <-c.done:
		s.logger.Debug("reply: controller gone, dropping response", "command", req.Command)
	}
}

func OKResponse() *api.Response {
	return &api.Response{Result: api.ResultOK, Error: api.ErrorNone}
}

func ErrorResponse(err error) *api.Response {
	return &api.Response{Result: api.ResultError, Error: err.Error()}
}

// inflight counts running handlers. Unlike sync.WaitGroup it allows add
// while another goroutine waits.
type inflight struct {
	mu   sync.Mutex
	n    int
	cond *sync.Cond
}

func (f *inflight) add() {
	f.mu.Lock()
	f.n++
	f.mu.Unlock()
}

func (f *inflight) done() {
	f.mu.Lock()
	f.n--
	if f.n == 0 && f.cond != nil {
		f.cond.Broadcast()
	}
	f.mu.Unlock()
}

func (f *inflight) wait() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cond == nil {
		f.cond = sync.NewCond(&f.mu)
	}
	for f.n > 0 {
		f.cond.Wait()
	}
}
