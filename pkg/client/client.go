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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/pkg/api"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Option func(*opts)

type opts struct {
	DialTimeout time.Duration
	Logger      *slog.Logger
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *opts) { o.DialTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *opts) { o.Logger = l }
}

//nolint:mnd // notification buffer
const notifyBuffer = 64

type client struct {
	logger *slog.Logger
	ws     *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *api.Response
	events  chan api.Event
	err     error

	done chan struct{}
}

// Dial connects to the command channel at addr (host:port). A supervisor
// that already has a controller refuses with errdefs.ErrControllerBusy.
func Dial(ctx context.Context, addr string, options ...Option) (Client, error) {
	cfg := opts{DialTimeout: 5 * time.Second}
	for _, o := range options {
		o(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	u := url.URL{Scheme: "ws", Host: addr, Path: "/"}
	d := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	ws, resp, err := d.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("%w: %s", errdefs.ErrControllerBusy, addr)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", errdefs.ErrClientRequestFailed, addr, err)
	}

	c := &client{
		logger:  cfg.Logger,
		ws:      ws,
		pending: make(map[string]chan *api.Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *client) readLoop() {
	defer close(c.done)
	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		var resp api.Response
		if errJ := json.Unmarshal(message, &resp); errJ != nil {
			c.logger.Warn("client: undecodable frame", "error", errJ)
			continue
		}
		if resp.Command == api.CmdNotify {
			c.deliverEvent(&resp)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.RequestID]
		delete(c.pending, resp.RequestID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("client: response without a waiting request", "requestId", resp.RequestID)
			continue
		}
		ch <- &resp
	}
}

func (c *client) deliverEvent(resp *api.Response) {
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()
	if events == nil || resp.Event == nil {
		return
	}
	select {
	case events <- *resp.Event:
	default:
		c.logger.Warn("client: event dropped; buffer full")
	}
}

func (c *client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	if c.events != nil {
		close(c.events)
		c.events = nil
	}
}

// Do sends req and waits for the response carrying the same requestId.
// A response with result "error" is returned as is, not as an error.
func (c *client) Do(ctx context.Context, req *api.Request) (*api.Response, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan *api.Response, 1)
	c.mu.Lock()
	if c.err != nil {
		errConn := c.err
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", errdefs.ErrClientRequestFailed, errConn)
	}
	c.pending[req.RequestID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	errW := c.ws.WriteMessage(websocket.TextMessage, b)
	c.writeMu.Unlock()
	if errW != nil {
		c.forget(req.RequestID)
		return nil, fmt.Errorf("%w: %w", errdefs.ErrClientRequestFailed, errW)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: connection closed before %s was answered", errdefs.ErrClientRequestFailed, req.Command)
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(req.RequestID)
		return nil, ctx.Err()
	}
}

func (c *client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *client) call(ctx context.Context, cmd api.Command, id *api.ID) (*api.Response, error) {
	resp, err := c.Do(ctx, &api.Request{Command: cmd, ID: id})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp, fmt.Errorf("%w: %s: %s", errdefs.ErrClientRequestFailed, cmd, resp.Error)
	}
	return resp, nil
}

func (c *client) ServerStatus(ctx context.Context) (*api.Response, error) {
	return c.call(ctx, api.CmdServerStatus, nil)
}

func (c *client) Status(ctx context.Context, id api.ID) (*api.Response, error) {
	return c.call(ctx, api.CmdStatus, id.Ptr())
}

// Start starts session id, or the lowest idle session when id is nil.
func (c *client) Start(ctx context.Context, id *api.ID) (*api.Response, error) {
	return c.call(ctx, api.CmdStart, id)
}

func (c *client) Stop(ctx context.Context, id api.ID) (*api.Response, error) {
	return c.call(ctx, api.CmdStop, id.Ptr())
}

func (c *client) Shutdown(ctx context.Context) (*api.Response, error) {
	return c.call(ctx, api.CmdShutdown, nil)
}

// Subscribe asks for NOTIFY frames. The returned channel closes with the
// connection.
func (c *client) Subscribe(ctx context.Context) (<-chan api.Event, error) {
	events := make(chan api.Event, notifyBuffer)
	c.mu.Lock()
	c.events = events
	c.mu.Unlock()
	if _, err := c.call(ctx, api.CmdSubscribe, nil); err != nil {
		c.mu.Lock()
		if c.events == events {
			c.events = nil
		}
		c.mu.Unlock()
		return nil, err
	}
	return events, nil
}

func (c *client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.done
	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}
	return err
}
