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

	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/pkg/api"
)

// ClientTest is a test double for Client. Unset functions return
// errdefs.ErrFuncNotSet.
type ClientTest struct {
	DoFunc           func(ctx context.Context, req *api.Request) (*api.Response, error)
	ServerStatusFunc func(ctx context.Context) (*api.Response, error)
	StatusFunc       func(ctx context.Context, id api.ID) (*api.Response, error)
	StartFunc        func(ctx context.Context, id *api.ID) (*api.Response, error)
	StopFunc         func(ctx context.Context, id api.ID) (*api.Response, error)
	ShutdownFunc     func(ctx context.Context) (*api.Response, error)
	SubscribeFunc    func(ctx context.Context) (<-chan api.Event, error)
	CloseFunc        func() error
}

func (t *ClientTest) Do(ctx context.Context, req *api.Request) (*api.Response, error) {
	if t.DoFunc != nil {
		return t.DoFunc(ctx, req)
	}
	return nil, errdefs.ErrFuncNotSet
}

func (t *ClientTest) ServerStatus(ctx context.Context) (*api.Response, error) {
	if t.ServerStatusFunc != nil {
		return t.ServerStatusFunc(ctx)
	}
	return nil, errdefs.ErrFuncNotSet
}

func (t *ClientTest) Status(ctx context.Context, id api.ID) (*api.Response, error) {
	if t.StatusFunc != nil {
		return t.StatusFunc(ctx, id)
	}
	return nil, errdefs.ErrFuncNotSet
}

func (t *ClientTest) Start(ctx context.Context, id *api.ID) (*api.Response, error) {
	if t.StartFunc != nil {
		return t.StartFunc(ctx, id)
	}
	return nil, errdefs.ErrFuncNotSet
}

func (t *ClientTest) Stop(ctx context.Context, id api.ID) (*api.Response, error) {
	if t.StopFunc != nil {
		return t.StopFunc(ctx, id)
	}
	return nil, errdefs.ErrFuncNotSet
}

func (t *ClientTest) Shutdown(ctx context.Context) (*api.Response, error) {
	if t.ShutdownFunc != nil {
		return t.ShutdownFunc(ctx)
	}
	return nil, errdefs.ErrFuncNotSet
}

func (t *ClientTest) Subscribe(ctx context.Context) (<-chan api.Event, error) {
	if t.SubscribeFunc != nil {
		return t.SubscribeFunc(ctx)
	}
	return nil, errdefs.ErrFuncNotSet
}

func (t *ClientTest) Close() error {
	if t.CloseFunc != nil {
		return t.CloseFunc()
	}
	return nil
}
