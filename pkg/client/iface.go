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

	"github.com/eminwux/rendervisor/pkg/api"
)

// Client talks to a running supervisor over its command channel.
type Client interface {
	Do(ctx context.Context, req *api.Request) (*api.Response, error)
	ServerStatus(ctx context.Context) (*api.Response, error)
	Status(ctx context.Context, id api.ID) (*api.Response, error)
	Start(ctx context.Context, id *api.ID) (*api.Response, error)
	Stop(ctx context.Context, id api.ID) (*api.Response, error)
	Shutdown(ctx context.Context) (*api.Response, error)
	Subscribe(ctx context.Context) (<-chan api.Event, error)
	Close() error
}
