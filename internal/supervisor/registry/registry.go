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

package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/internal/instance"
	"github.com/eminwux/rendervisor/internal/proc"
	"github.com/eminwux/rendervisor/pkg/api"
)

// Ref names a session or a shared service.
type Ref struct {
	Service api.ServiceName // empty for sessions
	ID      api.ID
}

func SessionRef(id api.ID) Ref            { return Ref{ID: id} }
func ServiceRef(name api.ServiceName) Ref { return Ref{Service: name} }
func (r Ref) IsSession() bool             { return r.Service == "" }

func (r Ref) String() string {
	if r.IsSession() {
		return "session/" + r.ID.String()
	}
	return "service/" + string(r.Service)
}

// Entry is the supervisor's record of one session or shared service.
// Operations that change its process must hold the op lock.
type Entry struct {
	ref Ref

	op sync.Mutex

	mu     sync.RWMutex
	state  api.State
	handle proc.Handle
	inst   instance.Instance
	detail string
}

func (e *Entry) Ref() Ref { return e.ref }

func (e *Entry) LockOp()   { e.op.Lock() }
func (e *Entry) UnlockOp() { e.op.Unlock() }

func (e *Entry) State() api.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Entry) SetState(s api.State, detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
	e.detail = detail
}

func (e *Entry) Handle() proc.Handle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handle
}

func (e *Entry) SetHandle(h proc.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handle = h
}

func (e *Entry) Instance() instance.Instance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.inst
}

func (e *Entry) Status() api.SessionStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := api.SessionStatus{
		ID:       e.ref.ID,
		Dir:      e.inst.Dir,
		Port:     e.inst.Port,
		StreamID: e.inst.StreamID,
		Geometry: e.inst.Geometry,
		State:    e.state,
		Detail:   e.detail,
	}
	if e.handle != nil {
		st.Pid = e.handle.Pid()
		st.Alive = e.handle.Alive()
	}
	return st
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[api.ID]*Entry
	services map[api.ServiceName]*Entry
}

// New returns a registry holding the shared services, both STOPPED.
func New() *Registry {
	r := &Registry{
		sessions: make(map[api.ID]*Entry),
		services: make(map[api.ServiceName]*Entry),
	}
	for _, name := range api.SharedServices {
		r.services[name] = &Entry{ref: ServiceRef(name), state: api.StateStopped}
	}
	return r
}

/* Basic ops */

func (r *Registry) AddSession(inst instance.Instance) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[inst.ID] != nil {
		return nil, fmt.Errorf("%w: %d", errdefs.ErrSessionExists, inst.ID)
	}
	e := &Entry{ref: SessionRef(inst.ID), state: api.StateProvisioned, inst: inst}
	r.sessions[inst.ID] = e
	return e, nil
}

func (r *Registry) Get(ref Ref) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ref.IsSession() {
		if e, ok := r.sessions[ref.ID]; ok {
			return e, nil
		}
		return nil, errdefs.ErrUnknownSession
	}
	if e, ok := r.services[ref.Service]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", errdefs.ErrUnknownService, ref.Service)
}

// Sessions returns every session ordered by identity.
func (r *Registry) Sessions() []*Entry {
	r.mu.RLock()
	out := make([]*Entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ref.ID < out[j].ref.ID })
	return out
}

// Services returns the shared services in startup order.
func (r *Registry) Services() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(api.SharedServices))
	for _, name := range api.SharedServices {
		out = append(out, r.services[name])
	}
	return out
}

// Idle returns the idle sessions ordered by identity.
func (r *Registry) Idle() []*Entry {
	var out []*Entry
	for _, e := range r.Sessions() {
		if e.State().Idle() {
			out = append(out, e)
		}
	}
	return out
}

// Active returns the sessions that own a process.
func (r *Registry) Active() []*Entry {
	var out []*Entry
	for _, e := range r.Sessions() {
		if e.State().Active() {
			out = append(out, e)
		}
	}
	return out
}

func (r *Registry) Snapshot() api.ServerStatus {
	st := api.ServerStatus{Services: make(map[api.ServiceName]api.State)}
	for _, e := range r.Sessions() {
		st.Total++
		if e.State().Active() {
			st.Running++
			st.Active = append(st.Active, e.ref.ID)
		}
	}
	for _, e := range r.Services() {
		st.Services[e.ref.Service] = e.State()
	}
	return st
}
