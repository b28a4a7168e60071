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

package api

import (
	"encoding/json"
	"strconv"
	"time"
)

// ID is a dense session identity. 0 is the template instance.
type ID int

func (id ID) String() string { return strconv.Itoa(int(id)) }

// Ptr returns a pointer to a copy of id, for optional wire fields.
func (id ID) Ptr() *ID { return &id }

type State string

const (
	StateUnprovisioned State = "UNPROVISIONED"
	StateProvisioned   State = "PROVISIONED"
	StateStarting      State = "STARTING"
	StateRunning       State = "RUNNING"
	StateStopping      State = "STOPPING"
	StateStopped       State = "STOPPED"
)

// Active reports whether a process handle exists for the state.
func (s State) Active() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

// Idle reports whether a session in this state can be started.
func (s State) Idle() bool {
	return s == StateProvisioned || s == StateStopped
}

type ServiceName string

const (
	ServiceSignaling ServiceName = "signaling"
	ServiceFrontend  ServiceName = "frontend"
)

// SharedServices is the startup order. Shutdown uses the reverse.
var SharedServices = []ServiceName{ServiceSignaling, ServiceFrontend}

type Command string

const (
	CmdServerStatus Command = "SERVER_STATUS"
	CmdStatus       Command = "STATUS"
	CmdStart        Command = "START"
	CmdStop         Command = "STOP"
	CmdShutdown     Command = "SHUTDOWN"
	CmdSubscribe    Command = "SUBSCRIBE"
	CmdUnsubscribe  Command = "UNSUBSCRIBE"
	CmdProvision    Command = "PROVISION"

	// CmdNotify is only ever sent by the supervisor.
	CmdNotify Command = "NOTIFY"
)

type Request struct {
	Command   Command         `json:"command"`
	ID        *ID             `json:"id,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type Result string

const (
	ResultOK    Result = "ok"
	ResultError Result = "error"
)

// ErrorNone is the error field of a successful response.
const ErrorNone = "none"

type Response struct {
	Command   Command `json:"command"`
	RequestID string  `json:"requestId,omitempty"`
	Result    Result  `json:"result"`
	Error     string  `json:"error"`

	ID    *ID   `json:"id,omitempty"`
	State State `json:"state,omitempty"`
	// Status mirrors State on STATUS replies for older backends.
	Status string `json:"status,omitempty"`

	Running *int `json:"running,omitempty"`
	Total   *int `json:"total,omitempty"`
	// Active lists the sessions holding a process, ascending.
	Active   []ID                  `json:"active,omitempty"`
	Services map[ServiceName]State `json:"services,omitempty"`
	Session  *SessionStatus        `json:"session,omitempty"`
	Event    *Event                `json:"event,omitempty"`
}

func (r *Response) OK() bool { return r != nil && r.Result == ResultOK }

type Geometry struct {
	Width  int `json:"width"  yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

type SessionStatus struct {
	ID       ID        `json:"id"                 yaml:"id"`
	Dir      string    `json:"dir"                yaml:"dir"`
	Port     int       `json:"port"               yaml:"port"`
	StreamID int       `json:"streamId"           yaml:"streamId"`
	Geometry *Geometry `json:"geometry,omitempty" yaml:"geometry,omitempty"`
	State    State     `json:"state"              yaml:"state"`
	Pid      int       `json:"pid,omitempty"      yaml:"pid,omitempty"`
	Alive    bool      `json:"alive"              yaml:"alive"`
	Detail   string    `json:"detail,omitempty"   yaml:"detail,omitempty"`
}

type ServerStatus struct {
	Running  int                   `json:"running"`
	Total    int                   `json:"total"`
	Active   []ID                  `json:"active,omitempty"`
	Services map[ServiceName]State `json:"services"`
}

// Event describes a state change. Subscribed controllers receive it in a
// NOTIFY frame.
type Event struct {
	ID      *ID         `json:"id,omitempty"`
	Service ServiceName `json:"service,omitempty"`
	State   State       `json:"state"`
	Detail  string      `json:"detail,omitempty"`
	When    time.Time   `json:"when"`
}
