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

// Command library-consumer shows how a backend drives a running rendervisor
// with pkg/client: it starts the lowest idle session and prints state
// changes until the session is running.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/eminwux/rendervisor/pkg/api"
	"github.com/eminwux/rendervisor/pkg/client"
)

func main() {
	addr := flag.String("address", "localhost:4699", "control address of the supervisor")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c, err := client.Dial(ctx, *addr, client.WithDialTimeout(5*time.Second))
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer c.Close()

	events, err := c.Subscribe(ctx)
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	resp, err := c.Start(ctx, nil)
	if err != nil {
		log.Fatalf("start: %v", err)
	}
	id := *resp.ID
	fmt.Printf("session %d is %s\n", id, resp.State)
	if resp.State == api.StateRunning {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.ID == nil || *ev.ID != id {
				continue
			}
			fmt.Printf("session %d: %s %s\n", id, ev.State, ev.Detail)
			if ev.State == api.StateRunning || ev.State == api.StateStopped {
				return
			}
		}
	}
}
