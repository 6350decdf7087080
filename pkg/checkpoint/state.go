// Copyright 2025 Kadir Pekel
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

// Package checkpoint indexes paused invocations.
//
// Session events remain the source of truth for resuming: the runner
// rebuilds agent states and end-of-agent markers from them. The index only
// answers which invocations are waiting on the client, for which calls, and
// since when, so stale pauses can be expired and listed without scanning
// every session.
package checkpoint

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrNotFound is returned when no paused invocation matches a key.
	ErrNotFound = errors.New("paused invocation not found")

	// ErrExpired is returned when a paused invocation is older than the
	// configured timeout.
	ErrExpired = errors.New("paused invocation expired")
)

// Key identifies an invocation.
type Key struct {
	AppName      string `json:"app_name"`
	UserID       string `json:"user_id"`
	SessionID    string `json:"session_id"`
	InvocationID string `json:"invocation_id"`
}

func (k Key) String() string {
	return k.AppName + "/" + k.UserID + "/" + k.SessionID + "/" + k.InvocationID
}

// Validate checks that every component is set.
func (k Key) Validate() error {
	switch {
	case k.AppName == "":
		return fmt.Errorf("app_name is required")
	case k.SessionID == "":
		return fmt.Errorf("session_id is required")
	case k.InvocationID == "":
		return fmt.Errorf("invocation_id is required")
	}
	return nil
}

// PendingCall is a long-running call the client has not answered.
type PendingCall struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Agent  string `json:"agent"`
	Branch string `json:"branch,omitempty"`
}

// PausedInvocation is an invocation suspended on client input.
type PausedInvocation struct {
	Key
	Pending  []PendingCall `json:"pending"`
	PausedAt time.Time     `json:"paused_at"`
}

// Expired reports whether p is older than timeout at now. A zero timeout
// never expires.
func (p *PausedInvocation) Expired(timeout time.Duration, now time.Time) bool {
	return timeout > 0 && now.Sub(p.PausedAt) > timeout
}

// Waiting reports whether p waits on the call id.
func (p *PausedInvocation) Waiting(callID string) bool {
	return slices.ContainsFunc(p.Pending, func(c PendingCall) bool { return c.ID == callID })
}

// Agents returns the distinct agents holding pending calls, in order.
func (p *PausedInvocation) Agents() []string {
	var names []string
	for _, c := range p.Pending {
		if !slices.Contains(names, c.Agent) {
			names = append(names, c.Agent)
		}
	}
	return names
}
