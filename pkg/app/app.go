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

// Package app defines an application: a root agent plus the app-wide
// settings every invocation of it shares.
package app

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/plugin"
)

// ResumabilityConfig is the resumability setting of an application.
//
// A resumable app pauses an invocation when a tool issues a long-running
// call and resumes it, under the same invocation id, once the client
// answers. Resumed tools may run again, so they should be idempotent.
// Temporary state does not survive a pause.
type ResumabilityConfig struct {
	// IsResumable enables pausing and resuming for every agent of the app.
	IsResumable bool `yaml:"is_resumable"`
}

// App is an agent tree with its name and app-wide settings.
type App struct {
	Name      string
	RootAgent agent.Agent
	Plugins   []plugin.Plugin

	// ResumabilityConfig is optional; nil means not resumable.
	ResumabilityConfig *ResumabilityConfig
}

// Resumable reports whether the app pauses on long-running calls.
func (a *App) Resumable() bool {
	return a != nil && a.ResumabilityConfig != nil && a.ResumabilityConfig.IsResumable
}

// Validate checks the name and the agent tree: agent names are unique and
// may not contain '.', which separates branch segments.
func (a *App) Validate() error {
	if a == nil {
		return fmt.Errorf("app is nil")
	}
	if a.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if a.RootAgent == nil {
		return fmt.Errorf("app %q: root agent is required", a.Name)
	}
	seen := make(map[string]bool)
	for _, ag := range agent.ListAgents(a.RootAgent) {
		name := ag.Name()
		if strings.Contains(name, ".") {
			return fmt.Errorf("app %q: agent name %q must not contain '.'", a.Name, name)
		}
		if seen[name] {
			return fmt.Errorf("app %q: duplicate agent name %q", a.Name, name)
		}
		seen[name] = true
	}
	return nil
}
