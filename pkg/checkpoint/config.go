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

package checkpoint

import (
	"fmt"
	"time"
)

// Config configures the paused-invocation index.
//
// Example YAML configuration:
//
//	checkpoint:
//	  enabled: true
//	  timeout: 3600
//	  store: sql
type Config struct {
	// Enabled turns on recording of paused invocations.
	// Default: false
	Enabled *bool `yaml:"enabled,omitempty"`

	// Timeout is the maximum age (in seconds) of a paused invocation.
	// Entries older than this are treated as not found on resume.
	// Default: 0 (never expire)
	Timeout int `yaml:"timeout,omitempty"`

	// Store selects the backend: "memory" or "sql".
	// Default: "memory"
	Store string `yaml:"store,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Enabled == nil {
		enabled := false
		c.Enabled = &enabled
	}
	if c.Store == "" {
		c.Store = "memory"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("checkpoint timeout must be non-negative")
	}
	switch c.Store {
	case "", "memory", "sql":
	default:
		return fmt.Errorf("invalid checkpoint store '%s' (valid: memory, sql)", c.Store)
	}
	return nil
}

// IsEnabled returns whether recording is enabled.
func (c *Config) IsEnabled() bool {
	return c != nil && c.Enabled != nil && *c.Enabled
}

// GetTimeout returns the expiry as a duration; zero means no expiry.
func (c *Config) GetTimeout() time.Duration {
	if c == nil || c.Timeout <= 0 {
		return 0
	}
	return time.Duration(c.Timeout) * time.Second
}
