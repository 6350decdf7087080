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

package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/model"
	"github.com/kadirpekel/agentkit/pkg/tool"
)

// Closer is implemented by plugins holding resources.
type Closer interface {
	Close(ctx context.Context) error
}

// Manager dispatches lifecycle callbacks to registered plugins.
//
// A nil *Manager is valid and dispatches nothing.
type Manager struct {
	mu      sync.RWMutex
	plugins []Plugin
	names   map[string]bool
	byKind  [numKinds][]Plugin
}

// NewManager returns an empty manager.
func NewManager(plugins ...Plugin) (*Manager, error) {
	m := &Manager{names: make(map[string]bool)}
	for _, p := range plugins {
		if err := m.Register(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Register adds p for the given callback kinds. Without kinds, p is
// registered for every callback interface it implements.
func (m *Manager) Register(p Plugin, kinds ...Kind) error {
	if p == nil {
		return fmt.Errorf("plugin cannot be nil")
	}
	if len(kinds) == 0 {
		for _, k := range AllKinds() {
			if implements(p, k) {
				kinds = append(kinds, k)
			}
		}
	}
	for _, k := range kinds {
		if k < 0 || k >= numKinds {
			return fmt.Errorf("plugin %q: unknown callback kind %d", p.Name(), int(k))
		}
		if !implements(p, k) {
			return fmt.Errorf("plugin %q: %w %s", p.Name(), ErrNotImplemented, k)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.names[p.Name()] {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, p.Name())
	}
	m.names[p.Name()] = true
	m.plugins = append(m.plugins, p)
	for _, k := range kinds {
		m.byKind[k] = append(m.byKind[k], p)
	}
	return nil
}

// Plugins returns the registered plugins in registration order.
func (m *Manager) Plugins() []Plugin {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Plugin(nil), m.plugins...)
}

func (m *Manager) registered(kind Kind) []Plugin {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byKind[kind]
}

// Close closes every plugin implementing Closer.
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	for _, p := range m.Plugins() {
		if c, ok := p.(Closer); ok {
			if err := c.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close plugin %q: %w", p.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// FromContext returns the manager of the invocation, or nil.
func FromContext(ctx agent.InvocationContext) *Manager {
	if ctx == nil {
		return nil
	}
	m, _ := ctx.Plugins().(*Manager)
	return m
}

func (m *Manager) OnUserMessage(ctx agent.InvocationContext, msg *genai.Content) (*genai.Content, error) {
	for _, p := range m.registered(KindOnUserMessage) {
		out, err := p.(UserMessageCallback).OnUserMessage(ctx, msg)
		if err != nil {
			return nil, newError(p, KindOnUserMessage, err)
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}

func (m *Manager) BeforeRun(ctx agent.InvocationContext) (*genai.Content, error) {
	for _, p := range m.registered(KindBeforeRun) {
		out, err := p.(BeforeRunCallback).BeforeRun(ctx)
		if err != nil {
			return nil, newError(p, KindBeforeRun, err)
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}

// AfterRun notifies every plugin; it has no override.
func (m *Manager) AfterRun(ctx agent.InvocationContext) {
	for _, p := range m.registered(KindAfterRun) {
		p.(AfterRunCallback).AfterRun(ctx)
	}
}

func (m *Manager) OnEvent(ctx agent.InvocationContext, ev *agent.Event) (*agent.Event, error) {
	for _, p := range m.registered(KindOnEvent) {
		out, err := p.(EventCallback).OnEvent(ctx, ev)
		if err != nil {
			return nil, newError(p, KindOnEvent, err)
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}

func (m *Manager) BeforeAgent(ctx agent.CallbackContext) (*genai.Content, error) {
	for _, p := range m.registered(KindBeforeAgent) {
		out, err := p.(BeforeAgentCallback).BeforeAgent(ctx)
		if err != nil {
			return nil, newError(p, KindBeforeAgent, err)
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}

func (m *Manager) AfterAgent(ctx agent.CallbackContext) (*genai.Content, error) {
	for _, p := range m.registered(KindAfterAgent) {
		out, err := p.(AfterAgentCallback).AfterAgent(ctx)
		if err != nil {
			return nil, newError(p, KindAfterAgent, err)
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}

func (m *Manager) BeforeModel(ctx agent.CallbackContext, req *model.Request) (*model.Response, error) {
	for _, p := range m.registered(KindBeforeModel) {
		out, err := p.(BeforeModelCallback).BeforeModel(ctx, req)
		if err != nil {
			return nil, newError(p, KindBeforeModel, err)
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}

func (m *Manager) AfterModel(ctx agent.CallbackContext, resp *model.Response) (*model.Response, error) {
	for _, p := range m.registered(KindAfterModel) {
		out, err := p.(AfterModelCallback).AfterModel(ctx, resp)
		if err != nil {
			return nil, newError(p, KindAfterModel, err)
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}

func (m *Manager) OnModelError(ctx agent.CallbackContext, req *model.Request, callErr error) (*model.Response, error) {
	for _, p := range m.registered(KindModelError) {
		out, err := p.(ModelErrorCallback).OnModelError(ctx, req, callErr)
		if err != nil {
			return nil, newError(p, KindModelError, err)
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}

func (m *Manager) BeforeTool(ctx tool.Context, t tool.Tool, args map[string]any) (map[string]any, error) {
	for _, p := range m.registered(KindBeforeTool) {
		out, err := p.(BeforeToolCallback).BeforeTool(ctx, t, args)
		if err != nil {
			return nil, newError(p, KindBeforeTool, err)
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}

func (m *Manager) AfterTool(ctx tool.Context, t tool.Tool, args, result map[string]any) (map[string]any, error) {
	for _, p := range m.registered(KindAfterTool) {
		out, err := p.(AfterToolCallback).AfterTool(ctx, t, args, result)
		if err != nil {
			return nil, newError(p, KindAfterTool, err)
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}

func (m *Manager) OnToolError(ctx tool.Context, t tool.Tool, args map[string]any, callErr error) (map[string]any, error) {
	for _, p := range m.registered(KindToolError) {
		out, err := p.(ToolErrorCallback).OnToolError(ctx, t, args, callErr)
		if err != nil {
			return nil, newError(p, KindToolError, err)
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, nil
}

var _ agent.Hooks = (*Manager)(nil)
