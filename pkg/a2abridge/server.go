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

package a2abridge

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// AgentCardPath is where Handler serves the agent card.
const AgentCardPath = "/.well-known/agent-card.json"

// CardConfig describes the agent advertised by Handler.
type CardConfig struct {
	Name        string
	Description string
	// URL is the public base URL of the JSON-RPC endpoint.
	URL     string
	Version string
}

// NewAgentCard builds the card of a text-in, text-out agent.
func NewAgentCard(cfg CardConfig) *a2a.AgentCard {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return &a2a.AgentCard{
		Name:               cfg.Name,
		Description:        cfg.Description,
		URL:                strings.TrimSuffix(cfg.URL, "/") + "/",
		Version:            version,
		ProtocolVersion:    "1.0",
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills: []a2a.AgentSkill{{
			ID:          cfg.Name,
			Name:        cfg.Name,
			Description: cfg.Description,
			Tags:        []string{"hitl"},
		}},
		Capabilities:       a2a.AgentCapabilities{Streaming: true},
		PreferredTransport: a2a.TransportProtocolJSONRPC,
	}
}

// HandlerOption configures Handler.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	middleware []func(http.Handler) http.Handler
	request    []a2asrv.RequestHandlerOption
}

// WithMiddleware runs mw inside the router, so chi route patterns are
// visible to it.
func WithMiddleware(mw ...func(http.Handler) http.Handler) HandlerOption {
	return func(c *handlerConfig) { c.middleware = append(c.middleware, mw...) }
}

// WithRequestHandlerOptions passes opts to the a2a-go request handler.
func WithRequestHandlerOptions(opts ...a2asrv.RequestHandlerOption) HandlerOption {
	return func(c *handlerConfig) { c.request = append(c.request, opts...) }
}

// Handler routes JSON-RPC to exec at POST /, the card at AgentCardPath and
// a liveness probe at /health.
func Handler(exec *Executor, card *a2a.AgentCard, opts ...HandlerOption) http.Handler {
	var cfg handlerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cfg.middleware...)

	r.Method(http.MethodGet, AgentCardPath, a2asrv.NewStaticAgentCardHandler(card))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Method(http.MethodPost, "/", a2asrv.NewJSONRPCHandler(a2asrv.NewHandler(exec, cfg.request...)))
	return r
}
