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

// Package functiontool creates tools from typed Go functions.
//
// FunctionTool is syntactic sugar over the CallableTool interface: it
// generates a CallableTool implementation from a typed function, with the
// parameter schema derived from struct tags.
//
// # Basic Usage
//
//	type GetWeatherArgs struct {
//	    City  string `json:"city" jsonschema:"required,description=City name"`
//	    Units string `json:"units,omitempty" jsonschema:"description=Temperature units,default=celsius,enum=celsius|fahrenheit"`
//	}
//
//	weatherTool, err := functiontool.New(
//	    functiontool.Config{
//	        Name:        "get_weather",
//	        Description: "Get current weather for a city",
//	    },
//	    func(ctx tool.Context, args GetWeatherArgs) (map[string]any, error) {
//	        return map[string]any{"temp": 22, "condition": "sunny"}, nil
//	    },
//	)
//
// # Confirmation
//
// Setting RequireConfirmation (or RequireConfirmationFunc) makes the tool
// ask for human approval before the function body runs. The first call
// returns a pending error to the model and raises a confirmation request;
// the body runs only once the request is answered with confirmed=true.
//
// For complex tools (streaming, dynamic schema, stateful), implement
// CallableTool directly.
package functiontool

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/tool"
	"github.com/kadirpekel/agentkit/pkg/toolconfirmation"
)

// Config defines the configuration for a function tool.
type Config struct {
	// Name is the unique identifier for this tool (required).
	Name string

	// Description explains what the tool does (required).
	// This is shown to the LLM to help it decide when to use the tool.
	Description string

	// IsLongRunning marks the tool as starting an operation whose result
	// arrives later.
	IsLongRunning bool

	// RequireConfirmation asks for approval before every call.
	RequireConfirmation bool

	// RequireConfirmationFunc decides per call. It is consulted only when
	// RequireConfirmation is false.
	RequireConfirmationFunc any
}

// New creates a CallableTool from a typed function.
//
// The function signature must be:
//
//	func(tool.Context, Args) (map[string]any, error)
//
// Where Args is a struct with json and jsonschema tags defining the
// parameters. Config.RequireConfirmationFunc, when set, must be a
// func(Args) bool.
func New[Args any](cfg Config, fn func(tool.Context, Args) (map[string]any, error)) (tool.CallableTool, error) {
	return newFunctionTool(cfg, fn)
}

func newFunctionTool[Args any](cfg Config, fn func(tool.Context, Args) (map[string]any, error)) (*functionTool[Args], error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("tool %s: function is required", cfg.Name)
	}

	var confirmFn func(Args) bool
	if cfg.RequireConfirmationFunc != nil {
		f, ok := cfg.RequireConfirmationFunc.(func(Args) bool)
		if !ok {
			return nil, fmt.Errorf("tool %s: RequireConfirmationFunc must be func(%T) bool, got %T",
				cfg.Name, *new(Args), cfg.RequireConfirmationFunc)
		}
		confirmFn = f
	}

	schema, err := generateSchema[Args]()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for %s: %w", cfg.Name, err)
	}

	return &functionTool[Args]{
		config:    cfg,
		fn:        fn,
		confirmFn: confirmFn,
		schema:    schema,
	}, nil
}

// NewWithValidation creates a CallableTool with custom argument validation.
// The validation function is called after confirmation and before the main
// function, allowing checks beyond what struct tags can express.
//
// Example:
//
//	functiontool.NewWithValidation(
//	    cfg,
//	    myFunction,
//	    func(args MyArgs) error {
//	        if strings.Contains(args.Path, "..") {
//	            return fmt.Errorf("path traversal not allowed")
//	        }
//	        return nil
//	    },
//	)
func NewWithValidation[Args any](
	cfg Config,
	fn func(tool.Context, Args) (map[string]any, error),
	validate func(Args) error,
) (tool.CallableTool, error) {
	ft, err := newFunctionTool(cfg, fn)
	if err != nil {
		return nil, err
	}
	ft.validate = validate
	return ft, nil
}

// functionTool implements tool.CallableTool by wrapping a typed function.
type functionTool[Args any] struct {
	config    Config
	fn        func(tool.Context, Args) (map[string]any, error)
	confirmFn func(Args) bool
	validate  func(Args) error
	schema    map[string]any
}

func (t *functionTool[Args]) Name() string        { return t.config.Name }
func (t *functionTool[Args]) Description() string { return t.config.Description }
func (t *functionTool[Args]) IsLongRunning() bool { return t.config.IsLongRunning }

// Schema returns the JSON schema for tool parameters.
func (t *functionTool[Args]) Schema() map[string]any {
	return t.schema
}

// Declaration returns the function declaration sent to the model.
func (t *functionTool[Args]) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:                 t.config.Name,
		Description:          t.config.Description,
		ParametersJsonSchema: t.schema,
	}
}

// Call decodes the arguments, runs the confirmation protocol when required
// and executes the function.
func (t *functionTool[Args]) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	typedArgs, err := decodeArgs[Args](PreprocessArgs[Args](args))
	if err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", t.config.Name, err)
	}

	if t.requiresConfirmation(typedArgs) {
		tc := ctx.ToolConfirmation()
		if tc == nil {
			if err := ctx.RequestConfirmation(toolconfirmation.DefaultHint(t.config.Name), nil); err != nil {
				return nil, err
			}
			ctx.Actions().SkipSummarization = true
			return toolconfirmation.PendingResponse(), nil
		}
		if !tc.Confirmed {
			return toolconfirmation.RejectedResponse(), nil
		}
	}

	if t.validate != nil {
		if err := t.validate(typedArgs); err != nil {
			return nil, fmt.Errorf("validation failed for %s: %w", t.config.Name, err)
		}
	}

	return t.fn(ctx, typedArgs)
}

func (t *functionTool[Args]) requiresConfirmation(args Args) bool {
	if t.config.RequireConfirmation {
		return true
	}
	return t.confirmFn != nil && t.confirmFn(args)
}

// decodeArgs converts the (preprocessed) argument map into Args.
func decodeArgs[Args any](m map[string]any) (Args, error) {
	var out Args
	if m == nil {
		return out, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(m); err != nil {
		return out, err
	}
	return out, nil
}

// validateConfig checks that the configuration is valid.
func validateConfig(cfg Config) error {
	if cfg.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if cfg.Description == "" {
		return fmt.Errorf("tool description is required")
	}
	return nil
}

var _ tool.CallableTool = (*functionTool[struct{}])(nil)
