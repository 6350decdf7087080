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

// Package instruction resolves placeholders in agent instructions.
//
// Placeholders are resolved against the invocation at the time the model
// is called:
//
//	{variable}           session state
//	{app:variable}       app-scoped state
//	{user:variable}      user-scoped state
//	{temp:variable}      state discarded after the invocation
//	{artifact.filename}  text of the latest artifact version
//	{variable?}          optional, empty when missing
//
// Required placeholders that cannot be resolved are an error. Text between
// braces that is not a valid state name is left untouched, so JSON
// examples in instructions survive.
package instruction

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/kadirpekel/agentkit/pkg/agent"
)

var placeholderRegex = regexp.MustCompile(`{+[^{}]*}+`)

var statePrefixes = []string{"app:", "user:", "temp:"}

// InjectState returns template with its placeholders resolved from ctx.
func InjectState(ctx agent.ReadonlyContext, template string) (string, error) {
	if template == "" {
		return "", nil
	}
	var sb strings.Builder
	last := 0
	for _, loc := range placeholderRegex.FindAllStringIndex(template, -1) {
		sb.WriteString(template[last:loc[0]])
		repl, err := resolve(ctx, template[loc[0]:loc[1]])
		if err != nil {
			return "", err
		}
		sb.WriteString(repl)
		last = loc[1]
	}
	sb.WriteString(template[last:])
	return sb.String(), nil
}

// Placeholders lists the distinct placeholder names of template, without
// the optional marker.
func Placeholders(template string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderRegex.FindAllString(template, -1) {
		name := strings.TrimSuffix(strings.TrimSpace(strings.Trim(m, "{}")), "?")
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

func resolve(ctx agent.ReadonlyContext, match string) (string, error) {
	name := strings.TrimSpace(strings.Trim(match, "{}"))
	name, optional := strings.CutSuffix(name, "?")

	if filename, ok := strings.CutPrefix(name, "artifact."); ok {
		return resolveArtifact(ctx, filename, optional)
	}
	if !validStateName(name) {
		return match, nil
	}

	state := ctx.ReadonlyState()
	if state == nil {
		return missing(optional, fmt.Errorf("state key %q: no session state", name))
	}
	v, err := state.Get(name)
	if err != nil {
		return missing(optional, fmt.Errorf("state key %q: %w", name, err))
	}
	if v == nil {
		return "", nil
	}
	return fmt.Sprint(v), nil
}

func resolveArtifact(ctx agent.ReadonlyContext, filename string, optional bool) (string, error) {
	if filename == "" {
		return missing(optional, fmt.Errorf("empty artifact filename"))
	}
	cctx, ok := ctx.(agent.CallbackContext)
	if !ok || cctx.Artifacts() == nil {
		return missing(optional, fmt.Errorf("artifact %q: no artifact service", filename))
	}
	part, err := cctx.Artifacts().Load(ctx, filename)
	if err != nil {
		return missing(optional, fmt.Errorf("load artifact %q: %w", filename, err))
	}
	if part == nil {
		return missing(optional, fmt.Errorf("artifact %q not found", filename))
	}
	if part.Text != "" {
		return part.Text, nil
	}
	if part.InlineData != nil {
		return string(part.InlineData.Data), nil
	}
	return "", nil
}

func missing(optional bool, err error) (string, error) {
	if optional {
		return "", nil
	}
	return "", err
}

func validStateName(name string) bool {
	for _, p := range statePrefixes {
		if rest, ok := strings.CutPrefix(name, p); ok {
			return isIdentifier(rest)
		}
	}
	return isIdentifier(name)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}
