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

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var (
	envWithDefault = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*):-(.*?)\}`)
	envBraced      = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// ExpandEnv replaces ${VAR} and ${VAR:-default} in s. An empty variable
// takes the default.
func ExpandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	s = envWithDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envWithDefault.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})
	return envBraced.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envBraced.FindStringSubmatch(match)[1])
	})
}

// expandData expands variables in every string of a decoded YAML tree.
// Strings changed by expansion are re-typed, so "${PORT}" can fill an int.
func expandData(data any) any {
	switch v := data.(type) {
	case string:
		expanded := ExpandEnv(v)
		if expanded != v {
			return parseScalar(expanded)
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			out[key] = expandData(value)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = expandData(item)
		}
		return out
	default:
		return v
	}
}

func parseScalar(value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

// LoadEnvFiles loads .env.local and then .env from dir. Variables already
// set in the environment win; missing files are skipped.
func LoadEnvFiles(dir string) error {
	for _, name := range []string{".env.local", ".env"} {
		path := filepath.Join(dir, name)
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}
