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

package filetool

import (
	"fmt"
	"os"
	"strings"

	"github.com/kadirpekel/agentkit/pkg/tool"
	"github.com/kadirpekel/agentkit/pkg/tool/functiontool"
)

// ReadFileArgs defines the parameters for reading a file.
type ReadFileArgs struct {
	Path      string `json:"path" jsonschema:"required,description=File path relative to the root directory"`
	StartLine int    `json:"start_line,omitempty" jsonschema:"description=First line to return (1-indexed),minimum=1"`
	EndLine   int    `json:"end_line,omitempty" jsonschema:"description=Last line to return (inclusive),minimum=1"`
}

// NewReadFile creates the read_file tool.
func NewReadFile(cfg Config) (tool.CallableTool, error) {
	cfg = cfg.withDefaults()
	return functiontool.NewWithValidation(
		functiontool.Config{
			Name:        "read_file",
			Description: "Read a text file, optionally limited to a line range.",
		},
		func(ctx tool.Context, args ReadFileArgs) (map[string]any, error) {
			return readFile(cfg, args)
		},
		func(args ReadFileArgs) error {
			_, err := resolve(cfg.Root, args.Path)
			return err
		},
	)
}

func readFile(cfg Config, args ReadFileArgs) (map[string]any, error) {
	full, err := resolve(cfg.Root, args.Path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", args.Path)
	}
	if info.Size() > cfg.MaxFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max: %d)", info.Size(), cfg.MaxFileSize)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	total := len(lines)
	start, end := 1, total
	if args.StartLine > 0 {
		if args.StartLine > total {
			return nil, fmt.Errorf("start_line (%d) exceeds file length (%d lines)", args.StartLine, total)
		}
		start = args.StartLine
	}
	if args.EndLine > 0 && args.EndLine < total {
		end = args.EndLine
	}
	if start > end {
		return nil, fmt.Errorf("invalid range: start_line (%d) > end_line (%d)", start, end)
	}
	return map[string]any{
		"path":        args.Path,
		"content":     strings.Join(lines[start-1:end], "\n"),
		"total_lines": total,
		"start_line":  start,
		"end_line":    end,
	}, nil
}
