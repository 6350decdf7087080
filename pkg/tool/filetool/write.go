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
	"path/filepath"

	"github.com/kadirpekel/agentkit/pkg/tool"
	"github.com/kadirpekel/agentkit/pkg/tool/functiontool"
)

// WriteFileArgs defines the parameters for writing a file.
type WriteFileArgs struct {
	Path    string `json:"path" jsonschema:"required,description=File path relative to the root directory"`
	Content string `json:"content" jsonschema:"required,description=Content to write to the file"`
	Backup  bool   `json:"backup,omitempty" jsonschema:"description=Keep the previous content as <path>.bak"`
}

// NewWriteFile creates the write_file tool.
func NewWriteFile(cfg Config) (tool.CallableTool, error) {
	cfg = cfg.withDefaults()
	return functiontool.NewWithValidation(
		functiontool.Config{
			Name:                    "write_file",
			Description:             "Create or overwrite a text file. Overwrites need the user's approval.",
			RequireConfirmation:     cfg.ConfirmWrites,
			RequireConfirmationFunc: func(args WriteFileArgs) bool { return exists(cfg, args.Path) },
		},
		func(ctx tool.Context, args WriteFileArgs) (map[string]any, error) {
			return writeFile(cfg, args)
		},
		func(args WriteFileArgs) error {
			if _, err := resolve(cfg.Root, args.Path); err != nil {
				return err
			}
			if int64(len(args.Content)) > cfg.MaxFileSize {
				return fmt.Errorf("content too large: %d bytes (max: %d)", len(args.Content), cfg.MaxFileSize)
			}
			return nil
		},
	)
}

// exists reports whether a write to path would overwrite a file. Invalid
// paths report false; validation rejects them later.
func exists(cfg Config, path string) bool {
	full, err := resolve(cfg.Root, path)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

func writeFile(cfg Config, args WriteFileArgs) (map[string]any, error) {
	full, err := resolve(cfg.Root, args.Path)
	if err != nil {
		return nil, err
	}
	action := "created"
	if old, err := os.ReadFile(full); err == nil {
		action = "overwritten"
		if args.Backup {
			if err := os.WriteFile(full+".bak", old, 0o644); err != nil {
				return nil, fmt.Errorf("failed to create backup: %w", err)
			}
		}
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(full, []byte(args.Content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	return map[string]any{
		"path":      args.Path,
		"action":    action,
		"size":      len(args.Content),
		"backed_up": action == "overwritten" && args.Backup,
	}, nil
}
