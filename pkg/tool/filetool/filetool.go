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

// Package filetool provides read_file and write_file tools confined to a
// root directory.
//
// write_file asks for confirmation before it overwrites an existing file,
// or before every write when Config.ConfirmWrites is set.
package filetool

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kadirpekel/agentkit/pkg/tool"
)

// DefaultMaxFileSize is the read and write limit used when none is set.
const DefaultMaxFileSize = 1 << 20

// Config configures both tools.
type Config struct {
	// Root is the directory paths are resolved against. Default: "."
	Root string

	// MaxFileSize caps reads and writes in bytes.
	MaxFileSize int64

	// ConfirmWrites requires confirmation for new files too.
	ConfirmWrites bool
}

func (c Config) withDefaults() Config {
	if c.Root == "" {
		c.Root = "."
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	return c
}

// New returns the read_file and write_file tools.
func New(cfg Config) ([]tool.Tool, error) {
	cfg = cfg.withDefaults()
	read, err := NewReadFile(cfg)
	if err != nil {
		return nil, err
	}
	write, err := NewWriteFile(cfg)
	if err != nil {
		return nil, err
	}
	return []tool.Tool{read, write}, nil
}

// resolve maps a relative path into root, rejecting paths that leave it.
func resolve(root, path string) (string, error) {
	if path == "" {
		return "", errors.New("path is required")
	}
	if filepath.IsAbs(path) {
		return "", errors.New("absolute paths not allowed, use relative paths")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root directory: %w", err)
	}
	full := filepath.Join(absRoot, filepath.Clean(path))
	rel, err := filepath.Rel(absRoot, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the root directory", path)
	}
	return full, nil
}
