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
	"errors"
	"fmt"
)

var (
	ErrDuplicatePlugin = errors.New("plugin already registered")
	ErrNotImplemented  = errors.New("plugin does not implement callback")
)

// Error reports a failure of a plugin callback.
type Error struct {
	PluginName string
	Kind       Kind
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("[Plugin:%s] %s failed: %v", e.PluginName, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(p Plugin, kind Kind, err error) error {
	return &Error{PluginName: p.Name(), Kind: kind, Err: err}
}
