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

package functiontool

import (
	"fmt"
	"maps"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// PreprocessArgs converts the values of args whose Args field is a struct
// (or pointer to struct, or slice of structs) from their JSON map form into
// the typed value.
//
// Conversion is best effort: a value that does not fit its field, such as a
// map missing a required key, is left as received. In a list each item is
// converted on its own. Nil values, already typed values and fields of other
// kinds are untouched. args itself is never modified.
func PreprocessArgs[Args any](args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	t := reflect.TypeFor[Args]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return args
	}

	out := maps.Clone(args)
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, skip := jsonFieldName(f)
		if skip {
			continue
		}
		v, ok := out[name]
		if !ok || v == nil {
			continue
		}
		out[name] = coerceValue(v, f.Type)
	}
	return out
}

func coerceValue(v any, t reflect.Type) any {
	switch {
	case isStructType(t):
		m, ok := v.(map[string]any)
		if !ok {
			return v
		}
		typed, err := decodeInto(m, t)
		if err != nil {
			return v
		}
		return typed
	case t.Kind() == reflect.Slice && isStructType(t.Elem()):
		items, ok := v.([]any)
		if !ok {
			return v
		}
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = coerceValue(item, t.Elem())
		}
		return out
	}
	return v
}

// decodeInto builds a value of type t (a struct or pointer to struct) from m.
func decodeInto(m map[string]any, t reflect.Type) (any, error) {
	st := t
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if missing := missingRequired(m, st); len(missing) > 0 {
		return nil, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	ptr := reflect.New(st)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  ptr.Interface(),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(m); err != nil {
		return nil, err
	}
	if t.Kind() == reflect.Pointer {
		return ptr.Interface(), nil
	}
	return ptr.Elem().Interface(), nil
}

// missingRequired lists the fields of st tagged jsonschema:"required" that
// m does not carry.
func missingRequired(m map[string]any, st reflect.Type) []string {
	var missing []string
	for i := range st.NumField() {
		f := st.Field(i)
		if !f.IsExported() || !hasRequiredTag(f) {
			continue
		}
		name, skip := jsonFieldName(f)
		if skip {
			continue
		}
		if _, ok := m[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func hasRequiredTag(f reflect.StructField) bool {
	for _, opt := range strings.Split(f.Tag.Get("jsonschema"), ",") {
		if opt == "required" {
			return true
		}
	}
	return false
}

func jsonFieldName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	return name, false
}

func isStructType(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}
