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
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// generateSchema creates a JSON schema from a Go type using struct tags.
//
// Supported tags:
//   - json:"name" - Parameter name
//   - json:",omitempty" - Optional parameter
//   - jsonschema:"required" - Explicitly mark as required
//   - jsonschema:"description=..." - Parameter description
//   - jsonschema:"default=..." - Default value
//   - jsonschema:"enum=val1|val2" - Allowed values
//   - jsonschema:"minimum=N,maximum=M" - Numeric constraints
func generateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	schemaMap, err := schemaToMap(reflector.Reflect(new(T)))
	if err != nil {
		return nil, fmt.Errorf("failed to convert schema to map: %w", err)
	}

	if schemaMap["type"] != "object" {
		return schemaMap, nil
	}

	// Keep only what function declarations understand.
	result := map[string]any{"type": "object"}
	if props, ok := schemaMap["properties"]; ok {
		result["properties"] = props
		if required, ok := schemaMap["required"]; ok {
			result["required"] = required
		}
	} else {
		result["properties"] = map[string]any{}
	}
	if addProps, ok := schemaMap["additionalProperties"]; ok {
		result["additionalProperties"] = addProps
	}
	return result, nil
}

func schemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	delete(result, "$schema")
	delete(result, "$id")
	return result, nil
}
