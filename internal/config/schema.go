package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaDoc []byte

// Validate runs structural pre-validation of the config file at path
// against schema.json, then the full semantic Load pass. Schema errors
// are reported with JSON-pointer locations, catching gross shape
// mistakes (wrong types, missing required keys) before the more
// detailed Go-level checks in applyDefaultsAndValidate run. This backs
// the `egd config validate` CLI command.
func Validate(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// jsonschema operates on plain JSON-decoded values; round-trip
	// through encoding/json so yaml.v3's native Go types (ints, nested
	// maps) match what the validator expects.
	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("normalizing config for schema validation: %w", err)
	}
	var instance interface{}
	if err := json.Unmarshal(jsonBytes, &instance); err != nil {
		return nil, fmt.Errorf("normalizing config for schema validation: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaDoc)); err != nil {
		return nil, fmt.Errorf("loading config schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compiling config schema: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("config failed schema validation: %w", err)
	}

	return Load(path)
}
