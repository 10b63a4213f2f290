package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse reads JSONC configuration: JSON with comments and trailing commas.
// Unknown keys are rejected and syntax errors carry line and column.
func Parse(content string, base Config) (Config, []Warning, error) {
	if strings.TrimSpace(content) == "" {
		return finish(filePayload{}, base)
	}
	payload, err := decodeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}
	return finish(payload, base)
}

// ParseYAML reads the same schema from YAML. Unknown keys are rejected.
func ParseYAML(content string, base Config) (Config, []Warning, error) {
	decoder := yaml.NewDecoder(strings.NewReader(content))
	decoder.KnownFields(true)

	var payload filePayload
	if err := decoder.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return finish(filePayload{}, base)
		}
		return Config{}, nil, fmt.Errorf("decode yaml: %w", err)
	}

	var extra any
	if err := decoder.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			return Config{}, nil, fmt.Errorf("multiple YAML documents are not allowed")
		}
		return Config{}, nil, fmt.Errorf("decode yaml: %w", err)
	}
	return finish(payload, base)
}
