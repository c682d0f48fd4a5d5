package format

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	Table = "table"
	JSON  = "json"
	YAML  = "yaml"
	TOML  = "toml"
)

// Structured reports whether format is a machine-readable encoding.
func Structured(format string) bool {
	switch strings.ToLower(format) {
	case JSON, YAML, TOML:
		return true
	}
	return false
}

// Encode writes v in a structured format. TOML documents must be tables, so
// lists are wrapped under an "items" key.
func Encode(format string, v any, w io.Writer) error {
	switch strings.ToLower(format) {
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
	case TOML:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			v = map[string]any{"items": v}
		}
		if err := toml.NewEncoder(w).Encode(v); err != nil {
			return fmt.Errorf("encode toml: %w", err)
		}
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
	return nil
}
