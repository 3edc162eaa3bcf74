// Package settingsfile loads the optional on-disk form of Configuration.Settings.
//
// The wire protocol only ever carries JSON to the child; this package exists
// so a caller can point Configuration.Settings at a file instead of building
// the map in Go, using whichever of the three common formats is convenient.
package settingsfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Load reads path and decodes it into a map suitable for the outbound
// "settings" field, dispatching on extension:
//
//	.json       - strict JSON
//	.jsonc      - JSON with // and /* */ comments, stripped via tidwall/jsonc
//	.yaml/.yml  - YAML, converted to a JSON-compatible map
func Load(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("settingsfile: read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var out map[string]any
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("settingsfile: parse yaml %s: %w", path, err)
		}
		return out, nil

	case ".jsonc":
		data = jsonc.ToJSON(data)
		fallthrough

	default:
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("settingsfile: parse json %s: %w", path, err)
		}
		return out, nil
	}
}
