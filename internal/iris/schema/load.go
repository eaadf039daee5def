package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a table map from a YAML (.yaml, .yml) or TOML (.toml) file.
//
// Missing field names are filled from DefaultFields and a missing base ID
// from DefaultBaseID. The result is validated before it is returned.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read table map %s: %w", path, err)
	}

	var reg Registry
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &reg); err != nil {
			return nil, fmt.Errorf("failed to parse table map %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &reg); err != nil {
			return nil, fmt.Errorf("failed to parse table map %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported table map format %q (want .yaml, .yml or .toml)", ext)
	}

	if reg.BaseID == "" {
		reg.BaseID = DefaultBaseID
	}
	reg.Fields = reg.Fields.WithDefaults()

	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid table map %s: %w", path, err)
	}

	return &reg, nil
}
