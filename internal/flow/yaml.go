package flow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// LoadYAML decodes a flow authored in the project's YAML IR format. Grounded
// on the donor's use of gopkg.in/yaml.v3 throughout internal/config.
func LoadYAML(data []byte) (*Flow, error) {
	var f Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("flow: decode yaml: %w", err)
	}
	if f.SchemaVersion == "" {
		f.SchemaVersion = "v1"
	}
	if f.Version == 0 {
		f.Version = 1
	}
	return &f, nil
}

// MarshalYAML serializes a flow back into its authoring format.
func MarshalYAML(f *Flow) ([]byte, error) {
	return yaml.Marshal(f)
}
