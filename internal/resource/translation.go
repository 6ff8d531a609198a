package resource

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// parseTranslation decodes a translation table. Files are YAML; JSON files
// parse too since YAML is a superset. Values must be flat string-to-string.
func parseTranslation(data []byte) (map[string]string, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid translation file: %w", err)
	}
	table := make(map[string]string, len(raw))
	for key, value := range raw {
		text, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("translation key %q: value must be a string, got %T", key, value)
		}
		table[key] = text
	}
	return table, nil
}
