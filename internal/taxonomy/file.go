package taxonomy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads the bundled taxonomy YAML the server serves to
// clients.
func LoadFile(path string) ([]*Tree, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open taxonomy file: %w", err)
	}
	defer file.Close()

	var doc struct {
		Taxonomies []*Tree `yaml:"taxonomies"`
	}
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode taxonomy file: %w", err)
	}
	if len(doc.Taxonomies) == 0 {
		return nil, fmt.Errorf("taxonomy file %s defines no taxonomies", path)
	}
	for _, t := range doc.Taxonomies {
		if t.ListType == "" {
			return nil, fmt.Errorf("taxonomy file %s: tree without list_type", path)
		}
	}
	return doc.Taxonomies, nil
}
