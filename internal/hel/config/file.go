package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape: sources as a list (natural to hand-edit)
// rather than RunConfig's map-by-id, which exists for O(1) lookup and
// deterministic reload diffing once loaded.
type fileConfig struct {
	Global  GlobalConfig `yaml:"global"`
	Sources []*Source    `yaml:"sources"`
}

// LoadFile reads and parses a YAML run config from path, returning the
// parsed RunConfig alongside the raw bytes Loader.Apply hashes for its
// no-op-on-unchanged-reload check. It does not validate; call
// RunConfig.Validate or Loader.Apply for that.
//
// Adapted from the teacher's internal/gitai/gosuto.Loader.LoadFile: read
// the whole file, unmarshal with yaml.v3, and let the caller decide what
// "apply" means.
func LoadFile(path string) (*RunConfig, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, nil, fmt.Errorf("parse config yaml: %w", err)
	}

	sources := make(map[string]*Source, len(fc.Sources))
	for _, s := range fc.Sources {
		if s == nil {
			continue
		}
		sources[s.ID] = s
	}

	return &RunConfig{Global: fc.Global, Sources: sources}, data, nil
}
