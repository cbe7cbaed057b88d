package ingest

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Source is a single feed entry from the sources file.
type Source struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

type sourcesFile struct {
	Sources []Source `yaml:"sources"`
}

// LoadSources reads the YAML source list and returns the enabled entries.
func LoadSources(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	return ParseSources(data)
}

// ParseSources parses a YAML source list. Disabled entries are skipped,
// entries without a valid absolute URL are rejected.
func ParseSources(data []byte) ([]Source, error) {
	var file sourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}

	sources := make([]Source, 0, len(file.Sources))
	for i, source := range file.Sources {
		if source.Disabled {
			continue
		}

		parsed, err := url.Parse(source.URL)
		if err != nil || !parsed.IsAbs() || parsed.Host == "" {
			return nil, fmt.Errorf("invalid source URL at entry %d: %q", i, source.URL)
		}

		if source.Name == "" {
			source.Name = parsed.Hostname()
		}

		sources = append(sources, source)
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("no enabled sources configured")
	}

	return sources, nil
}
