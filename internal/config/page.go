package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/tv_datafeed/internal/hostpage"
)

// LoadPageOptions overlays the YAML file at path onto base. Keys absent from
// the file keep their base values. An empty path returns base unchanged.
func LoadPageOptions(path string, base hostpage.Options) (hostpage.Options, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("page config: %w", err)
	}
	opts := base
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return base, fmt.Errorf("page config: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return base, fmt.Errorf("page config: %w", err)
	}
	return opts, nil
}
