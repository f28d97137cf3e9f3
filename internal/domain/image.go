package domain

import (
	"fmt"
	"strings"
)

// ImageConfig is a concrete container image plus default environment entries in KEY=VALUE form.
type ImageConfig struct {
	Image       string   `json:"image" yaml:"image"`
	Environment []string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

func (c ImageConfig) Validate() error {
	if strings.TrimSpace(c.Image) == "" {
		return fmt.Errorf("%w: image is required", ErrConfiguration)
	}
	_, err := c.Env()
	return err
}

// Env parses Environment into a map. It returns nil when no entries are set.
func (c ImageConfig) Env() (map[string]string, error) {
	if len(c.Environment) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(c.Environment))
	for _, entry := range c.Environment {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: environment entry %q is invalid", ErrConfiguration, entry)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}
