package config

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// parseYAML decodes config.yaml strictly: unknown keys are reported instead of ignored.
func parseYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		// an empty file decodes to io.EOF; leave cfg zero-valued so defaults apply
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("yaml: %w", err)
	}
	return nil
}
