package config

import (
	"embed"

	"github.com/devyard/vm/pkg/errdefs"
)

//go:embed resources/defaults.yaml resources/presets/*.yaml
var resources embed.FS

// Defaults returns the embedded base configuration every pipeline run
// starts from.
func Defaults() (*VmConfig, error) {
	data, err := resources.ReadFile("resources/defaults.yaml")
	if err != nil {
		return nil, errdefs.Internalf("embedded defaults missing: %v", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errdefs.Internalf("embedded defaults invalid: %v", err)
	}
	return cfg, nil
}
