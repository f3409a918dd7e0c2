package config

import (
	"path/filepath"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/log"
	"github.com/devyard/vm/pkg/ports"
)

// LoadOptions parameterizes a pipeline run.
type LoadOptions struct {
	// ProjectDir is the directory preset detection and the vm.yaml walk
	// start from.
	ProjectDir string
	// PluginsDir is the root of the user plugin tree; empty disables
	// external presets.
	PluginsDir string
	// Range is the project's allocated port range, used for ${port.N}
	// substitution and automatic service-port assignment.
	Range *ports.Range
	// Preset forces a preset tag, skipping detection. "none" disables
	// presets entirely.
	Preset string
}

// LoadResult is the pipeline's output: the merged config plus everything a
// caller needs to report how it was assembled.
type LoadResult struct {
	Config       *VmConfig
	Preset       string
	DetectedTags []string
	UserConfig   string // path of the vm.yaml that was applied, if any
	Report       *Report
}

// Load runs the full pipeline: embedded defaults, detected preset (with
// ${port.N} substitution), user vm.yaml, deep merge, service-port
// assignment, validation. A report with errors aborts the load.
func Load(opts LoadOptions) (*LoadResult, error) {
	logger := log.WithComponent("config")

	defaults, err := Defaults()
	if err != nil {
		return nil, err
	}

	res := &LoadResult{}
	layers := []*VmConfig{defaults}

	tag := opts.Preset
	if tag == "" {
		tag, res.DetectedTags = DetectPreset(opts.ProjectDir)
		if tag != "" {
			logger.Debug().Str("preset", tag).Strs("detected", res.DetectedTags).Msg("preset detected")
		}
	}
	if tag != "" && tag != "none" {
		preset, err := LoadPreset(tag, opts.PluginsDir, opts.Range)
		if err != nil {
			return nil, err
		}
		res.Preset = preset.Name
		layers = append(layers, preset.Config)
	}

	userPath, err := FindUserConfig(opts.ProjectDir)
	if err != nil {
		return nil, err
	}
	if userPath != "" {
		user, err := LoadFile(userPath)
		if err != nil {
			return nil, err
		}
		res.UserConfig = userPath
		layers = append(layers, user)
	}

	merged, err := MergeLayers(layers...)
	if err != nil {
		return nil, err
	}

	if merged.Project.Name == "" && opts.ProjectDir != "" {
		abs, err := filepath.Abs(opts.ProjectDir)
		if err != nil {
			return nil, errdefs.WrapFilesystem("resolve", opts.ProjectDir, err)
		}
		merged.Project.Name = filepath.Base(abs)
	}
	if merged.Project.WorkspacePath == "" {
		merged.Project.WorkspacePath = "/workspace"
	}
	if opts.Range != nil && merged.Ports.Range == nil {
		r := *opts.Range
		merged.Ports.Range = &r
	}

	if err := EnsureServicePorts(merged); err != nil {
		return nil, err
	}

	res.Report = Validate(merged)
	if err := res.Report.Err(); err != nil {
		return nil, err
	}

	res.Config = merged
	return res, nil
}
