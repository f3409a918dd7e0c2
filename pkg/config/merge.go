package config

import (
	"github.com/imdario/mergo"

	"github.com/devyard/vm/pkg/errdefs"
)

// Merge overlays layer onto base and returns the result. Base and layer are
// not mutated. Scalars and struct fields follow overlay-wins semantics,
// package lists are replaced wholesale when the overlay declares them, and
// the ordered mappings (ports, services, aliases, environment) merge
// key-wise with first-seen key order preserved.
func Merge(base, layer *VmConfig) (*VmConfig, error) {
	out := base.Clone()
	overlay := layer.Clone()

	if overlay.Version != "" {
		out.Version = overlay.Version
	}
	if overlay.Provider != "" {
		out.Provider = overlay.Provider
	}
	if overlay.OS != "" {
		out.OS = overlay.OS
	}

	// The plain struct subtrees carry only scalars and pointers; mergo's
	// override semantics match the contract exactly (set fields win, unset
	// fields fall through to base).
	for _, pair := range []struct {
		dst, src any
	}{
		{&out.Project, overlay.Project},
		{&out.VM, overlay.VM},
		{&out.Versions, overlay.Versions},
		{&out.Terminal, overlay.Terminal},
		{&out.GitConfig, overlay.GitConfig},
	} {
		if err := mergo.Merge(pair.dst, pair.src, mergo.WithOverride); err != nil {
			return nil, errdefs.Internalf("merge config layers: %v", err)
		}
	}

	out.AptPackages = pickList(out.AptPackages, overlay.AptPackages)
	out.NpmPackages = pickList(out.NpmPackages, overlay.NpmPackages)
	out.PipPackages = pickList(out.PipPackages, overlay.PipPackages)
	out.CargoPackages = pickList(out.CargoPackages, overlay.CargoPackages)

	if overlay.PackageLinking != nil {
		out.PackageLinking = overlay.PackageLinking
	}
	if overlay.ClaudeSync != nil {
		out.ClaudeSync = overlay.ClaudeSync
	}
	if overlay.GeminiSync != nil {
		out.GeminiSync = overlay.GeminiSync
	}
	if overlay.PersistDatabases != nil {
		out.PersistDatabases = overlay.PersistDatabases
	}

	out.Aliases = mergeStringMap(out.Aliases, overlay.Aliases)
	out.Environment = mergeStringMap(out.Environment, overlay.Environment)
	out.Ports = mergePorts(out.Ports, overlay.Ports)
	out.Services = mergeServices(out.Services, overlay.Services)

	return out, nil
}

// MergeLayers folds the layers left to right: later layers win.
func MergeLayers(layers ...*VmConfig) (*VmConfig, error) {
	if len(layers) == 0 {
		return &VmConfig{}, nil
	}
	out := layers[0].Clone()
	for _, layer := range layers[1:] {
		if layer == nil {
			continue
		}
		merged, err := Merge(out, layer)
		if err != nil {
			return nil, err
		}
		out = merged
	}
	return out, nil
}

// pickList implements replacement semantics for package lists: a declared
// overlay list wins wholesale, never concatenates.
func pickList(base, overlay []string) []string {
	if overlay != nil {
		return overlay
	}
	return base
}

func mergeStringMap(base, overlay StringMap) StringMap {
	out := base.Clone()
	for _, k := range overlay.Keys() {
		v, _ := overlay.Get(k)
		out.Set(k, v)
	}
	return out
}

func mergePorts(base, overlay PortsConfig) PortsConfig {
	out := base.Clone()
	for _, k := range overlay.Services() {
		v, _ := overlay.Get(k)
		out.Set(k, v)
	}
	if overlay.Range != nil {
		r := *overlay.Range
		out.Range = &r
	}
	return out
}

// mergeServices merges service entries field-wise: an overlay entry updates
// only the fields it sets, so a user enabling postgresql keeps the preset's
// version and credentials.
func mergeServices(base, overlay ServiceMap) ServiceMap {
	out := cloneServices(base)
	for _, name := range overlay.Keys() {
		src, _ := overlay.Get(name)
		dst, ok := out.Get(name)
		if !ok {
			cp := *src
			cp.Enabled = clonePtr(src.Enabled)
			cp.Port = clonePtr(src.Port)
			out.Set(name, &cp)
			continue
		}
		if src.Enabled != nil {
			dst.Enabled = clonePtr(src.Enabled)
		}
		if src.Image != "" {
			dst.Image = src.Image
		}
		if src.Version != "" {
			dst.Version = src.Version
		}
		if src.Port != nil {
			dst.Port = clonePtr(src.Port)
		}
		if src.Type != "" {
			dst.Type = src.Type
		}
		if src.User != "" {
			dst.User = src.User
		}
		if src.Password != "" {
			dst.Password = src.Password
		}
	}
	return out
}
