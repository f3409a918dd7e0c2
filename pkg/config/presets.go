package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/ports"
)

// Preset categories. A box preset customizes the base image; a provision
// preset overlays packages, services, and environment.
const (
	PresetCategoryBox       = "box"
	PresetCategoryProvision = "provision"
)

// Preset is a loaded preset document.
type Preset struct {
	Name     string
	Category string
	Config   *VmConfig
}

// presetPriority orders detection tags from most to least specific. When a
// project matches several, the first match wins.
var presetPriority = []string{
	"next", "react", "angular", "vue",
	"django", "flask", "rails",
	"nodejs", "python", "rust", "go", "php",
	"docker", "kubernetes",
}

// presetSentinels maps a tag to the files or directories whose presence in
// the project marks it. A trailing slash marks a directory.
var presetSentinels = map[string][]string{
	"next":       {"next.config.js", "next.config.mjs", "next.config.ts"},
	"react":      {"src/App.jsx", "src/App.tsx"},
	"angular":    {"angular.json"},
	"vue":        {"vue.config.js"},
	"django":     {"manage.py"},
	"flask":      {"app.py", "wsgi.py"},
	"rails":      {"Gemfile"},
	"nodejs":     {"package.json"},
	"python":     {"requirements.txt", "pyproject.toml"},
	"rust":       {"Cargo.toml"},
	"go":         {"go.mod"},
	"php":        {"composer.json"},
	"docker":     {"Dockerfile"},
	"kubernetes": {"k8s/", "kubernetes/"},
}

// DetectPreset inspects projectDir for sentinel files and returns the
// highest-priority matching tag plus every tag that matched. Multi-tech
// projects keep all tags for reporting but only the first drives config.
func DetectPreset(projectDir string) (string, []string) {
	var matched []string
	for _, tag := range presetPriority {
		for _, sentinel := range presetSentinels[tag] {
			if sentinelExists(projectDir, sentinel) {
				matched = append(matched, tag)
				break
			}
		}
	}
	if len(matched) == 0 {
		return "", nil
	}
	return matched[0], matched
}

func sentinelExists(dir, sentinel string) bool {
	wantDir := false
	if sentinel[len(sentinel)-1] == '/' {
		wantDir = true
		sentinel = sentinel[:len(sentinel)-1]
	}
	info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(sentinel)))
	if err != nil {
		return false
	}
	return info.IsDir() == wantDir
}

// KnownPresets returns every embedded preset tag in priority order.
func KnownPresets() []string {
	out := make([]string, len(presetPriority))
	copy(out, presetPriority)
	return out
}

var portPlaceholder = regexp.MustCompile(`\$\{port\.(\d+)\}`)

// substitutePorts replaces ${port.N} placeholders with range.start + N
// before the document is parsed. Using a placeholder without an allocated
// range, or indexing past the end of the range, is an error.
func substitutePorts(raw []byte, rng *ports.Range) ([]byte, error) {
	var substErr error
	out := portPlaceholder.ReplaceAllFunc(raw, func(m []byte) []byte {
		if substErr != nil {
			return m
		}
		if rng == nil {
			substErr = errdefs.Validationf("preset uses %s but no port range is allocated", m)
			return m
		}
		idx, err := strconv.Atoi(string(portPlaceholder.FindSubmatch(m)[1]))
		if err != nil {
			substErr = errdefs.Validationf("invalid port placeholder %s", m)
			return m
		}
		port := int(rng.Start) + idx
		if port > int(rng.End) {
			substErr = errdefs.Validationf("%s resolves to %d, outside range %s", m, port, rng)
			return m
		}
		return []byte(strconv.Itoa(port))
	})
	return out, substErr
}

// presetFile is the on-disk preset shape: a config overlay plus the
// category marker.
type presetFile struct {
	Category string `yaml:"category"`
	VmConfig `yaml:",inline"`
}

// LoadPreset loads a preset by tag. The plugin directory takes precedence
// over the embedded copy so users can override shipped presets. The
// ${port.N} placeholders are substituted against rng before parsing.
func LoadPreset(name, pluginsDir string, rng *ports.Range) (*Preset, error) {
	raw, err := readPreset(name, pluginsDir)
	if err != nil {
		return nil, err
	}

	raw, err = substitutePorts(raw, rng)
	if err != nil {
		return nil, fmt.Errorf("preset %q: %w", name, err)
	}

	var doc presetFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errdefs.Validationf("preset %q: invalid YAML: %v", name, err)
	}

	category := doc.Category
	switch category {
	case "":
		category = PresetCategoryProvision
	case PresetCategoryBox, PresetCategoryProvision:
	default:
		return nil, errdefs.Validationf("preset %q: unknown category %q", name, doc.Category)
	}

	cfg := doc.VmConfig
	return &Preset{Name: name, Category: category, Config: &cfg}, nil
}

func readPreset(name, pluginsDir string) ([]byte, error) {
	if pluginsDir != "" {
		external := filepath.Join(pluginsDir, "presets", name, "preset.yaml")
		data, err := os.ReadFile(external)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, errdefs.WrapFilesystem("read", external, err)
		}
	}

	data, err := resources.ReadFile("resources/presets/" + name + ".yaml")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errdefs.NotFoundf("preset %q", name)
	}
	if err != nil {
		return nil, errdefs.Internalf("embedded preset %q: %v", name, err)
	}
	return data, nil
}
