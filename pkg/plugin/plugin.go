// Package plugin manages the user plugin tree: preset and service
// definitions dropped under the state directory. The tree is scanned on
// every call so edits made behind the tool's back are always picked up;
// the config pipeline gives plugin presets precedence over embedded ones.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/log"
	"github.com/devyard/vm/pkg/platform"
)

// Kind classifies a plugin.
type Kind string

const (
	// KindPreset contributes a configuration preset.
	KindPreset Kind = "preset"

	// KindService contributes a shared service definition.
	KindService Kind = "service"
)

// Valid reports whether k names a known plugin kind.
func (k Kind) Valid() bool {
	return k == KindPreset || k == KindService
}

// subdir is the directory under the plugin root holding this kind.
func (k Kind) subdir() string {
	return string(k) + "s"
}

// payloadFile names the kind's definition file inside a plugin directory.
func (k Kind) payloadFile() string {
	return string(k) + ".yaml"
}

// metadataFile describes every plugin.
const metadataFile = "plugin.yaml"

// nameRe bounds plugin names to safe directory names.
var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Metadata is the parsed plugin.yaml.
type Metadata struct {
	Name        string `yaml:"name"`
	Kind        Kind   `yaml:"kind"`
	Version     string `yaml:"version,omitempty"`
	Description string `yaml:"description,omitempty"`
	Author      string `yaml:"author,omitempty"`
}

// Info describes one installed plugin.
type Info struct {
	Metadata

	// Dir is the plugin's directory inside the tree.
	Dir string

	// Payload is the path of the preset.yaml or service.yaml.
	Payload string
}

// Manager scans and mutates one plugin tree.
type Manager struct {
	root   string
	logger zerolog.Logger
}

// NewManager builds a manager over root; the empty root means the
// platform's default plugin tree.
func NewManager(root string) *Manager {
	if root == "" {
		root = platform.PluginsDir()
	}
	return &Manager{root: root, logger: log.WithComponent("plugin")}
}

// Root returns the tree the manager operates on.
func (m *Manager) Root() string { return m.root }

// List scans the tree for plugins of the given kind; the empty kind lists
// everything. Results are sorted by name.
func (m *Manager) List(kind Kind) ([]Info, error) {
	kinds := []Kind{KindPreset, KindService}
	if kind != "" {
		if !kind.Valid() {
			return nil, errdefs.Validationf("unknown plugin kind %q", kind)
		}
		kinds = []Kind{kind}
	}

	var out []Info
	for _, k := range kinds {
		infos, err := m.listKind(k)
		if err != nil {
			return nil, err
		}
		out = append(out, infos...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}

func (m *Manager) listKind(kind Kind) ([]Info, error) {
	dir := filepath.Join(m.root, kind.subdir())
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errdefs.WrapFilesystem("readdir", dir, err)
	}

	var out []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := m.load(kind, entry.Name())
		if err != nil {
			m.logger.Warn().Str("plugin", entry.Name()).Err(err).Msg("skipping broken plugin")
			continue
		}
		out = append(out, *info)
	}
	return out, nil
}

// Info looks a plugin up by name across both kinds.
func (m *Manager) Info(name string) (*Info, error) {
	for _, kind := range []Kind{KindPreset, KindService} {
		if _, err := os.Stat(filepath.Join(m.root, kind.subdir(), name)); err != nil {
			continue
		}
		return m.load(kind, name)
	}
	return nil, errdefs.NotFoundf("plugin %q", name)
}

// load reads and validates one plugin directory.
func (m *Manager) load(kind Kind, name string) (*Info, error) {
	dir := filepath.Join(m.root, kind.subdir(), name)
	meta, err := readMetadata(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, err
	}
	if meta.Name != name {
		return nil, errdefs.Validationf("plugin.yaml names %q but lives in %q", meta.Name, name)
	}
	if meta.Kind != kind {
		return nil, errdefs.Validationf("plugin %q declares kind %q but lives under %s",
			name, meta.Kind, kind.subdir())
	}

	payload := filepath.Join(dir, kind.payloadFile())
	if _, err := os.Stat(payload); err != nil {
		return nil, errdefs.Validationf("plugin %q is missing %s", name, kind.payloadFile())
	}
	return &Info{Metadata: *meta, Dir: dir, Payload: payload}, nil
}

// Install validates the plugin at srcDir and copies it into the tree.
func (m *Manager) Install(srcDir string) (*Info, error) {
	meta, err := readMetadata(filepath.Join(srcDir, metadataFile))
	if err != nil {
		return nil, err
	}
	if err := validateMetadata(meta); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(srcDir, meta.Kind.payloadFile())); err != nil {
		return nil, errdefs.Validationf("plugin %q is missing %s", meta.Name, meta.Kind.payloadFile())
	}

	dest := filepath.Join(m.root, meta.Kind.subdir(), meta.Name)
	if _, err := os.Stat(dest); err == nil {
		return nil, errdefs.Validationf("plugin %q is already installed", meta.Name)
	}
	if err := copyTree(srcDir, dest); err != nil {
		os.RemoveAll(dest)
		return nil, err
	}

	m.logger.Info().Str("plugin", meta.Name).Str("kind", string(meta.Kind)).Msg("plugin installed")
	return m.load(meta.Kind, meta.Name)
}

// Remove deletes an installed plugin.
func (m *Manager) Remove(name string) error {
	for _, kind := range []Kind{KindPreset, KindService} {
		dir := filepath.Join(m.root, kind.subdir(), name)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return errdefs.WrapFilesystem("remove", dir, err)
		}
		m.logger.Info().Str("plugin", name).Msg("plugin removed")
		return nil
	}
	return errdefs.NotFoundf("plugin %q", name)
}

// New scaffolds an empty plugin of the given kind and returns its
// directory.
func (m *Manager) New(name string, kind Kind) (string, error) {
	if !nameRe.MatchString(name) {
		return "", errdefs.Validationf("invalid plugin name %q (lowercase letters, digits, - and _)", name)
	}
	if !kind.Valid() {
		return "", errdefs.Validationf("unknown plugin kind %q", kind)
	}

	dir := filepath.Join(m.root, kind.subdir(), name)
	if _, err := os.Stat(dir); err == nil {
		return "", errdefs.Validationf("plugin %q already exists", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errdefs.WrapFilesystem("mkdir", dir, err)
	}

	meta := fmt.Sprintf("name: %s\nkind: %s\nversion: 0.1.0\ndescription: \"\"\n", name, kind)
	if err := os.WriteFile(filepath.Join(dir, metadataFile), []byte(meta), 0o644); err != nil {
		os.RemoveAll(dir)
		return "", errdefs.WrapFilesystem("write", filepath.Join(dir, metadataFile), err)
	}

	payload := scaffoldPayload(name, kind)
	if err := os.WriteFile(filepath.Join(dir, kind.payloadFile()), []byte(payload), 0o644); err != nil {
		os.RemoveAll(dir)
		return "", errdefs.WrapFilesystem("write", filepath.Join(dir, kind.payloadFile()), err)
	}
	return dir, nil
}

func scaffoldPayload(name string, kind Kind) string {
	if kind == KindPreset {
		return fmt.Sprintf("# preset %s\npreset:\n  name: %s\nservices: {}\n", name, name)
	}
	return fmt.Sprintf("# service %s\nimage: \"\"\nport: 0\n", name)
}

func readMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.Validationf("read %s: %v", metadataFile, err)
	}
	var meta Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, errdefs.Validationf("parse %s: %v", metadataFile, err)
	}
	return &meta, nil
}

func validateMetadata(meta *Metadata) error {
	if meta.Name == "" {
		return errdefs.Validationf("plugin.yaml has no name")
	}
	if !nameRe.MatchString(meta.Name) {
		return errdefs.Validationf("invalid plugin name %q", meta.Name)
	}
	if !meta.Kind.Valid() {
		return errdefs.Validationf("plugin %q has unknown kind %q", meta.Name, meta.Kind)
	}
	return nil
}

// copyTree copies a plugin directory, files only. Plugins carry
// definitions, not executables, so permissions are normalized.
func copyTree(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return errdefs.WrapFilesystem("walk", path, err)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return errdefs.WrapFilesystem("resolve", path, err)
		}
		target := filepath.Join(dest, rel)

		if info.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errdefs.WrapFilesystem("mkdir", target, err)
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return errdefs.Validationf("plugin contains non-regular file %q", rel)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return errdefs.WrapFilesystem("read", path, err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return errdefs.WrapFilesystem("write", target, err)
		}
		return nil
	})
}
