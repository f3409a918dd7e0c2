package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/devyard/vm/pkg/errdefs"
)

// UserConfigName is the per-project config file discovered by walking
// upward from the working directory.
const UserConfigName = "vm.yaml"

// VmConfig is the merged workspace configuration produced by the pipeline:
// embedded defaults, then the detected preset, then the user's vm.yaml.
type VmConfig struct {
	Version  string `yaml:"version,omitempty"`
	Provider string `yaml:"provider,omitempty"`
	OS       string `yaml:"os,omitempty"`

	Project  ProjectConfig   `yaml:"project,omitempty"`
	VM       VMSettings      `yaml:"vm,omitempty"`
	Versions RuntimeVersions `yaml:"versions,omitempty"`

	Ports    PortsConfig `yaml:"ports,omitempty"`
	Services ServiceMap  `yaml:"services,omitempty"`

	AptPackages   []string `yaml:"apt_packages,omitempty"`
	NpmPackages   []string `yaml:"npm_packages,omitempty"`
	PipPackages   []string `yaml:"pip_packages,omitempty"`
	CargoPackages []string `yaml:"cargo_packages,omitempty"`

	Aliases     StringMap `yaml:"aliases,omitempty"`
	Environment StringMap `yaml:"environment,omitempty"`

	Terminal  TerminalConfig `yaml:"terminal,omitempty"`
	GitConfig GitConfig      `yaml:"git_config,omitempty"`

	PackageLinking   *bool `yaml:"package_linking,omitempty"`
	ClaudeSync       *bool `yaml:"claude_sync,omitempty"`
	GeminiSync       *bool `yaml:"gemini_sync,omitempty"`
	PersistDatabases *bool `yaml:"persist_databases,omitempty"`
}

// ProjectConfig identifies the project a workspace belongs to.
type ProjectConfig struct {
	Name            string `yaml:"name,omitempty"`
	Hostname        string `yaml:"hostname,omitempty"`
	WorkspacePath   string `yaml:"workspace_path,omitempty"`
	EnvTemplatePath string `yaml:"env_template_path,omitempty"`
}

// VMSettings shapes the dev box itself.
type VMSettings struct {
	Box         string `yaml:"box,omitempty"`
	User        string `yaml:"user,omitempty"`
	Memory      Limit  `yaml:"memory,omitempty"`
	CPUs        Limit  `yaml:"cpus,omitempty"`
	Swap        Limit  `yaml:"swap,omitempty"`
	Swappiness  *int   `yaml:"swappiness,omitempty"`
	Timezone    string `yaml:"timezone,omitempty"`
	PortBinding string `yaml:"port_binding,omitempty"`
	GUI         *bool  `yaml:"gui,omitempty"`
	Audio       *bool  `yaml:"audio,omitempty"`
}

// RuntimeVersions pins language runtimes installed into the workspace.
type RuntimeVersions struct {
	Node   Version `yaml:"node,omitempty"`
	NPM    Version `yaml:"npm,omitempty"`
	PNPM   Version `yaml:"pnpm,omitempty"`
	Python Version `yaml:"python,omitempty"`
	NVM    Version `yaml:"nvm,omitempty"`
}

// ServiceConfig declares one auxiliary service attached to a workspace.
// Port is the host port the service is published on; the container-side
// port comes from the service catalog.
type ServiceConfig struct {
	Enabled  *bool   `yaml:"enabled,omitempty"`
	Image    string  `yaml:"image,omitempty"`
	Version  Version `yaml:"version,omitempty"`
	Port     *int    `yaml:"port,omitempty"`
	Type     string  `yaml:"type,omitempty"`
	User     string  `yaml:"user,omitempty"`
	Password string  `yaml:"password,omitempty"`
}

// IsEnabled reports whether the service is explicitly enabled.
func (s *ServiceConfig) IsEnabled() bool {
	return s != nil && s.Enabled != nil && *s.Enabled
}

// TerminalConfig shapes the in-workspace shell experience.
type TerminalConfig struct {
	Shell         string `yaml:"shell,omitempty"`
	Theme         string `yaml:"theme,omitempty"`
	Emoji         *bool  `yaml:"emoji,omitempty"`
	Username      string `yaml:"username,omitempty"`
	Colors        *bool  `yaml:"colors,omitempty"`
	ShowGitBranch *bool  `yaml:"show_git_branch,omitempty"`
	ShowTimestamp *bool  `yaml:"show_timestamp,omitempty"`
}

// GitConfig carries the git identity baked into the workspace image.
type GitConfig struct {
	UserName  string `yaml:"user_name,omitempty"`
	UserEmail string `yaml:"user_email,omitempty"`
}

// knownKeys is the closed set of top-level vm.yaml keys. Anything else is
// rejected so typos fail loudly instead of being ignored.
var knownKeys = map[string]bool{
	"version": true, "provider": true, "os": true,
	"project": true, "vm": true, "versions": true,
	"ports": true, "services": true,
	"apt_packages": true, "npm_packages": true, "pip_packages": true, "cargo_packages": true,
	"aliases": true, "environment": true,
	"terminal": true, "git_config": true,
	"package_linking": true, "claude_sync": true, "gemini_sync": true, "persist_databases": true,
}

// Parse decodes a vm.yaml document, rejecting unknown top-level keys.
func Parse(data []byte) (*VmConfig, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errdefs.Validationf("invalid YAML: %v", err)
	}

	cfg := &VmConfig{}
	if len(doc.Content) == 0 {
		return cfg, nil
	}
	root := doc.Content[0]
	if root.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(root.Content); i += 2 {
			key := root.Content[i]
			if !knownKeys[key.Value] {
				return nil, errdefs.Validationf("unknown configuration key %q (line %d)", key.Value, key.Line)
			}
		}
	}
	if err := root.Decode(cfg); err != nil {
		return nil, errdefs.Validationf("invalid configuration: %v", err)
	}
	return cfg, nil
}

// LoadFile reads and parses a vm.yaml.
func LoadFile(path string) (*VmConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.WrapFilesystem("read", path, err)
	}
	return Parse(data)
}

// FindUserConfig walks upward from startDir looking for vm.yaml. The empty
// string means no config was found, which is not an error.
func FindUserConfig(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", errdefs.WrapFilesystem("resolve", startDir, err)
	}
	for {
		candidate := filepath.Join(dir, UserConfigName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// IsPartial reports whether the config still misses the fields that make
// it actionable: the provider tag and the project name.
func (c *VmConfig) IsPartial() bool {
	return c.Provider == "" || c.Project.Name == ""
}

// EnabledServices returns the names of enabled services in declaration
// order.
func (c *VmConfig) EnabledServices() []string {
	var out []string
	for _, name := range c.Services.Keys() {
		if svc, _ := c.Services.Get(name); svc.IsEnabled() {
			out = append(out, name)
		}
	}
	return out
}

// Marshal renders the config back to YAML, preserving mapping order.
func (c *VmConfig) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errdefs.Internalf("marshal config: %v", err)
	}
	return data, nil
}

// Clone returns a deep copy sharing no mutable state with the original.
func (c *VmConfig) Clone() *VmConfig {
	out := *c

	out.VM.Swappiness = clonePtr(c.VM.Swappiness)
	out.VM.GUI = clonePtr(c.VM.GUI)
	out.VM.Audio = clonePtr(c.VM.Audio)
	out.Terminal.Emoji = clonePtr(c.Terminal.Emoji)
	out.Terminal.Colors = clonePtr(c.Terminal.Colors)
	out.Terminal.ShowGitBranch = clonePtr(c.Terminal.ShowGitBranch)
	out.Terminal.ShowTimestamp = clonePtr(c.Terminal.ShowTimestamp)
	out.PackageLinking = clonePtr(c.PackageLinking)
	out.ClaudeSync = clonePtr(c.ClaudeSync)
	out.GeminiSync = clonePtr(c.GeminiSync)
	out.PersistDatabases = clonePtr(c.PersistDatabases)

	out.AptPackages = slices.Clone(c.AptPackages)
	out.NpmPackages = slices.Clone(c.NpmPackages)
	out.PipPackages = slices.Clone(c.PipPackages)
	out.CargoPackages = slices.Clone(c.CargoPackages)

	out.Aliases = c.Aliases.Clone()
	out.Environment = c.Environment.Clone()
	out.Ports = c.Ports.Clone()
	out.Services = cloneServices(c.Services)

	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneServices(m ServiceMap) ServiceMap {
	var out ServiceMap
	for _, name := range m.Keys() {
		svc, _ := m.Get(name)
		cp := *svc
		cp.Enabled = clonePtr(svc.Enabled)
		cp.Port = clonePtr(svc.Port)
		out.Set(name, &cp)
	}
	return out
}

// GlobalConfig holds machine-wide settings shared by every project, stored
// at <config>/vm/global.yaml.
type GlobalConfig struct {
	// PreserveServices keeps shared services running when the last
	// workspace using them is destroyed.
	PreserveServices bool            `yaml:"preserve_services,omitempty"`
	Registry         RegistryConfig  `yaml:"registry,omitempty"`
	AuthProxy        AuthProxyConfig `yaml:"auth_proxy,omitempty"`
}

// RegistryConfig controls the shared package registry service.
type RegistryConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
	Port    int  `yaml:"port,omitempty"`
}

// AuthProxyConfig controls the shared auth proxy service.
type AuthProxyConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
	Port    int  `yaml:"port,omitempty"`
}

// DefaultGlobal returns the global config used when no file exists.
func DefaultGlobal() *GlobalConfig {
	return &GlobalConfig{
		Registry:  RegistryConfig{Port: 3080},
		AuthProxy: AuthProxyConfig{Port: 3081},
	}
}

// LoadGlobal reads the global config, returning defaults when the file is
// absent. Zero ports are backfilled with defaults after unmarshal.
func LoadGlobal(path string) (*GlobalConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultGlobal(), nil
	}
	if err != nil {
		return nil, errdefs.WrapFilesystem("read", path, err)
	}

	cfg := &GlobalConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errdefs.Validationf("invalid global config: %v", err)
	}
	if cfg.Registry.Port == 0 {
		cfg.Registry.Port = 3080
	}
	if cfg.AuthProxy.Port == 0 {
		cfg.AuthProxy.Port = 3081
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveGlobal writes the global config, creating parent directories.
func SaveGlobal(path string, cfg *GlobalConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errdefs.Internalf("marshal global config: %v", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errdefs.WrapFilesystem("mkdir", dir, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errdefs.WrapFilesystem("write", path, err)
	}
	return nil
}

func (g *GlobalConfig) validate() error {
	if g.Registry.Port < 1 || g.Registry.Port > 65535 {
		return errdefs.Validationf("registry.port: %d out of range 1-65535", g.Registry.Port)
	}
	if g.AuthProxy.Port < 1 || g.AuthProxy.Port > 65535 {
		return errdefs.Validationf("auth_proxy.port: %d out of range 1-65535", g.AuthProxy.Port)
	}
	return nil
}
