package compose

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/devyard/vm/pkg/config"
	"github.com/devyard/vm/pkg/errdefs"
)

//go:embed templates/*
var templates embed.FS

// DefaultInstance is the instance name used when none is given.
const DefaultInstance = "dev"

// defaultBaseImage is used when vm.box is not set.
const defaultBaseImage = "ubuntu:24.04"

// Input carries everything the renderers need to produce a build context
// for one workspace instance.
type Input struct {
	// Config is the merged workspace configuration.
	Config *config.VmConfig

	// Instance distinguishes multiple workspaces of the same project.
	// Empty means DefaultInstance.
	Instance string

	// ProjectDir is the host directory mounted at the workspace path.
	ProjectDir string

	// UID and GID own the workspace user inside the container. Zero
	// values fall back to 1000.
	UID int
	GID int

	// Registry, when non-nil, injects the package-registry environment
	// into the dev container.
	Registry *RegistryBinding
}

// RegistryBinding locates the shared package registry from inside a
// container.
type RegistryBinding struct {
	Host string
	Port int
}

// persistableServices are the catalog services whose data survives a
// workspace rebuild when persist_databases is on.
var persistableServices = []string{"postgresql", "redis", "mysql", "mongodb"}

// ServiceName returns the compose service and container name for an
// instance: "<project>-<instance>".
func ServiceName(cfg *config.VmConfig, instance string) string {
	if instance == "" {
		instance = DefaultInstance
	}
	return fmt.Sprintf("%s-%s", cfg.Project.Name, instance)
}

// RegistryEnv returns the environment entries that point package managers
// inside the container at the shared registry.
func RegistryEnv(host string, port int) []string {
	base := fmt.Sprintf("http://%s:%d", host, port)
	return []string{
		fmt.Sprintf("NPM_CONFIG_REGISTRY=%s/npm/", base),
		fmt.Sprintf("PIP_INDEX_URL=%s/pypi/simple/", base),
		"PIP_EXTRA_INDEX_URL=https://pypi.org/simple/",
		fmt.Sprintf("PIP_TRUSTED_HOST=%s", host),
		fmt.Sprintf("VM_CARGO_REGISTRY_HOST=%s", host),
		fmt.Sprintf("VM_CARGO_REGISTRY_PORT=%d", port),
	}
}

type dockerfileData struct {
	BaseImage     string
	User          string
	UID           int
	GID           int
	Timezone      string
	GitName       string
	GitEmail      string
	WorkspacePath string
	NodeVersion   string
	PythonVersion string
	AptPackages   string
	NpmPackages   string
	PipPackages   string
	CargoPackages string
}

type composeData struct {
	ServiceName   string
	ProjectName   string
	Instance      string
	Hostname      string
	BindInterface string
	ProjectDir    string
	WorkspacePath string
	Ports         []int
	Environment   []string
	NamedVolumes  []string
}

// RenderDockerfile renders the workspace Dockerfile.
func RenderDockerfile(in Input) (string, error) {
	cfg := in.Config

	data := dockerfileData{
		BaseImage:     cfg.VM.Box,
		User:          cfg.VM.User,
		UID:           in.UID,
		GID:           in.GID,
		Timezone:      cfg.VM.Timezone,
		GitName:       cfg.GitConfig.UserName,
		GitEmail:      cfg.GitConfig.UserEmail,
		WorkspacePath: workspacePath(cfg),
		NodeVersion:   cfg.Versions.Node.String(),
		PythonVersion: cfg.Versions.Python.String(),
		AptPackages:   strings.Join(cfg.AptPackages, " "),
		NpmPackages:   strings.Join(cfg.NpmPackages, " "),
		PipPackages:   strings.Join(cfg.PipPackages, " "),
		CargoPackages: strings.Join(cfg.CargoPackages, " "),
	}
	if data.BaseImage == "" {
		data.BaseImage = defaultBaseImage
	}
	if data.User == "" {
		data.User = "developer"
	}
	if data.UID == 0 {
		data.UID = 1000
	}
	if data.GID == 0 {
		data.GID = 1000
	}
	if data.Timezone == "" {
		data.Timezone = "UTC"
	}

	return render("Dockerfile.tmpl", data)
}

// RenderCompose renders the compose.yaml driving the dev container.
func RenderCompose(in Input) (string, error) {
	cfg := in.Config

	instance := in.Instance
	if instance == "" {
		instance = DefaultInstance
	}

	data := composeData{
		ServiceName:   ServiceName(cfg, in.Instance),
		ProjectName:   cfg.Project.Name,
		Instance:      instance,
		Hostname:      cfg.Project.Hostname,
		BindInterface: cfg.VM.PortBinding,
		ProjectDir:    in.ProjectDir,
		WorkspacePath: workspacePath(cfg),
	}
	if data.Hostname == "" {
		data.Hostname = cfg.Project.Name
	}
	if data.BindInterface == "" {
		data.BindInterface = "127.0.0.1"
	}

	for _, service := range cfg.Ports.Services() {
		port, _ := cfg.Ports.Get(service)
		data.Ports = append(data.Ports, port)
	}
	for _, name := range cfg.Services.Keys() {
		svc, _ := cfg.Services.Get(name)
		if svc.IsEnabled() && svc.Port != nil {
			data.Ports = append(data.Ports, *svc.Port)
		}
	}

	for _, key := range cfg.Environment.Keys() {
		value, _ := cfg.Environment.Get(key)
		data.Environment = append(data.Environment, fmt.Sprintf("%s=%s", key, value))
	}
	if in.Registry != nil {
		data.Environment = append(data.Environment, RegistryEnv(in.Registry.Host, in.Registry.Port)...)
	}

	if cfg.PersistDatabases != nil && *cfg.PersistDatabases {
		for _, name := range persistableServices {
			if svc, ok := cfg.Services.Get(name); ok && svc.IsEnabled() {
				data.NamedVolumes = append(data.NamedVolumes, volumeName(cfg.Project.Name, name))
			}
		}
	}

	return render("compose.yaml.tmpl", data)
}

// VolumeNames returns the named volumes the instance would persist, in
// catalog order. Snapshot export walks this list.
func VolumeNames(cfg *config.VmConfig) []string {
	if cfg.PersistDatabases == nil || !*cfg.PersistDatabases {
		return nil
	}
	var out []string
	for _, name := range persistableServices {
		if svc, ok := cfg.Services.Get(name); ok && svc.IsEnabled() {
			out = append(out, volumeName(cfg.Project.Name, name))
		}
	}
	return out
}

func volumeName(project, service string) string {
	return fmt.Sprintf("vm-%s-%s-data", project, service)
}

func workspacePath(cfg *config.VmConfig) string {
	if cfg.Project.WorkspacePath != "" {
		return cfg.Project.WorkspacePath
	}
	return "/workspace"
}

func render(name string, data interface{}) (string, error) {
	raw, err := templates.ReadFile("templates/" + name)
	if err != nil {
		return "", errdefs.Internalf("read template %s: %v", name, err)
	}

	tmpl, err := template.New(name).Parse(string(raw))
	if err != nil {
		return "", errdefs.Internalf("parse template %s: %v", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errdefs.Internalf("execute template %s: %v", name, err)
	}
	return buf.String(), nil
}
