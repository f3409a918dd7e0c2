package lima

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/lima-vm/lima/pkg/limayaml"

	"github.com/devyard/vm/pkg/config"
	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/platform"
)

// Guest image locations, matching the ubuntu release the container
// backends default to.
const (
	imageAMD64 = "https://cloud-images.ubuntu.com/releases/noble/release/ubuntu-24.04-server-cloudimg-amd64.img"
	imageARM64 = "https://cloud-images.ubuntu.com/releases/noble/release/ubuntu-24.04-server-cloudimg-arm64.img"
)

// Defaults applied when vm.cpus / vm.memory are unset or unlimited.
const (
	defaultCPUs   = 2
	defaultMemory = "4GiB"
	defaultDisk   = "100GiB"
)

// writeInstanceConfig renders the lima instance definition for this
// project into the cache dir and returns its path.
func (b *Backend) writeInstanceConfig() (string, error) {
	def, err := buildDefinition(b.cfg, b.projectDir)
	if err != nil {
		return "", err
	}

	data, err := limayaml.Marshal(&def, false)
	if err != nil {
		return "", errdefs.Internalf("marshal instance definition: %v", err)
	}

	dir := filepath.Join(platform.CacheDir(), "lima-"+b.cfg.Project.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errdefs.WrapFilesystem("mkdir", dir, err)
	}
	path := filepath.Join(dir, "lima.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errdefs.WrapFilesystem("write", path, err)
	}
	return path, nil
}

// buildDefinition translates the workspace config into a lima instance
// definition: sized VM, project mount, forwarded ports, and provision
// scripts installing the configured packages.
func buildDefinition(cfg *config.VmConfig, projectDir string) (limayaml.LimaYAML, error) {
	arch := limayaml.AARCH64
	if runtime.GOARCH == "amd64" {
		arch = limayaml.X8664
	}

	cpus, err := resolveCPUs(cfg)
	if err != nil {
		return limayaml.LimaYAML{}, err
	}
	memory, err := resolveMemory(cfg)
	if err != nil {
		return limayaml.LimaYAML{}, err
	}
	disk := defaultDisk

	def := limayaml.LimaYAML{
		Arch:   &arch,
		CPUs:   &cpus,
		Memory: &memory,
		Disk:   &disk,

		Images: []limayaml.Image{
			{File: limayaml.File{Location: imageAMD64, Arch: limayaml.X8664}},
			{File: limayaml.File{Location: imageARM64, Arch: limayaml.AARCH64}},
		},

		Mounts: []limayaml.Mount{
			{Location: projectDir, Writable: ptr(true)},
		},

		PortForwards: forwardedPorts(cfg),

		Provision: provisionScripts(cfg),

		Message: fmt.Sprintf("workspace %s is ready; connect with `vm ssh`", cfg.Project.Name),
	}
	return def, nil
}

func resolveCPUs(cfg *config.VmConfig) (int, error) {
	raw := string(cfg.VM.CPUs)
	if raw == "" {
		return defaultCPUs, nil
	}
	limit, err := config.ParseCPUs(raw)
	if err != nil {
		return 0, err
	}
	cpus := limit.Resolve(platform.CPUCount())
	if cpus == 0 {
		cpus = platform.CPUCount()
	}
	return cpus, nil
}

func resolveMemory(cfg *config.VmConfig) (string, error) {
	raw := string(cfg.VM.Memory)
	if raw == "" {
		return defaultMemory, nil
	}
	limit, err := config.ParseMemory(raw)
	if err != nil {
		return "", err
	}
	mb := limit.ResolveMB(platform.TotalMemory())
	if mb == 0 {
		return defaultMemory, nil
	}
	return fmt.Sprintf("%dMiB", mb), nil
}

// forwardedPorts maps the explicit port list plus enabled service ports to
// loopback forwards, mirroring the compose backends' default binding.
func forwardedPorts(cfg *config.VmConfig) []limayaml.PortForward {
	var forwards []limayaml.PortForward
	add := func(port int) {
		forwards = append(forwards, limayaml.PortForward{
			GuestPort: port,
			HostPort:  port,
		})
	}
	for _, service := range cfg.Ports.Services() {
		port, _ := cfg.Ports.Get(service)
		add(port)
	}
	for _, name := range cfg.Services.Keys() {
		svc, _ := cfg.Services.Get(name)
		if svc.IsEnabled() && svc.Port != nil {
			add(*svc.Port)
		}
	}
	return forwards
}

// provisionScripts installs the configured packages: apt as root, language
// package managers as the login user.
func provisionScripts(cfg *config.VmConfig) []limayaml.Provision {
	var scripts []limayaml.Provision

	var system strings.Builder
	system.WriteString("#!/bin/sh\nset -eux\n")
	system.WriteString("export DEBIAN_FRONTEND=noninteractive\n")
	system.WriteString("apt-get update\n")
	system.WriteString("apt-get install -y git curl build-essential")
	if len(cfg.NpmPackages) > 0 {
		system.WriteString(" nodejs npm")
	}
	if len(cfg.PipPackages) > 0 {
		system.WriteString(" python3-pip")
	}
	if len(cfg.CargoPackages) > 0 {
		system.WriteString(" cargo")
	}
	for _, pkg := range cfg.AptPackages {
		system.WriteString(" " + pkg)
	}
	system.WriteString("\n")
	scripts = append(scripts, limayaml.Provision{
		Mode:   limayaml.ProvisionModeSystem,
		Script: system.String(),
	})

	user := userScript(cfg)
	if user != "" {
		scripts = append(scripts, limayaml.Provision{
			Mode:   limayaml.ProvisionModeUser,
			Script: user,
		})
	}
	return scripts
}

func userScript(cfg *config.VmConfig) string {
	var lines []string
	if len(cfg.NpmPackages) > 0 {
		lines = append(lines, "sudo npm install -g "+strings.Join(cfg.NpmPackages, " "))
	}
	if len(cfg.PipPackages) > 0 {
		lines = append(lines, "pip3 install --user "+strings.Join(cfg.PipPackages, " "))
	}
	if len(cfg.CargoPackages) > 0 {
		lines = append(lines, "cargo install "+strings.Join(cfg.CargoPackages, " "))
	}
	if len(lines) == 0 {
		return ""
	}
	return "#!/bin/sh\nset -eux\n" + strings.Join(lines, "\n") + "\n"
}

func ptr[T any](v T) *T { return &v }
