package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/devyard/vm/pkg/errdefs"
)

// Report collects validation findings. Errors abort the operation;
// warnings and info lines are surfaced but do not.
type Report struct {
	Errors   []string
	Warnings []string
	Info     []string
}

// OK reports whether the config passed validation.
func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

// Err converts a failed report into a single validation error, nil when the
// report is clean.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return errdefs.Validationf("invalid configuration: %s", strings.Join(r.Errors, "; "))
}

func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Report) infof(format string, args ...any) {
	r.Info = append(r.Info, fmt.Sprintf(format, args...))
}

// RFC 1123 label: alphanumeric with interior hyphens, max 63 per label.
var hostnameLabel = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// shellMeta are the characters in names that would need quoting once the
// name reaches a shell or a compose file.
const shellMeta = "$`\"'\\;&|<>(){}[]*?~#! \t\n"

// Validate checks the merged config. Unknown top-level keys are already
// rejected at parse time; this pass covers value-level rules.
func Validate(cfg *VmConfig) *Report {
	r := &Report{}

	if cfg.Provider == "" {
		r.warnf("provider is not set; the config is partial")
	}
	if cfg.Project.Name == "" {
		r.warnf("project.name is not set; the config is partial")
	} else if strings.ContainsAny(cfg.Project.Name, shellMeta) {
		r.errorf("project.name %q contains shell metacharacters", cfg.Project.Name)
	}

	if h := cfg.Project.Hostname; h != "" {
		if len(h) > 253 {
			r.errorf("project.hostname exceeds 253 characters")
		}
		for _, label := range strings.Split(h, ".") {
			if !hostnameLabel.MatchString(label) {
				r.errorf("project.hostname %q is not a valid hostname", h)
				break
			}
		}
	}

	if p := cfg.Project.WorkspacePath; p != "" && !strings.HasPrefix(p, "/") {
		r.errorf("project.workspace_path %q must be absolute", p)
	}

	if cfg.VM.Memory != "" {
		if _, err := ParseMemory(cfg.VM.Memory.String()); err != nil {
			r.errorf("vm.memory: %v", err)
		}
	}
	if cfg.VM.Swap != "" {
		if _, err := ParseMemory(cfg.VM.Swap.String()); err != nil {
			r.errorf("vm.swap: %v", err)
		}
	}
	if cfg.VM.CPUs != "" {
		if _, err := ParseCPUs(cfg.VM.CPUs.String()); err != nil {
			r.errorf("vm.cpus: %v", err)
		}
	}
	if s := cfg.VM.Swappiness; s != nil && (*s < 0 || *s > 100) {
		r.errorf("vm.swappiness %d out of range 0-100", *s)
	}

	validatePorts(cfg, r)
	validateServices(cfg, r)

	if len(cfg.Services.Keys()) > 0 && cfg.Ports.Range == nil {
		r.infof("ports.range is not set; service ports must be assigned manually")
	}
	return r
}

func validatePorts(cfg *VmConfig, r *Report) {
	if rng := cfg.Ports.Range; rng != nil {
		if rng.Start > rng.End {
			r.errorf("ports.range: start %d after end %d", rng.Start, rng.End)
		}
		if rng.Start < 1024 {
			r.warnf("ports.range starts below 1024; privileged ports need elevated permissions")
		}
	}
	for _, name := range cfg.Ports.Services() {
		port, _ := cfg.Ports.Get(name)
		checkPort(r, "ports."+name, port)
	}
}

func validateServices(cfg *VmConfig, r *Report) {
	rng := cfg.Ports.Range
	for _, name := range cfg.Services.Keys() {
		svc, _ := cfg.Services.Get(name)
		if strings.ContainsAny(name, shellMeta) {
			r.errorf("services.%s: name contains shell metacharacters", name)
			continue
		}
		if svc.Port != nil {
			checkPort(r, "services."+name+".port", *svc.Port)
			if svc.IsEnabled() && rng != nil && (*svc.Port < int(rng.Start) || *svc.Port > int(rng.End)) {
				r.infof("services.%s.port %d lies outside ports.range %s", name, *svc.Port, rng)
			}
		}
		if svc.IsEnabled() && svc.Port == nil && !noPortServices[name] {
			r.warnf("services.%s is enabled but has no port", name)
		}
	}
}

// checkPort flags ports outside [1024, 65535]. User-supplied ports below
// 1024 are rejected rather than warned: binding them would fail anyway.
func checkPort(r *Report, field string, port int) {
	switch {
	case port < 1 || port > 65535:
		r.errorf("%s: port %d out of range 1-65535", field, port)
	case port < 1024:
		r.errorf("%s: port %d is privileged; use 1024 or above", field, port)
	}
}
