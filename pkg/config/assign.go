package config

import (
	"github.com/devyard/vm/pkg/errdefs"
)

// servicePortPriority orders services for automatic port assignment. The
// first services listed claim the highest ports of the range; anything not
// listed follows in declaration order.
var servicePortPriority = []string{"postgresql", "redis", "mysql", "mongodb"}

// noPortServices never receive a host port: they either live on a unix
// socket or are not network services at all.
var noPortServices = map[string]bool{
	"docker": true,
	"audio":  true,
}

// EnsureServicePorts assigns host ports to enabled services that lack one,
// drawing the highest unused ports from ports.range and working downward.
// Disabled services holding an in-range port lose it (an auto-assigned port
// cannot be told apart from a manual one once written); manual ports outside
// the range are left alone through disable/enable cycles.
func EnsureServicePorts(cfg *VmConfig) error {
	rng := cfg.Ports.Range

	for _, name := range cfg.Services.Keys() {
		svc, _ := cfg.Services.Get(name)
		if svc.IsEnabled() || svc.Port == nil {
			continue
		}
		if rng != nil && *svc.Port >= int(rng.Start) && *svc.Port <= int(rng.End) {
			svc.Port = nil
		}
	}

	used := make(map[int]bool)
	for _, name := range cfg.Services.Keys() {
		if svc, _ := cfg.Services.Get(name); svc.Port != nil {
			used[*svc.Port] = true
		}
	}
	for _, name := range cfg.Ports.Services() {
		if p, ok := cfg.Ports.Get(name); ok {
			used[p] = true
		}
	}

	for _, name := range assignmentOrder(cfg) {
		svc, _ := cfg.Services.Get(name)
		if svc.Port != nil || noPortServices[name] {
			continue
		}
		if rng == nil {
			return errdefs.Validationf("service %q needs a port but ports.range is not set", name)
		}
		port, ok := highestFree(used, rng.Start, rng.End)
		if !ok {
			return errdefs.Validationf("ports.range %s exhausted while assigning a port to %q", rng, name)
		}
		svc.Port = &port
		used[port] = true
	}
	return nil
}

// assignmentOrder returns the enabled services, priority entries first, the
// rest in declaration order.
func assignmentOrder(cfg *VmConfig) []string {
	var order []string
	seen := make(map[string]bool)
	for _, name := range servicePortPriority {
		if svc, ok := cfg.Services.Get(name); ok && svc.IsEnabled() {
			order = append(order, name)
			seen[name] = true
		}
	}
	for _, name := range cfg.Services.Keys() {
		if seen[name] {
			continue
		}
		if svc, _ := cfg.Services.Get(name); svc.IsEnabled() {
			order = append(order, name)
		}
	}
	return order
}

func highestFree(used map[int]bool, start, end uint16) (int, bool) {
	for p := int(end); p >= int(start); p-- {
		if !used[p] {
			return p, true
		}
	}
	return 0, false
}
