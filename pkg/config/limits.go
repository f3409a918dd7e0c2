package config

import (
	"math"
	"strconv"
	"strings"

	"github.com/devyard/vm/pkg/errdefs"
)

// MemoryLimit is a parsed memory setting. Exactly one of MB, Percent, or
// Unlimited describes it; percentages resolve against host memory at
// provision time.
type MemoryLimit struct {
	MB        int
	Percent   int
	Unlimited bool
}

// ResolveMB returns the concrete megabyte value given total host memory.
// Unlimited resolves to 0, meaning no limit is applied.
func (m MemoryLimit) ResolveMB(hostTotalBytes uint64) int {
	switch {
	case m.Unlimited:
		return 0
	case m.Percent > 0:
		return int(hostTotalBytes / (1024 * 1024) * uint64(m.Percent) / 100)
	default:
		return m.MB
	}
}

// ParseMemory parses the memory limit grammar: a raw integer (megabytes),
// a decimal quantity with a kb/mb/gb suffix (case-insensitive), a
// percentage from 1 to 100, or the literal "unlimited".
func ParseMemory(s string) (MemoryLimit, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return MemoryLimit{}, errdefs.Validationf("empty memory limit")
	}
	if v == "unlimited" {
		return MemoryLimit{Unlimited: true}, nil
	}

	if strings.HasSuffix(v, "%") {
		pct, err := strconv.Atoi(strings.TrimSuffix(v, "%"))
		if err != nil {
			return MemoryLimit{}, errdefs.Validationf("invalid memory percentage %q", s)
		}
		if pct < 1 || pct > 100 {
			return MemoryLimit{}, errdefs.Validationf("memory percentage %d%% out of range 1-100", pct)
		}
		return MemoryLimit{Percent: pct}, nil
	}

	units := []struct {
		suffix string
		toMB   float64
	}{
		{"kb", 1.0 / 1024},
		{"mb", 1},
		{"gb", 1024},
	}
	for _, u := range units {
		if !strings.HasSuffix(v, u.suffix) {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSuffix(v, u.suffix), 64)
		if err != nil || f < 0 {
			return MemoryLimit{}, errdefs.Validationf("invalid memory quantity %q", s)
		}
		return MemoryLimit{MB: int(math.Round(f * u.toMB))}, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return MemoryLimit{}, errdefs.Validationf("invalid memory limit %q: want megabytes, N(kb|mb|gb), N%%, or unlimited", s)
	}
	if n < 0 {
		return MemoryLimit{}, errdefs.Validationf("memory limit must not be negative, got %d", n)
	}
	return MemoryLimit{MB: n}, nil
}

// CPULimit is a parsed CPU setting: a core count, a percentage of host
// cores, or unlimited.
type CPULimit struct {
	Count     int
	Percent   int
	Unlimited bool
}

// Resolve returns the concrete core count given the host's cores.
// Unlimited resolves to 0, meaning no limit is applied; percentages round
// up so a small percentage still gets one core.
func (c CPULimit) Resolve(hostCores int) int {
	switch {
	case c.Unlimited:
		return 0
	case c.Percent > 0:
		cores := (hostCores*c.Percent + 99) / 100
		if cores < 1 {
			cores = 1
		}
		return cores
	default:
		return c.Count
	}
}

// ParseCPUs parses the CPU limit grammar: a raw integer (core count), a
// percentage from 1 to 100, or the literal "unlimited".
func ParseCPUs(s string) (CPULimit, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return CPULimit{}, errdefs.Validationf("empty cpu limit")
	}
	if v == "unlimited" {
		return CPULimit{Unlimited: true}, nil
	}

	if strings.HasSuffix(v, "%") {
		pct, err := strconv.Atoi(strings.TrimSuffix(v, "%"))
		if err != nil {
			return CPULimit{}, errdefs.Validationf("invalid cpu percentage %q", s)
		}
		if pct < 1 || pct > 100 {
			return CPULimit{}, errdefs.Validationf("cpu percentage %d%% out of range 1-100", pct)
		}
		return CPULimit{Percent: pct}, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return CPULimit{}, errdefs.Validationf("invalid cpu limit %q: want a core count, N%%, or unlimited", s)
	}
	if n < 1 {
		return CPULimit{}, errdefs.Validationf("cpu count must be at least 1, got %d", n)
	}
	return CPULimit{Count: n}, nil
}
