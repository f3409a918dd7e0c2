package platform

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"github.com/pbnjay/memory"

	"github.com/devyard/vm/pkg/errdefs"
)

// Minimum host resources for running workspaces.
const (
	MinCPUs     = 2
	MinMemoryGB = 4
)

// CPUCount returns the number of logical CPUs available to the process.
func CPUCount() int {
	return runtime.NumCPU()
}

// TotalMemory returns physical memory in bytes, reading /proc/meminfo on
// Linux and falling back to a system-info probe elsewhere.
func TotalMemory() uint64 {
	if runtime.GOOS == "linux" {
		if total, ok := readMemInfoTotal("/proc/meminfo"); ok {
			return total
		}
	}
	return memory.TotalMemory()
}

// readMemInfoTotal parses the MemTotal line of a /proc/meminfo style file.
// The value is reported in kB.
func readMemInfoTotal(path string) (uint64, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}

// CheckResources verifies the host has enough CPU and memory to run
// workspaces.
func CheckResources() error {
	return checkResources(CPUCount(), TotalMemory())
}

func checkResources(cpus int, totalBytes uint64) error {
	if cpus < MinCPUs {
		return errdefs.Dependencyf("host has %d CPUs; at least %d required", cpus, MinCPUs)
	}
	minBytes := uint64(MinMemoryGB) * units.GiB
	if totalBytes > 0 && totalBytes < minBytes {
		return errdefs.Dependencyf("host has %s of memory; at least %dGiB required",
			units.BytesSize(float64(totalBytes)), MinMemoryGB)
	}
	return nil
}
