package ports

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/devyard/vm/pkg/errdefs"
)

// Range is an inclusive span of TCP ports reserved for one project.
type Range struct {
	Start uint16
	End   uint16
}

// ParseRange parses a "START-END" spec, requiring 0 < START <= END < 65536.
func ParseRange(spec string) (Range, error) {
	parts := strings.SplitN(strings.TrimSpace(spec), "-", 2)
	if len(parts) != 2 {
		return Range{}, errdefs.Validationf("invalid port range %q: want START-END", spec)
	}
	start, err := parsePort(parts[0])
	if err != nil {
		return Range{}, err
	}
	end, err := parsePort(parts[1])
	if err != nil {
		return Range{}, err
	}
	if start > end {
		return Range{}, errdefs.Validationf("invalid port range %q: start above end", spec)
	}
	return Range{Start: start, End: end}, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, errdefs.Validationf("invalid port %q: must be between 1 and 65535", strings.TrimSpace(s))
	}
	if n == 0 {
		return 0, errdefs.Validationf("invalid port 0: must be between 1 and 65535")
	}
	return uint16(n), nil
}

// String formats the range as "START-END".
func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Size returns the number of ports in the range.
func (r Range) Size() int {
	return int(r.End) - int(r.Start) + 1
}

// Contains reports whether p falls inside the range.
func (r Range) Contains(p uint16) bool {
	return p >= r.Start && p <= r.End
}

// Overlaps reports whether the two ranges share any port.
func (r Range) Overlaps(o Range) bool {
	return r.Start <= o.End && o.Start <= r.End
}
