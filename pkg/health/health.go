package health

import (
	"context"
	"time"
)

// CheckType selects how a service is probed.
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
	CheckTypeExec CheckType = "exec"
)

// Result is one probe outcome. Message carries the failure detail (or a
// short success note) for wait loops and status output.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes one service endpoint. Implementations are cheap to build;
// the service manager constructs one per probe from its catalog.
type Checker interface {
	Check(ctx context.Context) Result

	Type() CheckType
}
