/*
Package ports reserves per-project TCP port ranges across every project on
the machine.

Each project claims an inclusive range like 3100-3109. Reservations live in
a single JSON registry file keyed by project name:

	{
	  "api-server": {"range": "3100-3109", "path": "/home/dev/api-server"},
	  "frontend":   {"range": "3110-3119", "path": "/home/dev/frontend"}
	}

Two ranges [a,b] and [c,d] conflict when a <= d and c <= b. Conflict checks
scan projects in name order so the reported overlap is deterministic.

	reg, err := ports.Load(platform.PortRegistryPath())
	if desc, conflict := reg.CheckConflicts(candidate, "api-server"); conflict {
		return errdefs.Validationf("port range unavailable: %s", desc)
	}

SuggestNextRange walks upward in strides of the requested size and returns
the first free range, which keeps suggestions stable as projects come and
go:

	spec, ok := reg.SuggestNextRange(10, 3000) // "3000-3009" on a fresh machine

Writers persist with a temp file + atomic rename. Concurrent processes
serialize on the rename; the last writer wins and readers never observe a
half-written file. A missing registry file reads as empty, but a malformed
one is an error so reservations are never silently dropped.
*/
package ports
