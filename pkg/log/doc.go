/*
Package log provides structured logging for the orchestrator using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init() or log.InitAuto()
  - Thread-safe concurrent writes

Log Levels:
  - Debug: detailed debugging information
  - Info: general informational messages (production default)
  - Warn: potential issues
  - Error: operation failures
  - Fatal: unrecoverable errors (process exits)

Context Loggers:
  - WithComponent: provisioner, api, services, snapshot, provider.docker, ...
  - WithWorkspace: workspace name context
  - WithProvider: backend kind context
  - WithService: shared-service name context

# Usage

Initializing:

	// JSON output (serve mode, piped)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stderr,
	})

	// Pick format from the terminal automatically (CLI)
	log.InitAuto(log.InfoLevel, os.Stderr)

Component loggers:

	provLog := log.WithComponent("provisioner")
	provLog.Info().Str("workspace", ws.Name).Msg("provisioning started")

	wsLog := log.WithWorkspace("api-server")
	wsLog.Error().Err(err).Msg("readiness probe timed out")

Structured fields:

	log.Logger.Info().
		Str("provider", "container-a").
		Int("port_start", 3100).
		Msg("port range registered")

# Output Examples

JSON:

	{"level":"info","component":"provisioner","workspace":"api-server","time":"2026-03-02T10:30:00Z","message":"workspace running"}

Console:

	10:30:00 INF workspace running component=provisioner workspace=api-server

# Best Practices

Do:
  - Use Info level in production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err()

Don't:
  - Log service passwords or auth headers
  - Use Debug level in production
  - Concatenate user input into messages (use .Str)
*/
package log
