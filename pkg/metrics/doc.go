/*
Package metrics exposes Prometheus instrumentation and process health for
the orchestrator daemon.

Metric vectors are package-level and registered in init, so any package can
record observations without wiring:

	timer := metrics.NewTimer()
	// ... provision the workspace ...
	timer.ObserveDuration(metrics.ProvisionDuration)

The Collector polls a caller-supplied Source on an interval and publishes
state gauges (workspace counts by status, running shared services,
per-service reference counts). The serve command wires a Source that reads
the workspace store and the service manager, then mounts Handler() at
/metrics.

Process health lives beside the metrics: subsystems call RegisterComponent
as they come up, the API's /healthz folds GetHealth into its answer, and
ReadyHandler serves /readyz, answering 503 until the critical components
(store, provisioner, api) have all registered healthy.
*/
package metrics
