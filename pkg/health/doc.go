/*
Package health implements the probe primitives the shared-service manager
uses to decide when a service container is ready.

Three checker types cover the service catalog: TCPChecker for databases
(postgres, redis, mysql, mongodb accept connections before they log
readiness), HTTPChecker for services with a /health endpoint (package
registry, auth proxy), and ExecChecker for the docker-in-docker engine
where only `docker info` proves the daemon is up.

	checker := health.NewTCPChecker("127.0.0.1:5432").WithTimeout(2 * time.Second)
	result := checker.Check(ctx)

Each Check is a single probe; callers that need to wait poll the checker
and decide their own retry policy, the way `vm wait --service` does.
*/
package health
