package services

import (
	"github.com/devyard/vm/pkg/health"
)

// Definition describes one shared service in the catalog.
type Definition struct {
	Name string

	// Image is the container image; empty means the service is not
	// containerized (the engine itself).
	Image string

	// Port is the service's container port and default host port.
	Port int

	// Health selects the probe: TCP dial, HTTP /health, or a host exec.
	Health health.CheckType

	// PasswordEnv, when set, names the env var carrying the generated
	// password into the container.
	PasswordEnv string

	// ExtraEnv is appended to the container environment verbatim.
	ExtraEnv []string

	// PasswordArgs, when true, passes the password on the service command
	// line instead of the environment (redis).
	PasswordArgs bool
}

// EngineService is the catalog entry for the container engine itself. It
// has no container of its own; health is `docker info`.
const EngineService = "docker"

// catalog is the closed set of shared services, in start order.
var catalog = []Definition{
	{
		Name:        "postgresql",
		Image:       "postgres:15",
		Port:        5432,
		Health:      health.CheckTypeTCP,
		PasswordEnv: "POSTGRES_PASSWORD",
	},
	{
		Name:         "redis",
		Image:        "redis:7",
		Port:         6379,
		Health:       health.CheckTypeTCP,
		PasswordArgs: true,
	},
	{
		Name:        "mysql",
		Image:       "mysql:8",
		Port:        3306,
		Health:      health.CheckTypeTCP,
		PasswordEnv: "MYSQL_ROOT_PASSWORD",
	},
	{
		Name:        "mongodb",
		Image:       "mongo:7",
		Port:        27017,
		Health:      health.CheckTypeTCP,
		PasswordEnv: "MONGO_INITDB_ROOT_PASSWORD",
		ExtraEnv:    []string{"MONGO_INITDB_ROOT_USERNAME=root"},
	},
	{
		Name:   "registry",
		Image:  "ghcr.io/devyard/registry:latest",
		Port:   3080,
		Health: health.CheckTypeHTTP,
	},
	{
		Name:   "authproxy",
		Image:  "ghcr.io/devyard/authproxy:latest",
		Port:   3081,
		Health: health.CheckTypeHTTP,
	},
	{
		Name:   EngineService,
		Health: health.CheckTypeExec,
	},
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (Definition, bool) {
	for _, def := range catalog {
		if def.Name == name {
			return def, true
		}
	}
	return Definition{}, false
}

// Names returns the catalog service names in start order.
func Names() []string {
	out := make([]string, len(catalog))
	for i, def := range catalog {
		out[i] = def.Name
	}
	return out
}

// ContainerName is the singleton container for a shared service.
func ContainerName(service string) string {
	return "vm-" + service + "-global"
}
