/*
Package compose synthesizes the docker build context for a workspace: a
Dockerfile and compose.yaml rendered from embedded templates, plus the
provisioning playbook and shell rc template the container consumes.

Both container backends drive the same rendered compose file, so the
output never depends on which CLI brings it up. Synthesize writes a fresh
temp directory under the cache dir per call:

	ctx, err := compose.Synthesize(compose.Input{
		Config:     cfg,
		ProjectDir: projectDir,
		Registry:   &compose.RegistryBinding{Host: platform.DockerBridgeHost(), Port: 3080},
	})
	defer ctx.Remove()

When a registry binding is present the dev service environment gains the
package-manager variables (npm, pip, cargo) pointing at the shared
registry. Port bindings honor vm.port_binding and default to loopback so
workspace ports are not exposed on the LAN.
*/
package compose
