/*
Package config assembles the merged workspace configuration.

A pipeline run layers three sources, later layers winning:

 1. embedded defaults (resources/defaults.yaml)
 2. the preset detected from the project directory (or forced by the user),
    with ${port.N} placeholders substituted against the project's allocated
    port range before parsing
 3. the project's vm.yaml, found by walking upward from the working
    directory

Scalars and struct fields follow overlay-wins merge semantics; package
lists are replaced wholesale; the ordered mappings (ports, services,
aliases, environment) merge key-wise and preserve the order keys were first
seen, so a config survives YAML round trips without reshuffling.

After merging, EnsureServicePorts hands out host ports to enabled services
from the top of ports.range downward (postgresql first, then redis, mysql,
mongodb, then everything else in declaration order), and Validate produces
a Report whose errors abort the load.

	res, err := config.Load(config.LoadOptions{
		ProjectDir: ".",
		PluginsDir: platform.PluginsDir(),
		Range:      &ports.Range{Start: 3100, End: 3109},
	})

Unknown top-level keys in vm.yaml are rejected at parse time so typos fail
loudly. A config without a provider or a project name is partial and can be
inspected but not provisioned.
*/
package config
