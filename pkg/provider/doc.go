/*
Package provider defines the backend contract for workspace engines and
the factory that selects one.

Three backends ship in this tree: container-a (docker CLI + compose),
container-b (nerdctl + containerd client), and native-vm (lima). Backend
packages register themselves from init, so a binary opts in by importing
the ones it wants:

	import (
		_ "github.com/devyard/vm/pkg/provider/docker"
		_ "github.com/devyard/vm/pkg/provider/nerdctl"
	)

	p, err := provider.New(types.ProviderKind(cfg.Provider), cfg, provider.Context{Global: global})

All operations return errors tagged with an errdefs kind; timeouts always
carry the argv that timed out. StubProvider backs provisioner and API
tests without touching a real engine.
*/
package provider
