/*
Package platform isolates every OS-specific decision behind one adapter so
the rest of the orchestrator stays OS-neutral.

It covers four concerns:

Directories and well-known paths:

	platform.ConfigDir()          // ~/.config
	platform.GlobalConfigPath()   // ~/.config/vm/global.yaml
	platform.PortRegistryPath()   // <state>/.vm/port-registry.json
	platform.SnapshotsDir()       // ~/.config/snapshots
	platform.WorkspaceStatePath() // ~/.local/share/vm/state.db

Roots come from the XDG base directory spec on Linux, the Library
conventions on macOS, and the APPDATA family on Windows. The state root is
XDG state on Linux and the home directory elsewhere, so dotfile-style paths
like ~/.vm/port-registry.json land where users expect them.

Host probes:

	platform.CPUCount()
	platform.TotalMemory()     // /proc/meminfo on Linux, sysinfo elsewhere
	platform.DetectShell()     // posix-sh, zsh, fish, powershell, cmd
	platform.DockerBridgeHost() // 172.17.0.1 on Linux, host.docker.internal elsewhere
	platform.CheckResources()  // at least 2 CPUs and 4 GiB

Binary installation:

	platform.InstallBinary("/opt/vm/bin/vm", "vm")

Unix installs a symlink under ~/.local/bin; Windows copies the file and
writes .bat/.ps1 wrappers beside it.

Subprocess execution:

	runner := platform.NewRunner()
	out, err := runner.Run(ctx, platform.Cmd{
		Argv:    []string{"docker", "compose", "up", "-d"},
		Dir:     projectDir,
		Timeout: 5 * time.Minute,
	})

Run captures combined output and converts failures into the shared error
taxonomy: deadline overruns become timeout errors carrying the argv, and
non-zero exits become command errors carrying the output tail. The command
constructor is injectable (SetCommand) so provider tests can fake
subprocesses without a container engine on the machine.
*/
package platform
