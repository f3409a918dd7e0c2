package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/ports"
	"github.com/devyard/vm/pkg/provider"
	"github.com/devyard/vm/pkg/types"
)

func init() {
	createCmd.Flags().Bool("force", false, "Recreate the workspace if it already exists")
	createCmd.Flags().String("instance", "", "Create a named instance instead of the default")
	rootCmd.AddCommand(createCmd)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(sshCmd)
	rootCmd.AddCommand(execCmd)

	logsCmd.Flags().BoolP("follow", "f", false, "Keep the log stream open")
	logsCmd.Flags().Int("tail", 0, "Lines of history to show (0 = backend default)")
	logsCmd.Flags().String("service", "", "Show an auxiliary service's logs instead")
	rootCmd.AddCommand(logsCmd)

	rootCmd.AddCommand(statusCmd)

	listCmd.Flags().String("provider", "", "Only show instances of this provider")
	rootCmd.AddCommand(listCmd)

	waitCmd.Flags().String("service", "", "Wait for a shared service instead of the workspace")
	waitCmd.Flags().Duration("timeout", 60*time.Second, "Give up after this long")
	rootCmd.AddCommand(waitCmd)
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create and start the workspace for this project",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		instance, _ := cmd.Flags().GetString("instance")

		p, err := loadProject()
		if err != nil {
			return err
		}
		p, err = ensurePortRange(p)
		if err != nil {
			return err
		}
		reportFindings(p)

		backend, err := p.backend()
		if err != nil {
			return err
		}

		// The container backends drive shared services through the
		// reference-counting manager; wire it when they can take one.
		if aware, ok := backend.(serviceAware); ok {
			st, err := openState()
			if err != nil {
				return err
			}
			defer st.Close()
			mgr, err := serviceManager(st, p.global)
			if err != nil {
				return err
			}
			aware.SetServices(mgr)
		}

		ctx := cmd.Context()
		if force {
			if err := backend.Destroy(ctx, instance); err != nil && !errors.Is(err, errdefs.ErrNotFound) {
				warn("could not remove previous workspace: %v", err)
			}
		}

		if instance != "" {
			if !backend.SupportsMultiInstance() {
				return errdefs.Validationf("provider %q does not support named instances", p.cfg.Provider)
			}
			err = backend.CreateInstance(ctx, instance)
		} else {
			err = backend.Create(ctx)
		}
		if err != nil {
			return err
		}

		success("workspace %s is ready", workspaceLabel(p, instance))
		fmt.Printf("  Provider: %s\n", p.cfg.Provider)
		if p.cfg.Ports.Range != nil {
			fmt.Printf("  Ports:    %s\n", p.cfg.Ports.Range.String())
		}
		fmt.Printf("\nRun 'vm ssh' to enter it.\n")
		return nil
	},
}

// ensurePortRange reserves a port range for the project when none exists
// yet, then reloads the config so ${port.N} substitution sees it. A range
// pinned in vm.yaml is checked against other projects' reservations.
func ensurePortRange(p *project) (*project, error) {
	name := p.cfg.Project.Name

	if rng := p.cfg.Ports.Range; rng != nil {
		if owner, clash := p.reg.CheckConflicts(*rng, name); clash {
			return nil, errdefs.Validationf("port range %s overlaps project %s", rng.String(), owner)
		}
		if err := p.reg.Register(name, *rng, p.dir); err != nil {
			return nil, err
		}
		return p, nil
	}

	spec, ok := p.reg.SuggestNextRange(10, 3000)
	if !ok {
		return nil, errdefs.Validationf("no free port range of 10 ports below 65535; prune stale entries with 'vm ports'")
	}
	rng, err := ports.ParseRange(spec)
	if err != nil {
		return nil, err
	}
	if err := p.reg.Register(name, rng, p.dir); err != nil {
		return nil, err
	}
	success("reserved port range %s for %s", spec, name)

	// Reload so presets and services pick ports from the new range.
	return loadProject()
}

// reportFindings surfaces config pipeline warnings before a create.
func reportFindings(p *project) {
	if p.res.Preset != "" {
		fmt.Printf("Detected preset: %s\n", p.res.Preset)
	}
	for _, w := range p.res.Report.Warnings {
		warn("%s", w)
	}
}

func workspaceLabel(p *project, instance string) string {
	if instance == "" {
		return p.cfg.Project.Name
	}
	return p.cfg.Project.Name + "/" + instance
}

var startCmd = &cobra.Command{
	Use:   "start [target]",
	Short: "Start a stopped workspace",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(ctx context.Context, p *project, b provider.Provider) error {
			if err := b.Start(ctx, optionalTarget(args)); err != nil {
				return err
			}
			success("workspace started")
			return nil
		}, cmd)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop [target]",
	Short: "Stop a running workspace",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(ctx context.Context, p *project, b provider.Provider) error {
			if err := b.Stop(ctx, optionalTarget(args)); err != nil {
				return err
			}
			success("workspace stopped")
			return nil
		}, cmd)
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart [target]",
	Short: "Restart a workspace",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(ctx context.Context, p *project, b provider.Provider) error {
			if err := b.Restart(ctx, optionalTarget(args)); err != nil {
				return err
			}
			success("workspace restarted")
			return nil
		}, cmd)
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy [target]",
	Short: "Destroy a workspace and its resources",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProject()
		if err != nil {
			return err
		}
		backend, err := p.backend()
		if err != nil {
			return err
		}
		if aware, ok := backend.(serviceAware); ok {
			st, err := openState()
			if err != nil {
				return err
			}
			defer st.Close()
			mgr, err := serviceManager(st, p.global)
			if err != nil {
				return err
			}
			aware.SetServices(mgr)
		}
		if err := backend.Destroy(cmd.Context(), optionalTarget(args)); err != nil {
			return err
		}
		success("workspace destroyed")
		return nil
	},
}

var killCmd = &cobra.Command{
	Use:   "kill [target]",
	Short: "Force-terminate a workspace without graceful shutdown",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(ctx context.Context, p *project, b provider.Provider) error {
			if err := b.Kill(ctx, optionalTarget(args)); err != nil {
				return err
			}
			success("workspace killed")
			return nil
		}, cmd)
	},
}

var sshCmd = &cobra.Command{
	Use:   "ssh [target] [path]",
	Short: "Open a shell inside the workspace",
	Long: `Open an interactive shell inside the workspace, joined at the
workspace path. A single argument is taken as an instance name when it
resolves to one, otherwise as a path relative to the workspace root.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(ctx context.Context, p *project, b provider.Provider) error {
			target, relPath := "", ""
			switch len(args) {
			case 1:
				if _, err := b.ResolveInstanceName(args[0]); err == nil {
					target = args[0]
				} else {
					relPath = args[0]
				}
			case 2:
				target, relPath = args[0], args[1]
			}
			return b.SSH(ctx, target, relPath)
		}, cmd)
	},
}

var execCmd = &cobra.Command{
	Use:   "exec [target] -- command [args...]",
	Short: "Run a command inside the workspace",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		target := ""
		argv := args
		if at := cmd.ArgsLenAtDash(); at >= 0 {
			if at > 1 {
				return errdefs.Validationf("at most one target before --")
			}
			if at == 1 {
				target = args[0]
			}
			argv = args[at:]
		}
		if len(argv) == 0 {
			return errdefs.Validationf("no command given; use 'vm exec -- <command>'")
		}
		return withBackend(func(ctx context.Context, p *project, b provider.Provider) error {
			return b.Exec(ctx, target, argv)
		}, cmd)
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs [target]",
	Short: "Show workspace or service logs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		tail, _ := cmd.Flags().GetInt("tail")
		service, _ := cmd.Flags().GetString("service")
		return withBackend(func(ctx context.Context, p *project, b provider.Provider) error {
			return b.Logs(ctx, optionalTarget(args), provider.LogOptions{
				Follow:  follow,
				Tail:    tail,
				Service: service,
			})
		}, cmd)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [target]",
	Short: "Show workspace status and resource usage",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(ctx context.Context, p *project, b provider.Provider) error {
			report, err := b.Status(ctx, optionalTarget(args))
			if err != nil {
				return err
			}
			printStatus(report)
			return nil
		}, cmd)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspace instances across projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, _ := cmd.Flags().GetString("provider")
		if filter != "" && !types.ProviderKind(filter).Valid() {
			return errdefs.Validationf("unknown provider %q", filter)
		}
		return withBackend(func(ctx context.Context, p *project, b provider.Provider) error {
			instances, err := b.ListInstances(ctx)
			if err != nil {
				return err
			}
			printed := 0
			fmt.Printf("%-30s %-14s %-10s %s\n", "NAME", "PROVIDER", "STATE", "UPTIME")
			for _, inst := range instances {
				if filter != "" && string(inst.Provider) != filter {
					continue
				}
				state := "stopped"
				if inst.IsRunning {
					state = "running"
				}
				fmt.Printf("%-30s %-14s %-10s %s\n", inst.Name, inst.Provider, state, inst.Uptime)
				printed++
			}
			if printed == 0 {
				fmt.Println("(no instances)")
			}
			return nil
		}, cmd)
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Block until the workspace (or a shared service) is ready",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, _ := cmd.Flags().GetString("service")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		if service != "" {
			return waitForService(ctx, service)
		}
		return withBackend(func(_ context.Context, p *project, b provider.Provider) error {
			for {
				report, err := b.Status(ctx, "")
				if err == nil && report.IsRunning {
					success("workspace is running")
					return nil
				}
				select {
				case <-ctx.Done():
					return errdefs.Validationf("workspace not ready after %s", timeout)
				case <-time.After(2 * time.Second):
				}
			}
		}, cmd)
	},
}

func waitForService(ctx context.Context, service string) error {
	p, err := loadProject()
	if err != nil {
		return err
	}
	st, err := openState()
	if err != nil {
		return err
	}
	defer st.Close()
	mgr, err := serviceManager(st, p.global)
	if err != nil {
		return err
	}

	for {
		result, err := mgr.CheckHealth(ctx, service)
		if err != nil {
			return err
		}
		if result.Healthy {
			success("service %s is healthy", service)
			return nil
		}
		select {
		case <-ctx.Done():
			return errdefs.Dependencyf("service %s not healthy in time: %s", service, result.Message)
		case <-time.After(2 * time.Second):
		}
	}
}

// withBackend runs fn with a loaded project and its provider backend.
func withBackend(fn func(ctx context.Context, p *project, b provider.Provider) error, cmd *cobra.Command) error {
	p, err := loadProject()
	if err != nil {
		return err
	}
	backend, err := p.backend()
	if err != nil {
		return err
	}
	return fn(cmd.Context(), p, backend)
}

func optionalTarget(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func printStatus(r *types.StatusReport) {
	state := "stopped"
	if r.IsRunning {
		state = "running"
	}
	fmt.Printf("Workspace: %s\n", r.Name)
	fmt.Printf("Provider:  %s\n", r.Provider)
	fmt.Printf("State:     %s\n", state)
	if r.ContainerID != "" {
		fmt.Printf("ID:        %s\n", r.ContainerID)
	}
	if r.Uptime != "" {
		fmt.Printf("Uptime:    %s\n", r.Uptime)
	}
	if r.Resources.CPUPercent > 0 || r.Resources.MemUsed > 0 {
		fmt.Printf("CPU:       %.1f%%\n", r.Resources.CPUPercent)
		fmt.Printf("Memory:    %s\n", formatBytePair(r.Resources.MemUsed, r.Resources.MemLimit))
	}
	if r.Resources.DiskUsed > 0 {
		fmt.Printf("Disk:      %s\n", formatBytePair(r.Resources.DiskUsed, r.Resources.DiskTotal))
	}
	if len(r.Services) > 0 {
		fmt.Println("Services:")
		for _, svc := range r.Services {
			state := "stopped"
			if svc.IsRunning {
				state = "running"
			}
			port := ""
			if svc.HostPort > 0 {
				port = fmt.Sprintf(" (localhost:%d)", svc.HostPort)
			}
			fmt.Printf("  %-12s %s%s\n", svc.Name, state, port)
		}
	}
}

func formatBytePair(used, limit int64) string {
	if limit <= 0 {
		return units.BytesSize(float64(used))
	}
	return fmt.Sprintf("%s / %s", units.BytesSize(float64(used)), units.BytesSize(float64(limit)))
}
