package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/platform"
	"github.com/devyard/vm/pkg/services"
	"github.com/devyard/vm/pkg/types"
)

func init() {
	dbBackupCmd.Flags().StringP("out", "o", "", "Dump file to write (default <project>-<service>.dump)")
	dbExportCmd.Flags().StringP("out", "o", "", "Archive to write (default <project>-<service>-data.tar.gz)")
	dbResetCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")

	dbCmd.AddCommand(dbBackupCmd)
	dbCmd.AddCommand(dbRestoreCmd)
	dbCmd.AddCommand(dbExportCmd)
	dbCmd.AddCommand(dbImportCmd)
	dbCmd.AddCommand(dbResetCmd)
	rootCmd.AddCommand(dbCmd)
}

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Back up, restore and reset project databases",
	Long: `These commands drive the shared database containers directly.
backup/restore move logical dumps (pg_dump, mysqldump, mongodump);
export/import move the raw data volume as a tar archive.`,
}

// dumpServices are the services backup/restore/reset know how to drive.
var dumpServices = []string{"postgresql", "mysql", "mongodb"}

// dbContext resolves the target service, engine CLI and database name.
type dbContext struct {
	p       *project
	service string
	bin     string
	runner  *platform.Runner
}

func newDBContext(args []string, allowed []string) (*dbContext, error) {
	p, err := loadProject()
	if err != nil {
		return nil, err
	}

	service := ""
	if len(args) > 0 {
		service = args[len(args)-1]
	}
	if service == "" {
		for _, name := range allowed {
			if svc, ok := p.cfg.Services.Get(name); ok && svc.IsEnabled() {
				service = name
				break
			}
		}
		if service == "" {
			return nil, errdefs.Validationf("no database service enabled in vm.yaml; name one explicitly (%s)",
				strings.Join(allowed, ", "))
		}
	}
	found := false
	for _, name := range allowed {
		if name == service {
			found = true
			break
		}
	}
	if !found {
		return nil, errdefs.Validationf("service %q is not supported here (supported: %s)",
			service, strings.Join(allowed, ", "))
	}

	bin := "docker"
	if types.ProviderKind(p.cfg.Provider) == types.ProviderContainerB {
		bin = "nerdctl"
	}
	if err := platform.CheckBinary(bin); err != nil {
		return nil, err
	}

	return &dbContext{p: p, service: service, bin: bin, runner: platform.NewRunner()}, nil
}

// dbName is the per-project database inside the shared service.
func (d *dbContext) dbName() string {
	return strings.ReplaceAll(d.p.cfg.Project.Name, "-", "_")
}

func (d *dbContext) container() string {
	return services.ContainerName(d.service)
}

// volume is the persisted data volume for the service, present when
// persist_databases is on.
func (d *dbContext) volume() string {
	return fmt.Sprintf("vm-%s-%s-data", d.p.cfg.Project.Name, d.service)
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup [service]",
	Short: "Dump the project database to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")

		d, err := newDBContext(args, dumpServices)
		if err != nil {
			return err
		}
		if out == "" {
			out = fmt.Sprintf("%s-%s.dump", d.p.cfg.Project.Name, d.service)
		}

		f, err := os.Create(out)
		if err != nil {
			return errdefs.WrapFilesystem("create", out, err)
		}
		defer f.Close()

		argv, env, err := dumpArgv(d)
		if err != nil {
			return err
		}
		if _, err := d.runner.Run(cmd.Context(), platform.Cmd{
			Argv:    append(execArgv(d, env, false), argv...),
			Timeout: 10 * time.Minute,
			Stdout:  f,
			Stderr:  os.Stderr,
		}); err != nil {
			os.Remove(out)
			return err
		}
		success("database %s dumped to %s", d.dbName(), out)
		return nil
	},
}

var dbRestoreCmd = &cobra.Command{
	Use:   "restore <file> [service]",
	Short: "Restore the project database from a dump file",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDBContext(args[1:], dumpServices)
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return errdefs.WrapFilesystem("open", args[0], err)
		}
		defer f.Close()

		argv, env, err := restoreArgv(d)
		if err != nil {
			return err
		}
		if _, err := d.runner.Run(cmd.Context(), platform.Cmd{
			Argv:    append(execArgv(d, env, true), argv...),
			Timeout: 10 * time.Minute,
			Stdin:   f,
			Stderr:  os.Stderr,
		}); err != nil {
			return err
		}
		success("database %s restored from %s", d.dbName(), args[0])
		return nil
	},
}

var dbExportCmd = &cobra.Command{
	Use:   "export [service]",
	Short: "Archive the service's raw data volume",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")

		d, err := newDBContext(args, append(dumpServices, "redis"))
		if err != nil {
			return err
		}
		if out == "" {
			out = fmt.Sprintf("%s-%s-data.tar.gz", d.p.cfg.Project.Name, d.service)
		}
		return volumeArchiveOp(cmd.Context(), d, out, false)
	},
}

var dbImportCmd = &cobra.Command{
	Use:   "import <archive> [service]",
	Short: "Replace the service's data volume from an archive",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDBContext(args[1:], append(dumpServices, "redis"))
		if err != nil {
			return err
		}
		return volumeArchiveOp(cmd.Context(), d, args[0], true)
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset [service]",
	Short: "Drop and recreate the project database",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		d, err := newDBContext(args, append(dumpServices, "redis"))
		if err != nil {
			return err
		}
		if !yes {
			fmt.Printf("This drops all data in %s on %s. Type the database name to confirm: ", d.dbName(), d.service)
			var answer string
			fmt.Scanln(&answer)
			if answer != d.dbName() {
				return errdefs.Validationf("reset aborted")
			}
		}

		argvs, env, err := resetArgv(d)
		if err != nil {
			return err
		}
		for _, argv := range argvs {
			if _, err := d.runner.Run(cmd.Context(), platform.Cmd{
				Argv:    append(execArgv(d, env, false), argv...),
				Timeout: time.Minute,
			}); err != nil {
				return err
			}
		}
		success("database %s reset", d.dbName())
		return nil
	},
}

// execArgv builds the `docker exec` prefix, injecting credentials through
// the environment so they stay out of process listings.
func execArgv(d *dbContext, env []string, interactive bool) []string {
	argv := []string{d.bin, "exec"}
	if interactive {
		argv = append(argv, "-i")
	}
	for _, e := range env {
		argv = append(argv, "-e", e)
	}
	return append(argv, d.container())
}

func dumpArgv(d *dbContext) (argv, env []string, err error) {
	password, err := services.Password(d.service)
	if err != nil {
		return nil, nil, err
	}
	switch d.service {
	case "postgresql":
		return []string{"pg_dump", "-U", "postgres", "--clean", "--if-exists", d.dbName()},
			[]string{"PGPASSWORD=" + password}, nil
	case "mysql":
		return []string{"mysqldump", "-uroot", "--databases", d.dbName()},
			[]string{"MYSQL_PWD=" + password}, nil
	case "mongodb":
		return []string{"mongodump", "--archive", "--db", d.dbName(),
			"-u", "root", "-p", password, "--authenticationDatabase", "admin"}, nil, nil
	}
	return nil, nil, errdefs.Validationf("no dump tool for %q", d.service)
}

func restoreArgv(d *dbContext) (argv, env []string, err error) {
	password, err := services.Password(d.service)
	if err != nil {
		return nil, nil, err
	}
	switch d.service {
	case "postgresql":
		return []string{"psql", "-U", "postgres", "-d", d.dbName()},
			[]string{"PGPASSWORD=" + password}, nil
	case "mysql":
		return []string{"mysql", "-uroot"},
			[]string{"MYSQL_PWD=" + password}, nil
	case "mongodb":
		return []string{"mongorestore", "--archive", "--drop",
			"-u", "root", "-p", password, "--authenticationDatabase", "admin"}, nil, nil
	}
	return nil, nil, errdefs.Validationf("no restore tool for %q", d.service)
}

func resetArgv(d *dbContext) (argvs [][]string, env []string, err error) {
	password, err := services.Password(d.service)
	if err != nil {
		return nil, nil, err
	}
	name := d.dbName()
	switch d.service {
	case "postgresql":
		return [][]string{
			{"psql", "-U", "postgres", "-c", fmt.Sprintf("DROP DATABASE IF EXISTS %q", name)},
			{"psql", "-U", "postgres", "-c", fmt.Sprintf("CREATE DATABASE %q", name)},
		}, []string{"PGPASSWORD=" + password}, nil
	case "mysql":
		return [][]string{
			{"mysql", "-uroot", "-e", fmt.Sprintf("DROP DATABASE IF EXISTS `%s`; CREATE DATABASE `%s`", name, name)},
		}, []string{"MYSQL_PWD=" + password}, nil
	case "mongodb":
		return [][]string{
			{"mongosh", "-u", "root", "-p", password, "--authenticationDatabase", "admin",
				"--eval", fmt.Sprintf("db.getSiblingDB(%q).dropDatabase()", name)},
		}, nil, nil
	case "redis":
		return [][]string{
			{"redis-cli", "-a", password, "FLUSHALL"},
		}, nil, nil
	}
	return nil, nil, errdefs.Validationf("no reset for %q", d.service)
}

// volumeArchiveOp streams the data volume through a throwaway container,
// so it works even while the service image lacks tar.
func volumeArchiveOp(ctx context.Context, d *dbContext, archive string, restore bool) error {
	if d.p.cfg.PersistDatabases == nil || !*d.p.cfg.PersistDatabases {
		return errdefs.Validationf("persist_databases is off; there is no data volume to archive")
	}

	if restore {
		f, err := os.Open(archive)
		if err != nil {
			return errdefs.WrapFilesystem("open", archive, err)
		}
		defer f.Close()

		argv := []string{d.bin, "run", "--rm", "-i",
			"-v", d.volume() + ":/data",
			"alpine:3", "sh", "-c", "rm -rf /data/* && tar xzf - -C /data"}
		if _, err := d.runner.Run(ctx, platform.Cmd{
			Argv: argv, Timeout: 10 * time.Minute, Stdin: f, Stderr: os.Stderr,
		}); err != nil {
			return err
		}
		success("volume %s restored from %s", d.volume(), archive)
		return nil
	}

	f, err := os.Create(archive)
	if err != nil {
		return errdefs.WrapFilesystem("create", archive, err)
	}
	defer f.Close()

	argv := []string{d.bin, "run", "--rm",
		"-v", d.volume() + ":/data:ro",
		"alpine:3", "tar", "czf", "-", "-C", "/data", "."}
	if _, err := d.runner.Run(ctx, platform.Cmd{
		Argv: argv, Timeout: 10 * time.Minute, Stdout: f, Stderr: os.Stderr,
	}); err != nil {
		os.Remove(archive)
		return err
	}
	success("volume %s archived to %s", d.volume(), archive)
	return nil
}
