package main

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/devyard/vm/pkg/snapshot"
)

func init() {
	snapshotCreateCmd.Flags().StringP("description", "d", "", "Free-form note stored with the snapshot")
	snapshotCreateCmd.Flags().Bool("force", false, "Replace an existing snapshot of the same name")
	snapshotImportCmd.Flags().Bool("force", false, "Replace an existing snapshot of the same name")
	snapshotExportCmd.Flags().StringP("out", "o", "", "Archive path (default <name>.snapshot.tar.gz)")

	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotRestoreCmd)
	snapshotCmd.AddCommand(snapshotDeleteCmd)
	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotImportCmd)
	rootCmd.AddCommand(snapshotCmd)
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Save and restore workspace state",
	Long: `Snapshots capture the workspace image, database volumes and project
configuration. Names prefixed with @ are global and shared across
projects; bare names are scoped to the current project.`,
}

// snapshotEngine builds the engine for the current project.
func snapshotEngine() (*snapshot.Engine, error) {
	p, err := loadProject()
	if err != nil {
		return nil, err
	}
	backend, err := p.backend()
	if err != nil {
		return nil, err
	}
	return snapshot.New(p.cfg, backend, p.dir), nil
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Capture the workspace into a named snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		force, _ := cmd.Flags().GetBool("force")

		engine, err := snapshotEngine()
		if err != nil {
			return err
		}
		meta, err := engine.Capture(cmd.Context(), snapshot.CaptureOptions{
			Name:        args[0],
			Description: description,
			Force:       force,
		})
		if err != nil {
			return err
		}
		success("snapshot %s created (%s)", args[0], units.BytesSize(float64(meta.TotalSizeBytes)))
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := snapshotEngine()
		if err != nil {
			return err
		}
		infos, err := engine.List()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("(no snapshots)")
			return nil
		}
		fmt.Printf("%-30s %-20s %-10s %s\n", "NAME", "CREATED", "SIZE", "DESCRIPTION")
		for _, info := range infos {
			fmt.Printf("%-30s %-20s %-10s %s\n",
				info.Name,
				info.Meta.CreatedAt.Local().Format("2006-01-02 15:04"),
				units.BytesSize(float64(info.Meta.TotalSizeBytes)),
				info.Meta.Description,
			)
		}
		return nil
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Restore the workspace from a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := snapshotEngine()
		if err != nil {
			return err
		}
		if err := engine.Restore(cmd.Context(), args[0]); err != nil {
			return err
		}
		success("snapshot %s restored", args[0])
		return nil
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := snapshotEngine()
		if err != nil {
			return err
		}
		if err := engine.Delete(args[0]); err != nil {
			return err
		}
		success("snapshot %s deleted", args[0])
		return nil
	},
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export <name>",
	Short: "Export a snapshot to a portable archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")

		engine, err := snapshotEngine()
		if err != nil {
			return err
		}
		path, err := engine.Export(cmd.Context(), args[0], out)
		if err != nil {
			return err
		}
		success("snapshot %s exported to %s", args[0], path)
		return nil
	},
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import <archive>",
	Short: "Import a snapshot archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		engine, err := snapshotEngine()
		if err != nil {
			return err
		}
		manifest, err := engine.Import(cmd.Context(), args[0], force)
		if err != nil {
			return err
		}
		name := manifest.SnapshotName
		if manifest.IsGlobal {
			name = "@" + name
		}
		success("snapshot %s imported; run 'vm snapshot restore %s' to use it", name, name)
		return nil
	},
}
