package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/devyard/vm/pkg/platform"
	"github.com/devyard/vm/pkg/ports"
)

func init() {
	portsCmd.AddCommand(portsReleaseCmd)
	rootCmd.AddCommand(portsCmd)
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "Show port range reservations across projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := ports.Load(platform.PortRegistryPath())
		if err != nil {
			return err
		}
		reservations := reg.List()
		if len(reservations) == 0 {
			fmt.Println("(no port ranges reserved)")
			return nil
		}
		fmt.Printf("%-24s %-12s %s\n", "PROJECT", "RANGE", "PATH")
		for _, r := range reservations {
			note := ""
			if _, err := os.Stat(r.Path); err != nil {
				note = " (missing)"
			}
			fmt.Printf("%-24s %-12s %s%s\n", r.Project, r.Range.String(), r.Path, note)
		}
		return nil
	},
}

var portsReleaseCmd = &cobra.Command{
	Use:   "release <project>",
	Short: "Release a project's reserved port range",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := ports.Load(platform.PortRegistryPath())
		if err != nil {
			return err
		}
		if err := reg.Unregister(args[0]); err != nil {
			return err
		}
		success("released port range for %s", args[0])
		return nil
	},
}
