package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devyard/vm/pkg/plugin"
)

func init() {
	pluginListCmd.Flags().String("kind", "", "Only show plugins of this kind (preset, service)")
	pluginNewCmd.Flags().String("kind", string(plugin.KindPreset), "Plugin kind (preset, service)")

	pluginCmd.AddCommand(pluginListCmd)
	pluginCmd.AddCommand(pluginInfoCmd)
	pluginCmd.AddCommand(pluginInstallCmd)
	pluginCmd.AddCommand(pluginRemoveCmd)
	pluginCmd.AddCommand(pluginNewCmd)
	rootCmd.AddCommand(pluginCmd)
}

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage preset and service plugins",
	Long: `Plugins extend vm with extra presets and shared-service definitions.
They live under the state directory and are picked up on every run;
preset plugins take precedence over the embedded presets.`,
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed plugins",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")

		infos, err := plugin.NewManager("").List(plugin.Kind(kind))
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("(no plugins installed)")
			return nil
		}
		fmt.Printf("%-24s %-10s %-10s %s\n", "NAME", "KIND", "VERSION", "DESCRIPTION")
		for _, info := range infos {
			fmt.Printf("%-24s %-10s %-10s %s\n", info.Name, info.Kind, info.Version, info.Description)
		}
		return nil
	},
}

var pluginInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show details of an installed plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := plugin.NewManager("").Info(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Name:        %s\n", info.Name)
		fmt.Printf("Kind:        %s\n", info.Kind)
		if info.Version != "" {
			fmt.Printf("Version:     %s\n", info.Version)
		}
		if info.Author != "" {
			fmt.Printf("Author:      %s\n", info.Author)
		}
		if info.Description != "" {
			fmt.Printf("Description: %s\n", info.Description)
		}
		fmt.Printf("Directory:   %s\n", info.Dir)
		fmt.Printf("Payload:     %s\n", info.Payload)
		return nil
	},
}

var pluginInstallCmd = &cobra.Command{
	Use:   "install <dir>",
	Short: "Install a plugin from a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := plugin.NewManager("").Install(args[0])
		if err != nil {
			return err
		}
		success("plugin %s (%s) installed", info.Name, info.Kind)
		return nil
	},
}

var pluginRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove an installed plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := plugin.NewManager("").Remove(args[0]); err != nil {
			return err
		}
		success("plugin %s removed", args[0])
		return nil
	},
}

var pluginNewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Scaffold a new plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")

		dir, err := plugin.NewManager("").New(args[0], plugin.Kind(kind))
		if err != nil {
			return err
		}
		success("plugin scaffolded at %s", dir)
		return nil
	},
}
