package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/devyard/vm/pkg/config"
	"github.com/devyard/vm/pkg/platform"
	"github.com/devyard/vm/pkg/services"
)

func init() {
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authAddCmd)
	authCmd.AddCommand(authListCmd)
	authCmd.AddCommand(authRemoveCmd)
	authCmd.AddCommand(authInteractiveCmd)
	rootCmd.AddCommand(authCmd)
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage credentials in the shared auth proxy",
	Long: `The auth proxy holds API tokens outside the workspaces and injects
them into outbound requests, so credentials never land in a workspace
image or its shell history.`,
}

// authProxy builds a client for the configured proxy port.
func authProxy() (*services.ProxyClient, *config.GlobalConfig, error) {
	global, err := config.LoadGlobal(platform.GlobalConfigPath())
	if err != nil {
		return nil, nil, err
	}
	return services.NewProxyClient(global.AuthProxy.Port), global, nil
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show auth proxy state and stored credential count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, global, err := authProxy()
		if err != nil {
			return err
		}
		if !global.AuthProxy.Enabled {
			warn("auth proxy is disabled in %s", platform.GlobalConfigPath())
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
		defer cancel()
		if err := client.WaitReady(ctx); err != nil {
			warn("auth proxy is not running on port %d", global.AuthProxy.Port)
			fmt.Println("Start it with 'vm create' in a project that uses it, or enable it globally.")
			return nil
		}

		creds, err := client.List(cmd.Context())
		if err != nil {
			return err
		}
		success("auth proxy is running on port %d (%d credential(s) stored)",
			global.AuthProxy.Port, len(creds))
		return nil
	},
}

var authAddCmd = &cobra.Command{
	Use:   "add <name> <token>",
	Short: "Store a named credential",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := authProxy()
		if err != nil {
			return err
		}
		if err := client.Add(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		success("credential %s stored", args[0])
		return nil
	},
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credential names",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := authProxy()
		if err != nil {
			return err
		}
		creds, err := client.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(creds) == 0 {
			fmt.Println("(no credentials stored)")
			return nil
		}
		fmt.Printf("%-24s %s\n", "NAME", "ADDED")
		for _, c := range creds {
			fmt.Printf("%-24s %s\n", c.Name, c.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var authRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Delete a stored credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := authProxy()
		if err != nil {
			return err
		}
		if err := client.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		success("credential %s removed", args[0])
		return nil
	},
}

var authInteractiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Store a credential with interactive prompts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := authProxy()
		if err != nil {
			return err
		}
		return client.Interactive(cmd.Context(), nil, nil)
	},
}
