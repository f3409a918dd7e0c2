package main

import (
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/devyard/vm/pkg/api"
	"github.com/devyard/vm/pkg/store"
	"github.com/devyard/vm/pkg/types"
)

// defaultServerURL is where a local `vm serve` listens.
const defaultServerURL = "http://127.0.0.1:7070"

func init() {
	workspacesCmd.PersistentFlags().String("server", defaultServerURL, "Workspace API base URL")

	workspacesListCmd.Flags().String("owner", "", "Only show workspaces of this owner")
	workspacesListCmd.Flags().String("status", "", "Only show workspaces in this status")

	workspacesCreateCmd.Flags().String("provider", string(types.ProviderContainerA), "Provider kind for the workspace")
	workspacesCreateCmd.Flags().String("template", "", "Template the workspace is created from")
	workspacesCreateCmd.Flags().Int64("ttl", 0, "Time to live in seconds (0 = no expiry)")

	workspacesCmd.AddCommand(workspacesListCmd)
	workspacesCmd.AddCommand(workspacesCreateCmd)
	workspacesCmd.AddCommand(workspacesDeleteCmd)
	rootCmd.AddCommand(workspacesCmd)
}

var workspacesCmd = &cobra.Command{
	Use:   "workspaces",
	Short: "Manage workspaces through a vm serve daemon",
	Long: `These commands talk to the HTTP API of a running 'vm serve' daemon,
which provisions workspaces asynchronously. Identity comes from the
VM_USER and VM_EMAIL environment variables, falling back to the local
account name.`,
}

// apiClient builds a client for the configured server with the caller's
// identity.
func apiClient(cmd *cobra.Command) *api.Client {
	server, _ := cmd.Flags().GetString("server")

	userName := os.Getenv("VM_USER")
	if userName == "" {
		if u, err := user.Current(); err == nil {
			userName = u.Username
		}
	}
	return api.NewClient(server, userName, os.Getenv("VM_EMAIL"))
}

var workspacesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces on the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		status, _ := cmd.Flags().GetString("status")

		workspaces, err := apiClient(cmd).ListWorkspaces(cmd.Context(), owner, types.WorkspaceStatus(status))
		if err != nil {
			return err
		}
		if len(workspaces) == 0 {
			fmt.Println("(no workspaces)")
			return nil
		}
		fmt.Printf("%-36s %-20s %-12s %-12s %s\n", "ID", "NAME", "OWNER", "STATUS", "PROVIDER")
		for _, w := range workspaces {
			fmt.Printf("%-36s %-20s %-12s %-12s %s\n", w.ID, w.Name, w.Owner, w.Status, w.Provider)
		}
		return nil
	},
}

var workspacesCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Request a new workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		providerKind, _ := cmd.Flags().GetString("provider")
		template, _ := cmd.Flags().GetString("template")
		ttl, _ := cmd.Flags().GetInt64("ttl")

		w, err := apiClient(cmd).CreateWorkspace(cmd.Context(), store.CreateWorkspaceRequest{
			Name:       args[0],
			Template:   template,
			Provider:   types.ProviderKind(providerKind),
			TTLSeconds: ttl,
		})
		if err != nil {
			return err
		}
		success("workspace %s accepted (id %s, status %s)", w.Name, w.ID, w.Status)
		fmt.Println("The provisioner brings it up in the background; poll with 'vm workspaces list'.")
		return nil
	},
}

var workspacesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Destroy a workspace and remove it from the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).DeleteWorkspace(cmd.Context(), args[0]); err != nil {
			return err
		}
		success("workspace %s deleted", args[0])
		return nil
	},
}
