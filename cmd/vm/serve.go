package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devyard/vm/pkg/api"
	"github.com/devyard/vm/pkg/config"
	"github.com/devyard/vm/pkg/events"
	"github.com/devyard/vm/pkg/metrics"
	"github.com/devyard/vm/pkg/platform"
	"github.com/devyard/vm/pkg/provisioner"
)

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:7070", "Listen address for the workspace API")
	serveCmd.Flags().Duration("tick", 2*time.Second, "Provisioner poll interval")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the workspace API and provisioner",
	Long: `Serve exposes the workspace store over HTTP and runs the provisioner
loop that turns Creating rows into running instances and reaps expired
workspaces. State lives in the shared bolt database, so the CLI and the
daemon see the same workspaces.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		tick, _ := cmd.Flags().GetDuration("tick")

		global, err := config.LoadGlobal(platform.GlobalConfigPath())
		if err != nil {
			return err
		}
		metrics.SetVersion(Version)

		st, err := openState()
		if err != nil {
			return fmt.Errorf("failed to open state store: %v", err)
		}
		defer st.Close()
		metrics.RegisterComponent("store", true, "bolt database open")

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		factory := provisioner.DefaultFactory(global)

		prov := provisioner.New(st, factory)
		prov.SetInterval(tick)
		prov.SetEvents(broker)
		prov.Start()
		metrics.RegisterComponent("provisioner", true, "tick loop running")
		success("provisioner started (tick %s)", tick)

		server := api.NewServer(st, factory)
		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(addr); err != nil {
				errCh <- fmt.Errorf("API server error: %v", err)
			}
		}()
		success("API listening on %s", addr)

		fmt.Println()
		fmt.Println("Serving. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		prov.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown: %v", err)
		}

		success("shutdown complete")
		return nil
	},
}
