package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/devyard/vm/pkg/log"

	// Backend registration.
	_ "github.com/devyard/vm/pkg/provider/docker"
	_ "github.com/devyard/vm/pkg/provider/lima"
	_ "github.com/devyard/vm/pkg/provider/nerdctl"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	logLevel string
	logJSON  bool
	verbose  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("✗"), err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vm",
	Short: "vm - Reproducible development workspaces",
	Long: `vm provisions disposable development workspaces on containers or
lightweight virtual machines, with shared databases, per-project port
ranges and snapshots built in.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logJSON {
			log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: true, Output: os.Stderr})
			return
		}
		log.InitAuto(log.Level(logLevel), os.Stderr)
	},
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"vm version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Force JSON log output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show full subprocess output")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vm version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// success prints a green check line.
func success(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

// warn prints a yellow warning line.
func warn(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", color.YellowString("!"), fmt.Sprintf(format, args...))
}
