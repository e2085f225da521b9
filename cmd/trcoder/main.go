package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trcoder/trcoder/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "trcoder",
	Short: "trcoder - control plane for AI-assisted code changes",
	Long: `trcoder runs plan-approved, budget-capped AI coding tasks against your
repository. The server owns routing, cost and the ledger; a local runner
agent owns the working tree; every side effect is an auditable event.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonOut, _ := cmd.Flags().GetBool("json-logs")
		log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"trcoder version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON logs instead of console output")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(runnerCmd)
	rootCmd.AddCommand(apikeyCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(creditsCmd)
}
