// Package cli implements the blefota command line.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	outputFormat string
	configPath   string
	verbose      bool
	quiet        bool
)

// buildInfo describes the running binary.
type buildInfo struct {
	Version string `json:"version" yaml:"version"`
	Commit  string `json:"commit" yaml:"commit"`
	Date    string `json:"date" yaml:"date"`
}

// Execute runs the blefota command line. Interrupts cancel the running
// command.
func Execute(version, commit, date string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newRootCmd(buildInfo{Version: version, Commit: commit, Date: date}).ExecuteContext(ctx)
}

func newRootCmd(info buildInfo) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "blefota",
		Short: "Firmware over-the-air updates for INGChips BLE devices",
		Long: `blefota updates INGChips devices over the FOTA GATT service.

Updates come from an update package (zip with manifest.json), a single
application image (.bin or Intel HEX) or an update server. Devices exposing
the public-key characteristic are updated with signed, encrypted pages.`,
		Version:      info.Version,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json, yaml")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")

	// Add subcommands
	rootCmd.AddCommand(newUpdateCmd())
	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newSimulateCmd())
	rootCmd.AddCommand(newVersionCmd(info))

	// Register completion function for output flag
	_ = rootCmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
	})

	return rootCmd
}
