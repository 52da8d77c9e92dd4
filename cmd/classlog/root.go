package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "classlog",
	Short: "Classlog - QR code classroom attendance server",
	Long: `Classlog runs attendance sessions for classroom groups. Teachers display a
QR code that rotates every few seconds, students scan it to mark themselves
present, and per-subject statistics are computed from the attendance log.`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A local .env is optional; CLASSLOG_* variables may come from anywhere
		_ = godotenv.Load()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to server command when no subcommand is provided
		return runServer(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/classlog/config.yaml", "Path to configuration file")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
