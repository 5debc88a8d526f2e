package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zinwlad/game-timer/internal/config"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gametimer",
	Short: "gametimer - game session timer and play-time enforcement",
	Long: `gametimer watches for configured game processes, runs a session timer,
records play time and enforces daily limits, rest periods and blocks.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to run command when no subcommand is provided
		return runEngine(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "Path to configuration file")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
