package main

import (
	"fmt"
	"os"

	"github.com/fentz26/utimer/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "utimer",
	Short: "utimer - durable countdown timers",
	Long: `utimer runs countdown timers that survive restarts. A small daemon keeps
the timers and fires them; every other command talks to it over HTTP.`,
	SilenceUsage: true,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr    string
	configPath string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://"+config.DefaultListen, "API server address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.utimer/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(addCmd, listCmd, showCmd, cancelCmd, modifyCmd, startCmd)
	rootCmd.AddCommand(parseCmd, cleanupCmd, statsCmd, watchCmd)
	rootCmd.AddCommand(tuiCmd)
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadFromHome()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
