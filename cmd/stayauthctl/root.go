package main

import (
	"github.com/spf13/cobra"

	"github.com/MrEthical07/stayAuth/internal/config"
	"github.com/MrEthical07/stayAuth/internal/logger"
)

var (
	envFile    string
	jsonOutput bool
)

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "stayauthctl",
	Short: "Operate the stayAuth authentication service",
	Long: `stayauthctl runs the stayAuth HTTP/gRPC service and the tooling around it:
database migrations, key generation, TOTP helpers and a load generator.

Configuration is read from the environment after an optional dotenv file
(see --env-file). Variables already present in the environment win.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to read before the environment (skipped when missing)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON instead of human-readable text")
}

func loadConfig() (*config.Config, error) {
	return config.Load(envFile)
}

func newLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)
}
