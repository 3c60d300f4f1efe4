package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		debug      bool
		appConfig  *AppConfig
	)

	rootCmd := &cobra.Command{
		Use:   "dbxauth",
		Short: "Link Dropbox accounts and manage their tokens",
		Long: `dbxauth drives the OAuth2 authorization flow for a Dropbox app key, stores the
resulting credentials and hands out valid access tokens, refreshing them when needed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			cfg, err := loadConfigFromYAML(configPath)
			if err != nil {
				return err
			}
			appConfig = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", getEnv("CONFIG_PATH", "config.yaml"), "Path to the config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	config := func() *AppConfig { return appConfig }

	rootCmd.AddCommand(newLoginCommand(config))
	rootCmd.AddCommand(newListCommand(config))
	rootCmd.AddCommand(newTokenCommand(config))
	rootCmd.AddCommand(newUnlinkCommand(config))

	return rootCmd
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
