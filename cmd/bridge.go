package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cabana/internal/bridge"
	"cabana/internal/logger"
)

var bridgeConfigPath string

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Start the Cabana bridge daemon",
	Long: `The bridge daemon holds a persistent session to the automation panel,
runs hardware discovery after every connect and serves the diagnostics API.
If the config file does not exist a commented default is written for editing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.SetSilentMode(false)
		if verbose {
			logger.SetLevel("debug")
		} else {
			logger.SetLevel("info")
		}

		log := logger.New()
		log.Info().
			Str("config_path", bridgeConfigPath).
			Msg("Starting Cabana bridge daemon")

		// Check if config file exists
		if _, err := os.Stat(bridgeConfigPath); os.IsNotExist(err) {
			defaultConfig := bridge.NewDefaultConfig()
			if err := bridge.SaveConfig(defaultConfig, bridgeConfigPath); err != nil {
				log.Error().Err(err).Msg("Failed to create default config file")
				return fmt.Errorf("failed to create default config file: %w", err)
			}
			log.Info().
				Str("config_path", bridgeConfigPath).
				Msg("Created default configuration file. Set the panel host and restart.")
			return nil
		}

		daemon, err := bridge.NewDaemon(bridgeConfigPath)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create bridge daemon")
			return fmt.Errorf("failed to create bridge daemon: %w", err)
		}

		// Start daemon (blocks until shutdown)
		if err := daemon.Start(); err != nil {
			log.Error().Err(err).Msg("Bridge daemon stopped with error")
			return fmt.Errorf("bridge daemon error: %w", err)
		}

		return nil
	},
}

func init() {
	bridgeCmd.Flags().StringVarP(&bridgeConfigPath, "config", "c", "cabana.yml", "path to bridge configuration file")
}
