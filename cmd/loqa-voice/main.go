package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/logging"
)

var version = "0.1.0-dev"

var (
	configPath string
	envFile    string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "loqa-voice",
	Short:         "Run Korean voice commands through STT, an LLM and TTS",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `loqa-voice turns a recorded voice command into a spoken reply.

The audio is cleaned (silence trimming, noise reduction, loudness
normalization), transcribed, answered by the configured language model and
synthesized back to speech. A calendar intent (date, time, title, category)
is extracted from the transcript.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnvFile(envFile); err != nil {
			return err
		}
		path := configPath
		if !cmd.Flags().Changed("config") {
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				path = ""
			}
		}
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
		telemetry := cfg.Telemetry
		telemetry.LogLevel = logLevel
		telemetry.LogFormat = "text"
		logger = logging.NewWithWriter(os.Stderr, telemetry)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "loqa-voice.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file with credentials")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printJSON(v any) error {
	enc := jsonEncoder(os.Stdout)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
