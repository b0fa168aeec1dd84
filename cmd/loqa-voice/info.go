package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-voice/internal/device"
	"github.com/loqalabs/loqa-voice/internal/pipeline"
	"github.com/loqalabs/loqa-voice/internal/stt"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe the configured pipeline and its providers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pipeline.New(pipeline.Options{Config: cfg, Logger: logger})
		if err != nil {
			return err
		}
		defer p.Close()
		return printJSON(p.Info())
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Show which compute device would be used",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		accelerated := device.SystemProber{}.Accelerated()
		fmt.Fprintf(cmd.OutOrStdout(), "requested:   %s\n", cfg.Device)
		fmt.Fprintf(cmd.OutOrStdout(), "accelerator: %t\n", accelerated)
		fmt.Fprintf(cmd.OutOrStdout(), "resolved:    %s\n", device.Resolve(cfg.Device))
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List speech recognition model sizes",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, m := range stt.AvailableModels() {
			marker := " "
			if m == cfg.STT.Model {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, m)
		}
	},
}

func init() {
	rootCmd.AddCommand(infoCmd, devicesCmd, modelsCmd)
}
