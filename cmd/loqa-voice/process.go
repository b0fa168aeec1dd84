package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-voice/internal/pipeline"
	"github.com/loqalabs/loqa-voice/internal/protocol"
)

var (
	processOutput string
	processJSON   bool
	processModel  string
	processLLM    string
	processNoKO   bool
	processPre    preprocessFlags
)

var processCmd = &cobra.Command{
	Use:   "process <audio-file>",
	Short: "Run one voice command through the pipeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcess,
}

func init() {
	processCmd.Flags().StringVarP(&processOutput, "output", "o", "", "Write the synthesized reply audio to this file")
	processCmd.Flags().BoolVar(&processJSON, "json", false, "Print the full result as JSON")
	processCmd.Flags().StringVar(&processModel, "model", "", "Speech recognition model (tiny, base, small, medium, large)")
	processCmd.Flags().StringVar(&processLLM, "llm", "", "Response provider (gpt, gemini, local, exec, mock)")
	processCmd.Flags().BoolVar(&processNoKO, "no-korean-opt", false, "Leave the transcript as recognized (no Korean post-processing)")
	processPre.register(processCmd)
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	if processModel != "" {
		cfg.STT.Model = processModel
	}
	if processLLM != "" {
		cfg.LLM.Provider = processLLM
	}
	p, err := pipeline.New(pipeline.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer p.Close()

	if processNoKO {
		if err := p.SetKoreanOptimization(false); err != nil {
			return err
		}
	}
	if update, ok := processPre.update(); ok {
		if err := p.ConfigurePreprocessing(update); err != nil {
			return err
		}
	}

	res := p.Run(cmd.Context(), args[0])
	if res.OK() && processOutput != "" {
		if err := os.WriteFile(processOutput, res.Success.Audio, 0o644); err != nil {
			return fmt.Errorf("write audio: %w", err)
		}
	}

	if processJSON {
		reply := protocol.ReplyFromResult("", res, time.Now())
		reply.AudioOutput = nil
		if err := printJSON(reply); err != nil {
			return err
		}
	} else {
		printResult(cmd.OutOrStdout(), res)
	}
	if !res.OK() {
		return fmt.Errorf("pipeline failed at %s", res.Failure.Stage)
	}
	return nil
}

func printResult(w io.Writer, res pipeline.Result) {
	if !res.OK() {
		fmt.Fprintf(w, "error:      %s\n", res.Failure.Error)
		return
	}
	s := res.Success
	fmt.Fprintf(w, "transcript: %s\n", s.Transcript)
	fmt.Fprintf(w, "response:   %s\n", s.ResponseText)
	fmt.Fprintf(w, "audio:      %d bytes (%s)\n", len(s.Audio), s.AudioFormat)
	fmt.Fprintf(w, "elapsed:    %.2fs\n", s.Elapsed.Seconds())
	if s.Intent != nil {
		fmt.Fprintf(w, "intent:     %s %s %q [%s] confidence %.1f\n",
			s.Intent.Date, s.Intent.Time, s.Intent.Title, s.Intent.Category, s.Intent.Confidence)
	}
}

func jsonEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc
}
