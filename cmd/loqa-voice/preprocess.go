package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-voice/internal/audio"
)

// preprocessFlags are the audio cleanup overrides shared by process and
// preprocess.
type preprocessFlags struct {
	strength    float64
	noTrim      bool
	noDenoise   bool
	noNormalize bool
}

func (f *preprocessFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.Float64Var(&f.strength, "strength", -1, "Noise reduction strength in [0,1] (default from config)")
	fs.BoolVar(&f.noTrim, "no-trim", false, "Skip silence trimming")
	fs.BoolVar(&f.noDenoise, "no-denoise", false, "Skip noise reduction")
	fs.BoolVar(&f.noNormalize, "no-normalize", false, "Skip loudness normalization")
}

// update returns the overrides as a partial configuration. It is empty when
// no flag was given.
func (f *preprocessFlags) update() (audio.PreprocessUpdate, bool) {
	var u audio.PreprocessUpdate
	changed := false
	if f.strength >= 0 {
		s := f.strength
		u.NoiseReductionStrength = &s
		changed = true
	}
	if f.noTrim {
		u.RemoveSilence = boolPtr(false)
		changed = true
	}
	if f.noDenoise {
		u.NoiseReduction = boolPtr(false)
		changed = true
	}
	if f.noNormalize {
		u.NormalizeAudio = boolPtr(false)
		changed = true
	}
	return u, changed
}

func boolPtr(v bool) *bool { return &v }

var preprocessOpts preprocessFlags

var preprocessCmd = &cobra.Command{
	Use:   "preprocess <input> <output.wav>",
	Short: "Clean an audio file the way the pipeline does before transcription",
	Args:  cobra.ExactArgs(2),
	RunE:  runPreprocess,
}

func init() {
	preprocessOpts.register(preprocessCmd)
	rootCmd.AddCommand(preprocessCmd)
}

func runPreprocess(cmd *cobra.Command, args []string) error {
	var decoder audio.Decoder = audio.Loader{}
	if cfg.Preprocess.DecoderCommand != "" {
		exec, err := audio.NewExecDecoder(cfg.Preprocess.DecoderCommand)
		if err != nil {
			return err
		}
		decoder = audio.Loader{Fallback: exec}
	}
	pre, err := audio.NewPreprocessor(audio.PreprocessConfigFrom(cfg.Preprocess), decoder, logger)
	if err != nil {
		return err
	}
	if update, ok := preprocessOpts.update(); ok {
		if err := pre.Configure(update); err != nil {
			return err
		}
	}

	out, cleanup, err := pre.Process(cmd.Context(), args[0])
	defer cleanup()
	if err != nil {
		return fmt.Errorf("preprocess %s: %w", args[0], err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[1], data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", args[1], len(data))
	return nil
}
