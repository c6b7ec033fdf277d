package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/icco/abcd/internal/audio"
	"github.com/icco/abcd/internal/pitch"
)

var (
	pitchSemitones float64
	pitchOut       string
)

var pitchCmd = &cobra.Command{
	Use:   "pitch <file>",
	Short: "Shift the pitch of a track and write it as WAV",
	Long: `Shift a track by up to 12 semitones either way without changing its speed,
and write the result as a 16-bit PCM WAV file.`,
	Args: cobra.ExactArgs(1),
	RunE: runPitch,
}

func init() {
	pitchCmd.Flags().Float64VarP(&pitchSemitones, "semitones", "s", 0, "Shift in semitones (-12 to 12)")
	pitchCmd.Flags().StringVarP(&pitchOut, "out", "o", "shifted.wav", "Output WAV path")
	rootCmd.AddCommand(pitchCmd)
}

func runPitch(cmd *cobra.Command, args []string) error {
	b, err := decodeFile(args[0])
	if err != nil {
		return err
	}
	semis := pitch.ClampSemitones(pitchSemitones)
	if semis != pitchSemitones {
		fmt.Fprintf(cmd.ErrOrStderr(), "semitones adjusted to %+.0f\n", semis)
	}
	shifted, err := pitch.Process(cmd.Context(), b, semis)
	if err != nil {
		return fmt.Errorf("pitch shift failed: %w", err)
	}

	f, err := os.Create(pitchOut)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", pitchOut, err)
	}
	w := bufio.NewWriter(f)
	if err := audio.EncodeWAV(w, shifted); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", pitchOut, err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", pitchOut, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%+.0f semitones, %.2f s)\n", pitchOut, semis, shifted.Duration())
	return nil
}
