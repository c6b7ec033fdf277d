package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/icco/abcd/internal/audio"
	"github.com/icco/abcd/internal/faults"
	"github.com/icco/abcd/internal/tempo"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Print the detected tempo and first beat of a track",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	b, err := decodeFile(args[0])
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "File:       %s\n", args[0])
	fmt.Fprintf(w, "Duration:   %.2f s (%d Hz, %d ch)\n", b.Duration(), b.SampleRate, b.NumChannels())

	raw, err := tempo.Detect(b)
	if err != nil {
		fmt.Fprintf(w, "Tempo:      %.0f BPM (fallback: %s)\n", tempo.FallbackBPM, faults.Describe(err))
	} else {
		fmt.Fprintf(w, "Raw tempo:  %.2f BPM\n", raw)
		fmt.Fprintf(w, "Tempo:      %.2f BPM\n", tempo.Canonicalize(raw))
	}
	fmt.Fprintf(w, "First beat: %.3f s\n", tempo.Anchor(b))
	return nil
}

func decodeFile(path string) (*audio.Buffer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	b, err := audio.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %s", path, faults.Describe(err))
	}
	return b, nil
}
