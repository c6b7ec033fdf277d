package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/icco/abcd/internal/loop"
	"github.com/icco/abcd/internal/metronome"
	"github.com/icco/abcd/internal/tempo"
)

var (
	clickOut   string
	clickStart float64
	clickEnd   float64
	clickBPM   float64
)

var clickCmd = &cobra.Command{
	Use:   "click <file>",
	Short: "Export the practice plan for a track as a MIDI click track",
	Long: `Write a Standard MIDI File with the countdown cues and a click on every
beat of every repetition of the practice plan, each phase at its own tempo.
Without --start/--end the whole track is used as the loop.`,
	Args: cobra.ExactArgs(1),
	RunE: runClick,
}

func init() {
	clickCmd.Flags().StringVarP(&clickOut, "out", "o", "click.mid", "Output MIDI path")
	clickCmd.Flags().Float64Var(&clickStart, "start", 0, "Loop start in seconds")
	clickCmd.Flags().Float64Var(&clickEnd, "end", 0, "Loop end in seconds (0 means end of track)")
	clickCmd.Flags().Float64Var(&clickBPM, "bpm", 0, "Override the detected tempo")
	addPhaseFlags(clickCmd)
	rootCmd.AddCommand(clickCmd)
}

func runClick(cmd *cobra.Command, args []string) error {
	applyPhaseConfig(cmd)
	b, err := decodeFile(args[0])
	if err != nil {
		return err
	}
	profile, err := tempo.Analyze(b)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "tempo detection failed, using %.0f BPM\n", profile.Current)
	}
	if clickBPM > 0 {
		profile.Current = clickBPM
	}

	d := b.Duration()
	region := loop.FullTrack(d)
	if cmd.Flags().Changed("start") || cmd.Flags().Changed("end") {
		end := clickEnd
		if end <= 0 {
			end = d
		}
		if err := region.Set(clickStart, end, d); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "loop adjusted to %.2f-%.2f s\n", region.Start, region.End)
		}
	}
	start, end := region.Effective(d)

	plan := metronome.Plan{
		BPM:             profile.Current,
		FirstBeatOffset: profile.FirstBeatOffset,
		LoopStart:       start,
		LoopEnd:         end,
	}
	for _, c := range phasesFromFlags() {
		plan.Phases = append(plan.Phases, metronome.PlanPhase{
			Name:        c.Key.Name(),
			Repetitions: c.Repetitions,
			Rate:        c.Rate(),
		})
	}

	f, err := os.Create(clickOut)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", clickOut, err)
	}
	if err := metronome.WriteClickTrack(f, plan); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", clickOut, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%.1f BPM, loop %.2f-%.2f s)\n", clickOut, profile.Current, start, end)
	return nil
}
