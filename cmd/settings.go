package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/icco/abcd/internal/metronome"
	"github.com/icco/abcd/internal/practice"
)

const (
	defaultSampleRate  = 44100
	defaultVolume      = 1.0
	defaultClickVolume = 0.8
	defaultClickHz     = 1000.0
)

// Phase plan flags shared by practice and click.
var (
	repsA, repsB, repsC, repsD int
	speedA, speedB, speedC     int
)

func addPhaseFlags(cmd *cobra.Command) {
	d := practice.DefaultPhases()
	cmd.Flags().IntVar(&repsA, "reps-a", d[practice.PhaseA].Repetitions, "Repetitions in phase A")
	cmd.Flags().IntVar(&repsB, "reps-b", d[practice.PhaseB].Repetitions, "Repetitions in phase B")
	cmd.Flags().IntVar(&repsC, "reps-c", d[practice.PhaseC].Repetitions, "Repetitions in phase C")
	cmd.Flags().IntVar(&repsD, "reps-d", d[practice.PhaseD].Repetitions, "Repetitions in phase D")
	cmd.Flags().IntVar(&speedA, "speed-a", d[practice.PhaseA].SpeedPercent, "Speed of phase A in percent")
	cmd.Flags().IntVar(&speedB, "speed-b", d[practice.PhaseB].SpeedPercent, "Speed of phase B in percent")
	cmd.Flags().IntVar(&speedC, "speed-c", d[practice.PhaseC].SpeedPercent, "Speed of phase C in percent")
}

func applyPhaseConfig(cmd *cobra.Command) {
	p := fileCfg.Practice
	applyIntConfig(cmd, "reps-a", &repsA, p.RepsA)
	applyIntConfig(cmd, "reps-b", &repsB, p.RepsB)
	applyIntConfig(cmd, "reps-c", &repsC, p.RepsC)
	applyIntConfig(cmd, "reps-d", &repsD, p.RepsD)
	applyIntConfig(cmd, "speed-a", &speedA, p.SpeedA)
	applyIntConfig(cmd, "speed-b", &speedB, p.SpeedB)
	applyIntConfig(cmd, "speed-c", &speedC, p.SpeedC)
}

func phasesFromFlags() practice.Phases {
	return practice.Phases{
		{Key: practice.PhaseA, Repetitions: repsA, SpeedPercent: speedA},
		{Key: practice.PhaseB, Repetitions: repsB, SpeedPercent: speedB},
		{Key: practice.PhaseC, Repetitions: repsC, SpeedPercent: speedC},
		{Key: practice.PhaseD, Repetitions: repsD, SpeedPercent: practice.DestinationSpeed},
	}.Normalize()
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyFloatConfig(cmd *cobra.Command, name string, target, value *float64) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target, value *bool) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func defaultConfigTemplate() string {
	d := practice.DefaultPhases()
	return fmt.Sprintf(`# abcd configuration
# Uncomment a value to enable it. CLI flags override config values.

[audio]
# sample-rate = %d        # Output sample rate in Hz
# volume = %.1f             # Track volume (0-1)
# click-volume = %.1f       # Metronome volume (0-1)
# headless = false          # Render without an audio device

[metronome]
# enabled = true
# interval-ms = %d          # Scheduler wake-up interval
# lookahead-ms = %d        # How far ahead clicks are queued
# click-hz = %.0f           # Click tone frequency

[practice]
# reps-a = %d
# reps-b = %d
# reps-c = %d
# reps-d = %d
# speed-a = %d             # Percent of original speed
# speed-b = %d
# speed-c = %d

[store]
# path = "~/.local/share/abcd/abcd.db"

[log]
# level = "warn"
`,
		defaultSampleRate,
		defaultVolume,
		defaultClickVolume,
		metronome.DefaultInterval.Milliseconds(),
		metronome.DefaultLookahead.Milliseconds(),
		defaultClickHz,
		d[practice.PhaseA].Repetitions,
		d[practice.PhaseB].Repetitions,
		d[practice.PhaseC].Repetitions,
		d[practice.PhaseD].Repetitions,
		d[practice.PhaseA].SpeedPercent,
		d[practice.PhaseB].SpeedPercent,
		d[practice.PhaseC].SpeedPercent,
	)
}
