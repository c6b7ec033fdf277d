package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/icco/abcd/internal/audio"
	"github.com/icco/abcd/internal/config"
	"github.com/icco/abcd/internal/logging"
	"github.com/icco/abcd/internal/metronome"
	"github.com/icco/abcd/internal/practice"
	"github.com/icco/abcd/internal/store"
	"github.com/icco/abcd/internal/tui"
)

var (
	sampleRate  int
	volume      float64
	clickVolume float64
	headless    bool
	metroOn     bool
	intervalMs  int
	lookaheadMs int
	clickHz     float64
	clickWave   string
	dbPath      string
	noStore     bool
)

var practiceCmd = &cobra.Command{
	Use:   "practice <file>",
	Short: "Practice a track through the ABCD phases",
	Long: `Load a WAV or MP3 file and open the interactive practice screen.

Settings for each track (loop markers, tempo corrections, phase plan and pitch)
are saved automatically and restored the next time the same file is opened.`,
	Args: cobra.ExactArgs(1),
	RunE: runPractice,
}

func init() {
	f := practiceCmd.Flags()
	f.IntVar(&sampleRate, "sample-rate", defaultSampleRate, "Output sample rate in Hz")
	f.Float64Var(&volume, "volume", defaultVolume, "Track volume (0-1)")
	f.Float64Var(&clickVolume, "click-volume", defaultClickVolume, "Metronome volume (0-1)")
	f.BoolVar(&headless, "headless", false, "Render without an audio device")
	f.BoolVar(&metroOn, "metronome", true, "Enable the metronome")
	f.IntVar(&intervalMs, "interval-ms", int(metronome.DefaultInterval.Milliseconds()), "Metronome wake-up interval")
	f.IntVar(&lookaheadMs, "lookahead-ms", int(metronome.DefaultLookahead.Milliseconds()), "Metronome lookahead")
	f.Float64Var(&clickHz, "click-hz", defaultClickHz, "Click tone frequency")
	f.StringVar(&clickWave, "click-wave", "sine", "Click waveform (sine, square, triangle)")
	f.StringVar(&dbPath, "db", config.DefaultDBPath(), "Path to the settings database")
	f.BoolVar(&noStore, "no-store", false, "Do not load or save track settings")
	addPhaseFlags(practiceCmd)
	rootCmd.AddCommand(practiceCmd)
}

func applyPracticeConfig(cmd *cobra.Command) {
	a := fileCfg.Audio
	applyIntConfig(cmd, "sample-rate", &sampleRate, a.SampleRate)
	applyFloatConfig(cmd, "volume", &volume, a.Volume)
	applyFloatConfig(cmd, "click-volume", &clickVolume, a.ClickVolume)
	applyBoolConfig(cmd, "headless", &headless, a.Headless)
	m := fileCfg.Metronome
	applyBoolConfig(cmd, "metronome", &metroOn, m.Enabled)
	applyIntConfig(cmd, "interval-ms", &intervalMs, m.IntervalMs)
	applyIntConfig(cmd, "lookahead-ms", &lookaheadMs, m.LookaheadMs)
	applyFloatConfig(cmd, "click-hz", &clickHz, m.ClickHz)
	applyStringConfig(cmd, "db", &dbPath, fileCfg.Store.Path)
	applyPhaseConfig(cmd)
}

func runPractice(cmd *cobra.Command, args []string) error {
	applyPracticeConfig(cmd)
	path := args[0]
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	// The TUI owns the terminal, so logs go to a file.
	logFile, err := logging.SetupFile(config.DefaultLogPath(), logLevel)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()
	log := logging.For("cmd")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	mixer := audio.NewMixer(sampleRate)
	mixer.SetClickTone(audio.ParseWaveType(clickWave), clickHz)
	out, err := audio.Open(ctx, mixer, headless)
	var metro practice.Metronome
	if err != nil {
		log.WithError(err).Warn("metronome disabled")
	} else {
		sched := metronome.New(mixer,
			metronome.WithInterval(time.Duration(intervalMs)*time.Millisecond),
			metronome.WithLookahead(time.Duration(lookaheadMs)*time.Millisecond),
		)
		go sched.Run(ctx)
		metro = sched
	}
	defer func() { _ = out.Close() }()

	engine := practice.New(mixer, practice.Options{
		Metronome:        metro,
		Cues:             mixer,
		Phases:           phasesFromFlags(),
		Volume:           volume,
		ClickVolume:      clickVolume,
		MetronomeEnabled: metroOn,
	})
	mixer.OnEnded(engine.LoopBoundaryReached)

	var st *store.Store
	if !noStore {
		st, err = store.Open(dbPath)
		if err != nil {
			log.WithError(err).Warn("settings store unavailable")
		} else {
			defer func() { _ = st.Close() }()
			saver := store.NewAutosaver(st, store.DefaultSaveDelay, nil)
			defer saver.Close()
			engine.Subscribe(saver.Handle)
		}
	}

	defer engine.Close()

	id := store.TrackID(raw)
	if err := engine.LoadTrack(id, filepath.Base(path), raw); err != nil {
		return err
	}
	if st != nil {
		saved, ok, err := st.LoadTrack(ctx, id)
		switch {
		case err != nil:
			log.WithError(err).Warn("failed to load saved settings")
		case ok:
			engine.Restore(saved.Settings())
		}
	}

	go engine.Run(ctx)

	p := tea.NewProgram(tui.New(engine), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running program: %w", err)
	}
	return nil
}
