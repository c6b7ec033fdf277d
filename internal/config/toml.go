package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Audio     AudioConfig     `toml:"audio"`
	Metronome MetronomeConfig `toml:"metronome"`
	Practice  PracticeConfig  `toml:"practice"`
	Store     StoreConfig     `toml:"store"`
	Log       LogConfig       `toml:"log"`
}

// AudioConfig maps output device settings.
type AudioConfig struct {
	SampleRate  *int     `toml:"sample-rate"`
	Volume      *float64 `toml:"volume"`
	ClickVolume *float64 `toml:"click-volume"`
	Headless    *bool    `toml:"headless"`
}

// MetronomeConfig maps scheduler settings.
type MetronomeConfig struct {
	Enabled     *bool    `toml:"enabled"`
	IntervalMs  *int     `toml:"interval-ms"`
	LookaheadMs *int     `toml:"lookahead-ms"`
	ClickHz     *float64 `toml:"click-hz"`
}

// PracticeConfig maps the default phase plan.
type PracticeConfig struct {
	RepsA  *int `toml:"reps-a"`
	RepsB  *int `toml:"reps-b"`
	RepsC  *int `toml:"reps-c"`
	RepsD  *int `toml:"reps-d"`
	SpeedA *int `toml:"speed-a"`
	SpeedB *int `toml:"speed-b"`
	SpeedC *int `toml:"speed-c"`
}

// StoreConfig maps persistence settings.
type StoreConfig struct {
	Path *string `toml:"path"`
}

// LogConfig maps logging settings.
type LogConfig struct {
	Level *string `toml:"level"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
