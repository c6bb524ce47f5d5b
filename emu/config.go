package emu

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/kirsle/configdir"

	"cubecore/emu/log"
	"cubecore/hw"
	"cubecore/hw/timing"
)

type Config struct {
	System SystemConfig `toml:"system"`
	Timing TimingConfig `toml:"timing"`
	Audio  AudioConfig  `toml:"audio"`
	Video  VideoConfig  `toml:"video"`
}

type SystemConfig struct {
	Wii bool `toml:"wii"`
}

type TimingConfig struct {
	Overclock bool    `toml:"overclock"`
	OCFactor  float64 `toml:"oc_factor"`

	// Report events scheduled by host goroutines, which break movies and
	// netplay.
	Deterministic bool `toml:"deterministic"`
}

type AudioConfig struct {
	DisableAudio bool `toml:"disable_audio"`
	SampleRate   int  `toml:"sample_rate"`
}

type VideoConfig struct {
	// Disable the graphics goroutine. Without it the pixel engine never
	// signals draw done.
	DisableGPU bool `toml:"disable_gpu"`
}

const defaultSampleRate = 48000

// DefaultConfig returns the configuration used when there's no config file.
func DefaultConfig() Config {
	return Config{
		Timing: TimingConfig{OCFactor: 1},
		Audio:  AudioConfig{SampleRate: defaultSampleRate},
	}
}

// Check fixes invalid values, falling back to defaults.
func (cfg *Config) Check() {
	if err := timing.CheckOCFactor(cfg.Timing.OCFactor); err != nil {
		log.ModEmu.Warnf("Invalid config: %v, fallback to 1", err)
		cfg.Timing.OCFactor = 1
	}
	switch cfg.Audio.SampleRate {
	case 32000, 44100, 48000, 96000:
	default:
		log.ModEmu.Warnf("Unsupported audio sample rate %d, fallback to %d", cfg.Audio.SampleRate, defaultSampleRate)
		cfg.Audio.SampleRate = defaultSampleRate
	}
}

// HW returns the hardware configuration.
func (cfg *Config) HW() hw.Config {
	return hw.Config{
		Wii:             cfg.System.Wii,
		Overclock:       cfg.Timing.Overclock,
		OCFactor:        cfg.Timing.OCFactor,
		AudioSampleRate: cfg.Audio.SampleRate,
		Deterministic:   cfg.Timing.Deterministic,
	}
}

// ConfigDir returns the cubecore config directory, creating it if needed.
var ConfigDir = sync.OnceValue(func() string {
	dir := configdir.LocalConfig("cubecore")
	if err := configdir.MakePath(dir); err != nil {
		log.ModEmu.Fatalf("failed to create directory %s: %v", dir, err)
	}
	return dir
})

const cfgFilename = "config.toml"

// LoadConfigOrDefault loads the configuration from the cubecore config
// directory, or provides a default one.
func LoadConfigOrDefault() Config {
	cfg, err := LoadConfig(filepath.Join(ConfigDir(), cfgFilename))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.ModEmu.WarnZ("Failed to load config, using defaults").Error("err", err).End()
		}
		return DefaultConfig()
	}
	return cfg
}

// LoadConfig loads the configuration at path. Missing values keep their
// default.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	cfg.Check()
	return cfg, nil
}

// SaveConfig into cubecore config directory.
func SaveConfig(cfg Config) error {
	return WriteConfig(filepath.Join(ConfigDir(), cfgFilename), cfg)
}

func WriteConfig(path string, cfg Config) error {
	buf, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0644)
}
