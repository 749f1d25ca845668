package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/fmueller/voxscribe/internal/transcribe"
	"github.com/fmueller/voxscribe/internal/whisper"
)

const (
	DefaultListenAddr           = "127.0.0.1:8089"
	DefaultSilenceThresholdDBFS = -65.0
	DefaultLogLevel             = "info"
)

// Config is the merged runtime configuration shared by every command. Empty directory
// fields mean the platform defaults.
type Config struct {
	Engine      string `yaml:"engine"`
	WhisperPath string `yaml:"whisper_path"`
	Threads     int    `yaml:"threads"`

	Language string `yaml:"language"`
	Model    string `yaml:"model"`

	ModelsDir  string `yaml:"models_dir"`
	SamplesDir string `yaml:"samples_dir"`

	FallbackSample       bool    `yaml:"fallback_sample"`
	SilenceGate          bool    `yaml:"silence_gate"`
	SilenceThresholdDBFS float64 `yaml:"silence_threshold_dbfs"`
	DropSpecialTokens    bool    `yaml:"drop_special_tokens"`

	Timeout    time.Duration `yaml:"timeout"`
	ListenAddr string        `yaml:"listen_addr"`
	LogLevel   string        `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Engine:               whisper.KindAuto,
		Language:             transcribe.DefaultLanguage,
		Model:                transcribe.DefaultModel,
		SilenceThresholdDBFS: DefaultSilenceThresholdDBFS,
		ListenAddr:           DefaultListenAddr,
		LogLevel:             DefaultLogLevel,
	}
}

// Validate fills empty fields with defaults and rejects values no command can use.
func (c *Config) Validate() error {
	defaults := Default()
	if strings.TrimSpace(c.Engine) == "" {
		c.Engine = defaults.Engine
	}
	c.Engine = strings.ToLower(strings.TrimSpace(c.Engine))
	if c.Language == "" {
		c.Language = defaults.Language
	}
	if c.Model == "" {
		c.Model = defaults.Model
	}
	if c.ListenAddr == "" {
		c.ListenAddr = defaults.ListenAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}

	if !slices.Contains(whisper.EngineKinds, c.Engine) {
		return fmt.Errorf("config: engine must be one of %s, got %q", strings.Join(whisper.EngineKinds, ", "), c.Engine)
	}
	if c.Threads < 0 {
		return fmt.Errorf("config: threads must be >= 0, got %d", c.Threads)
	}
	if c.SilenceThresholdDBFS > 0 {
		return fmt.Errorf("config: silence threshold must be <= 0 dBFS, got %g", c.SilenceThresholdDBFS)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: timeout must be >= 0, got %s", c.Timeout)
	}
	return nil
}

// TranscriberConfig maps the settings onto the facade configuration.
func (c Config) TranscriberConfig(modelsDir, samplesDir string) transcribe.Config {
	return transcribe.Config{
		Defaults:             transcribe.Options{Language: c.Language, Model: c.Model},
		ModelsDir:            modelsDir,
		SamplesDir:           samplesDir,
		AllowFallbackSample:  c.FallbackSample,
		SilenceGate:          c.SilenceGate,
		SilenceThresholdDBFS: c.SilenceThresholdDBFS,
		DropSpecialTokens:    c.DropSpecialTokens,
	}
}
