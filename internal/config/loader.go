package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix = "VOXSCRIBE_"
	// ConfigFileEnv names a YAML config file when --config is not given.
	ConfigFileEnv  = envPrefix + "CONFIG"
	DefaultEnvFile = ".env"
)

// Loader merges configuration layers: defaults, then the .env file, then the YAML file,
// then the process environment. Tests replace Lookup and ReadFile.
type Loader struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)

	// EnvFile is read when present; a missing file is not an error.
	EnvFile string
	// ConfigFile must exist when set. Empty falls back to VOXSCRIBE_CONFIG.
	ConfigFile string
}

func (l Loader) Load() (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	if l.ReadFile == nil {
		l.ReadFile = os.ReadFile
	}

	cfg := Default()

	dotenv, err := l.readEnvFile()
	if err != nil {
		return Config{}, err
	}
	fromDotenv := func(key string) (string, bool) {
		value, ok := dotenv[key]
		return value, ok
	}
	if err := applyEnv(fromDotenv, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", l.EnvFile, err)
	}

	path := strings.TrimSpace(l.ConfigFile)
	if path == "" {
		path = lookupFirst(ConfigFileEnv, l.Lookup, fromDotenv)
	}
	if path != "" {
		if err := l.applyFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(l.Lookup, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l Loader) readEnvFile() (map[string]string, error) {
	if strings.TrimSpace(l.EnvFile) == "" {
		return nil, nil
	}

	content, err := l.ReadFile(l.EnvFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", l.EnvFile, err)
	}

	values, err := godotenv.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", l.EnvFile, err)
	}
	return values, nil
}

func (l Loader) applyFile(path string, cfg *Config) error {
	content, err := l.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}

func applyEnv(lookup func(string) (string, bool), cfg *Config) error {
	overrideString(lookup, envPrefix+"ENGINE", &cfg.Engine)
	overrideString(lookup, envPrefix+"WHISPER_PATH", &cfg.WhisperPath)
	overrideString(lookup, envPrefix+"LANGUAGE", &cfg.Language)
	overrideString(lookup, envPrefix+"MODEL", &cfg.Model)
	overrideString(lookup, envPrefix+"MODELS_DIR", &cfg.ModelsDir)
	overrideString(lookup, envPrefix+"SAMPLES_DIR", &cfg.SamplesDir)
	overrideString(lookup, envPrefix+"LISTEN_ADDR", &cfg.ListenAddr)
	overrideString(lookup, envPrefix+"LOG_LEVEL", &cfg.LogLevel)

	return errors.Join(
		overrideParsed(lookup, envPrefix+"THREADS", &cfg.Threads, strconv.Atoi),
		overrideParsed(lookup, envPrefix+"FALLBACK_SAMPLE", &cfg.FallbackSample, strconv.ParseBool),
		overrideParsed(lookup, envPrefix+"SILENCE_GATE", &cfg.SilenceGate, strconv.ParseBool),
		overrideParsed(lookup, envPrefix+"SILENCE_THRESHOLD_DBFS", &cfg.SilenceThresholdDBFS, parseFloat),
		overrideParsed(lookup, envPrefix+"DROP_SPECIAL_TOKENS", &cfg.DropSpecialTokens, strconv.ParseBool),
		overrideParsed(lookup, envPrefix+"TIMEOUT", &cfg.Timeout, time.ParseDuration),
	)
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideParsed[T any](lookup func(string) (string, bool), key string, target *T, parse func(string) (T, error)) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := parse(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*target = parsed
	return nil
}

func parseFloat(value string) (float64, error) {
	return strconv.ParseFloat(value, 64)
}

func lookupFirst(key string, lookups ...func(string) (string, bool)) string {
	for _, lookup := range lookups {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
