package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/fmueller/voxscribe/internal/config"
	"github.com/fmueller/voxscribe/internal/logging"
	"github.com/fmueller/voxscribe/internal/platform"
	"github.com/fmueller/voxscribe/internal/transcribe"
	"github.com/fmueller/voxscribe/internal/version"
	"github.com/fmueller/voxscribe/internal/whisper"
)

type appState struct {
	configFile string
	envFile    string
	verbose    bool
	jsonLogs   bool
	noProgress bool

	cfg    config.Config
	logger *zap.Logger

	// Replaced in tests.
	lookup   func(string) (string, bool)
	engineFn func(whisper.Options) (whisper.Engine, error)
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&appState{envFile: config.DefaultEnvFile})
}

func newRootCmd(app *appState) *cobra.Command {
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:           "voxscribe",
		Short:         "Transcribe 16 kHz audio with whisper.cpp from the shell or over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.init(cmd.Flags())
		},
	}
	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	flags := cmd.PersistentFlags()
	flags.StringVar(&app.configFile, "config", "", "YAML config file (default $"+config.ConfigFileEnv+")")
	flags.BoolVar(&app.verbose, "verbose", false, "Enable debug logs")
	flags.BoolVar(&app.jsonLogs, "json-logs", false, "Write logs as JSON")
	flags.BoolVar(&app.noProgress, "no-progress", false, "Disable progress indicators")
	flags.String("engine", defaults.Engine, "Whisper engine: auto|native|cli|stub")
	flags.String("whisper-path", "", "Path to the whisper-cli executable (cli engine)")
	flags.Int("threads", 0, "Inference threads; 0 lets the engine decide")
	flags.String("language", defaults.Language, "Default language code (en|de|auto|...)")
	flags.String("model", defaults.Model, "Default model name or ggml file name under the models directory")
	flags.String("models-dir", "", "Directory holding ggml models (default <data dir>/models)")
	flags.String("samples-dir", "", "Directory holding the bundled sample (default <data dir>/samples)")

	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// init loads the layered configuration, applies explicitly set flags on top and builds the logger.
func (a *appState) init(flags *pflag.FlagSet) error {
	cfg, err := config.Loader{Lookup: a.lookup, EnvFile: a.envFile, ConfigFile: a.configFile}.Load()
	if err != nil {
		return err
	}
	if err := applyFlagOverrides(flags, &cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.New(logging.Options{Verbose: a.verbose, JSON: a.jsonLogs, Level: cfg.LogLevel})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	a.logger = logger
	return nil
}

func applyFlagOverrides(flags *pflag.FlagSet, cfg *config.Config) error {
	strs := map[string]*string{
		"engine":       &cfg.Engine,
		"whisper-path": &cfg.WhisperPath,
		"language":     &cfg.Language,
		"model":        &cfg.Model,
		"models-dir":   &cfg.ModelsDir,
		"samples-dir":  &cfg.SamplesDir,
		"addr":         &cfg.ListenAddr,
	}
	for name, target := range strs {
		if flags.Changed(name) {
			value, err := flags.GetString(name)
			if err != nil {
				return err
			}
			*target = value
		}
	}

	bools := map[string]*bool{
		"bundled-sample":      &cfg.FallbackSample,
		"silence-gate":        &cfg.SilenceGate,
		"drop-special-tokens": &cfg.DropSpecialTokens,
	}
	for name, target := range bools {
		if flags.Changed(name) {
			value, err := flags.GetBool(name)
			if err != nil {
				return err
			}
			*target = value
		}
	}

	if flags.Changed("threads") {
		value, err := flags.GetInt("threads")
		if err != nil {
			return err
		}
		cfg.Threads = value
	}
	if flags.Changed("silence-threshold-dbfs") {
		value, err := flags.GetFloat64("silence-threshold-dbfs")
		if err != nil {
			return err
		}
		cfg.SilenceThresholdDBFS = value
	}
	if flags.Changed("timeout") {
		value, err := flags.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = value
	}
	return nil
}

// bindFacadeFlags registers the per-call behaviour flags shared by transcribe and serve.
func bindFacadeFlags(cmd *cobra.Command) {
	defaults := config.Default()
	cmd.Flags().Bool("bundled-sample", false, "Transcribe the bundled jfk.wav sample when no audio is supplied")
	cmd.Flags().Bool("silence-gate", false, "Skip inference for near-silent audio")
	cmd.Flags().Float64("silence-threshold-dbfs", defaults.SilenceThresholdDBFS, "Silence gate threshold in dBFS")
	cmd.Flags().Bool("drop-special-tokens", false, "Drop every [_..._] control token in confidence output")
	cmd.Flags().Duration("timeout", 0, "Give up waiting for a transcription after this long, e.g. 30s")
}

func (a *appState) newTranscriber() (*transcribe.Transcriber, error) {
	dirs, err := platform.ResolveDirs(a.cfg.ModelsDir, a.cfg.SamplesDir)
	if err != nil {
		return nil, err
	}

	engineFn := a.engineFn
	if engineFn == nil {
		engineFn = whisper.NewEngine
	}
	engine, err := engineFn(whisper.Options{
		Kind:        a.cfg.Engine,
		WhisperPath: a.cfg.WhisperPath,
		Threads:     a.cfg.Threads,
		Logger:      a.log(),
	})
	if err != nil {
		return nil, err
	}

	tc := a.cfg.TranscriberConfig(dirs.Models, dirs.Samples)
	tc.Logger = a.log()
	tr, err := transcribe.New(engine, tc)
	if err != nil {
		return nil, err
	}

	a.log().Debug("transcriber ready",
		zap.String("engine", engine.Name()),
		zap.String("models_dir", dirs.Models),
		zap.String("samples_dir", dirs.Samples),
		zap.String("language", tr.Defaults().Language),
		zap.String("model", tr.Defaults().Model),
	)
	return tr, nil
}

// callContext applies the configured timeout. The engine keeps running after the deadline;
// only the wait is abandoned.
func (a *appState) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.cfg.Timeout)
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func since(started time.Time) zap.Field {
	return zap.Duration("elapsed", time.Since(started))
}
