package whisper

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	KindAuto   = "auto"
	KindNative = "native"
	KindCLI    = "cli"
	KindStub   = "stub"
)

// EngineKinds lists the accepted values for Options.Kind.
var EngineKinds = []string{KindAuto, KindNative, KindCLI, KindStub}

// Options selects and configures an engine. WhisperPath and Threads only apply to the
// engines that use them.
type Options struct {
	Kind        string
	WhisperPath string
	Threads     int
	Logger      *zap.Logger
}

// NewEngine builds the engine named by opts.Kind. Auto prefers the in-process bindings and
// falls back to whisper-cli; when neither is usable the error wraps ErrEngineUnavailable.
func NewEngine(opts Options) (Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	kind := strings.ToLower(strings.TrimSpace(opts.Kind))
	if kind == "" {
		kind = KindAuto
	}

	switch kind {
	case KindStub:
		logger.Warn("using stub whisper engine; transcripts are placeholders")
		return NewStubEngine(logger), nil
	case KindNative:
		engine, err := NewNativeEngine(opts.Threads, logger)
		if err != nil {
			return nil, fmt.Errorf("native engine: %w (rebuild with -tags whisper_cpp)", err)
		}
		return engine, nil
	case KindCLI:
		engine, err := NewCLIEngine(opts.WhisperPath, opts.Threads, logger)
		if err != nil {
			return nil, err
		}
		return engine, nil
	case KindAuto:
		if NativeAvailable() {
			engine, err := NewNativeEngine(opts.Threads, logger)
			if err == nil {
				logger.Debug("selected whisper engine", zap.String("engine", engine.Name()))
				return engine, nil
			}
			logger.Warn("native engine initialisation failed; trying whisper-cli", zap.Error(err))
		}
		engine, err := NewCLIEngine(opts.WhisperPath, opts.Threads, logger)
		if err != nil {
			if !errors.Is(err, ErrEngineUnavailable) {
				err = fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
			}
			return nil, err
		}
		logger.Debug("selected whisper engine", zap.String("engine", engine.Name()), zap.String("path", engine.Executable))
		return engine, nil
	default:
		return nil, fmt.Errorf("unknown engine %q (expected one of %s)", opts.Kind, strings.Join(EngineKinds, ", "))
	}
}
