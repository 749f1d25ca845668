package transcribe

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fmueller/voxscribe/internal/audio"
	"github.com/fmueller/voxscribe/internal/whisper"
)

// Config configures a Transcriber. Zero Defaults fields fall back to DefaultOptions.
type Config struct {
	Defaults   Options
	ModelsDir  string
	SamplesDir string

	// AllowFallbackSample transcribes SamplesDir/FallbackSample when a request has no audio.
	AllowFallbackSample bool
	FallbackSample      string

	// SilenceGate skips the engine and returns an empty result for near-silent input.
	SilenceGate          bool
	SilenceThresholdDBFS float64

	// DropSpecialTokens removes every bracketed whisper control token in confidence mode,
	// not just the fixed sentinels.
	DropSpecialTokens bool

	Logger *zap.Logger
}

// Transcriber turns requests into engine calls and engine output into typed results.
// It is safe for concurrent use; every stateless call creates its own engine state.
type Transcriber struct {
	engine whisper.Engine
	cfg    Config
	logger *zap.Logger
}

func New(engine whisper.Engine, cfg Config) (*Transcriber, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: no engine configured", whisper.ErrEngineUnavailable)
	}
	if strings.TrimSpace(cfg.ModelsDir) == "" {
		return nil, errors.New("models directory must not be empty")
	}
	if cfg.AllowFallbackSample && strings.TrimSpace(cfg.SamplesDir) == "" {
		return nil, errors.New("samples directory must not be empty when the fallback sample is enabled")
	}
	if strings.TrimSpace(cfg.FallbackSample) == "" {
		cfg.FallbackSample = DefaultFallbackSample
	}
	cfg.Defaults = cfg.Defaults.withDefaults()

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Transcriber{engine: engine, cfg: cfg, logger: logger}, nil
}

// Defaults returns the options merged under every request.
func (t *Transcriber) Defaults() Options { return t.cfg.Defaults }

func (t *Transcriber) EngineName() string { return t.engine.Name() }

// Transcribe runs one stateless segment transcription.
func (t *Transcriber) Transcribe(ctx context.Context, req *Request) ([]Segment, error) {
	opts := t.cfg.Defaults.Merge(req)
	params, err := t.params(opts, req)
	if err != nil {
		return nil, err
	}
	if t.gated(params) {
		return []Segment{}, nil
	}

	started := time.Now()
	raw, err := await(ctx, func(ctx context.Context) ([]whisper.RawSegment, error) {
		return t.engine.RunSegmentInference(ctx, params)
	})
	if err != nil {
		return nil, err
	}

	segments, err := convertSegments(raw)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("transcription finished",
		zap.String("model", params.ModelPath),
		zap.String("language", params.Language),
		zap.Int("segments", len(segments)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return segments, nil
}

// TranscribeWithConfidence runs one stateless call and returns per-token probabilities.
// Whisper's sentinel tokens are never part of the result.
func (t *Transcriber) TranscribeWithConfidence(ctx context.Context, req *Request) ([]TokenConfidence, error) {
	opts := t.cfg.Defaults.Merge(req)
	params, err := t.params(opts, req)
	if err != nil {
		return nil, err
	}
	if t.gated(params) {
		return []TokenConfidence{}, nil
	}

	started := time.Now()
	raw, err := await(ctx, func(ctx context.Context) ([]whisper.RawToken, error) {
		return t.engine.RunConfidenceInference(ctx, params)
	})
	if err != nil {
		return nil, err
	}

	tokens, err := convertTokens(raw, t.cfg.DropSpecialTokens)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("confidence transcription finished",
		zap.String("model", params.ModelPath),
		zap.Int("tokens", len(tokens)),
		zap.Int("dropped", len(raw)-len(tokens)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return tokens, nil
}

// ModelPath resolves a model identifier to the absolute path the engine will load.
func (t *Transcriber) ModelPath(identifier string) (string, error) {
	if strings.TrimSpace(identifier) == "" {
		identifier = t.cfg.Defaults.Model
	}
	return whisper.ResolveModelPath(t.cfg.ModelsDir, identifier)
}

func (t *Transcriber) params(opts Options, req *Request) (whisper.Params, error) {
	modelPath, err := t.ModelPath(opts.Model)
	if err != nil {
		return whisper.Params{}, err
	}
	return t.audioParams(opts, modelPath, req)
}

func (t *Transcriber) audioParams(opts Options, modelPath string, req *Request) (whisper.Params, error) {
	params := whisper.Params{Language: opts.Language, ModelPath: modelPath}
	if req != nil {
		params.AudioData = req.AudioSamples
	}
	if params.HasAudio() {
		return params, nil
	}

	if !t.cfg.AllowFallbackSample {
		return whisper.Params{}, ErrNoAudio
	}
	fallback, err := filepath.Abs(filepath.Join(t.cfg.SamplesDir, t.cfg.FallbackSample))
	if err != nil {
		return whisper.Params{}, fmt.Errorf("resolve fallback sample: %w", err)
	}
	t.logger.Debug("no audio supplied; using fallback sample", zap.String("sample", fallback))
	params.FallbackPath = fallback
	return params, nil
}

func (t *Transcriber) gated(params whisper.Params) bool {
	if !t.cfg.SilenceGate || !params.HasAudio() {
		return false
	}

	silent, metrics := audio.IsSilent(params.AudioData, t.cfg.SilenceThresholdDBFS)
	if silent {
		t.logger.Info("audio below silence threshold; skipping inference",
			zap.Float64("rms_dbfs", metrics.RMSdBFS),
			zap.Float64("peak_dbfs", metrics.PeakdBFS),
			zap.Float64("threshold_dbfs", t.cfg.SilenceThresholdDBFS),
		)
	}
	return silent
}
