//go:build whisper_cpp

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	whisperpkg "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"go.uber.org/zap"

	"github.com/fmueller/voxscribe/internal/audio"
)

// NativeAvailable reports whether the whisper.cpp bindings are compiled in.
func NativeAvailable() bool { return true }

// NativeEngine runs whisper.cpp in process. The stateless calls load the model for every
// request; workers keep one model resident.
type NativeEngine struct {
	threads uint
	logger  *zap.Logger
}

func NewNativeEngine(threads int, logger *zap.Logger) (*NativeEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := &NativeEngine{logger: logger.With(zap.String("engine", "native"))}
	if threads > 0 {
		engine.threads = uint(threads)
	}
	return engine, nil
}

func (e *NativeEngine) Name() string { return "native" }

func (e *NativeEngine) RunSegmentInference(_ context.Context, params Params) ([]RawSegment, error) {
	model, err := loadNativeModel(params.ModelPath)
	if err != nil {
		return nil, err
	}
	defer model.Close()

	segments, err := e.process(model, params)
	if err != nil {
		return nil, err
	}
	return toRawSegments(segments), nil
}

func (e *NativeEngine) RunConfidenceInference(_ context.Context, params Params) ([]RawToken, error) {
	model, err := loadNativeModel(params.ModelPath)
	if err != nil {
		return nil, err
	}
	defer model.Close()

	segments, err := e.process(model, params)
	if err != nil {
		return nil, err
	}

	var tokens []RawToken
	for _, segment := range segments {
		for _, token := range segment.Tokens {
			tokens = append(tokens, RawToken{
				Text:       token.Text,
				Confidence: formatProbability(float64(token.P)),
			})
		}
	}
	return tokens, nil
}

func (e *NativeEngine) NewWorker() Worker {
	return &nativeWorker{engine: e}
}

func (e *NativeEngine) process(model whisperpkg.Model, params Params) ([]whisperpkg.Segment, error) {
	samples := params.AudioData
	if !params.HasAudio() {
		if strings.TrimSpace(params.FallbackPath) == "" {
			return nil, errors.New("no audio data and no fallback sample")
		}
		decoded, err := audio.DecodeWAVFile(params.FallbackPath, SampleRate)
		if err != nil {
			return nil, fmt.Errorf("read fallback sample: %w", err)
		}
		samples = decoded
	}

	wctx, err := model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create whisper context: %w", err)
	}
	if e.threads > 0 {
		wctx.SetThreads(e.threads)
	}
	if lang := strings.TrimSpace(params.Language); lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			return nil, fmt.Errorf("set language %q: %w", lang, err)
		}
	}
	wctx.SetTokenTimestamps(true)

	started := time.Now()
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("process audio: %w", err)
	}

	var segments []whisperpkg.Segment
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read segment: %w", err)
		}
		segments = append(segments, segment)
	}

	e.logger.Debug("whisper.cpp inference finished",
		zap.Int("samples", len(samples)),
		zap.Int("segments", len(segments)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return segments, nil
}

func loadNativeModel(path string) (whisperpkg.Model, error) {
	if err := checkModelFile(path); err != nil {
		return nil, err
	}
	model, err := whisperpkg.New(path)
	if err != nil {
		return nil, &ModelLoadError{Path: path, Err: err}
	}
	return model, nil
}

func toRawSegments(segments []whisperpkg.Segment) []RawSegment {
	out := make([]RawSegment, 0, len(segments))
	for _, segment := range segments {
		out = append(out, RawSegment{
			Start: strconv.FormatInt(segment.Start.Milliseconds(), 10),
			End:   strconv.FormatInt(segment.End.Milliseconds(), 10),
			Text:  segment.Text,
		})
	}
	return out
}

type nativeWorker struct {
	engine *NativeEngine

	mu    sync.Mutex
	model whisperpkg.Model
}

func (w *nativeWorker) Initialize(modelPath string) error {
	model, err := loadNativeModel(modelPath)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model != nil {
		_ = w.model.Close()
	}
	w.model = model
	return nil
}

func (w *nativeWorker) Transcribe(_ context.Context, params Params) ([]RawSegment, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model == nil {
		return nil, ErrWorkerClosed
	}

	segments, err := w.engine.process(w.model, params)
	if err != nil {
		return nil, err
	}
	return toRawSegments(segments), nil
}

func (w *nativeWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model == nil {
		return nil
	}
	err := w.model.Close()
	w.model = nil
	return err
}
