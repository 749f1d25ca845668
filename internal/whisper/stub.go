package whisper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fmueller/voxscribe/internal/audio"
)

// stubWindow matches the 30 second window whisper decodes at a time.
const stubWindow = 30 * SampleRate

// StubEngine produces deterministic transcripts without invoking whisper. It still checks the
// model file so load failures behave like a real engine.
type StubEngine struct {
	Logger *zap.Logger
}

func NewStubEngine(logger *zap.Logger) *StubEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubEngine{Logger: logger.With(zap.String("engine", "stub"))}
}

func (e *StubEngine) Name() string { return "stub" }

func (e *StubEngine) RunSegmentInference(_ context.Context, params Params) ([]RawSegment, error) {
	samples, err := e.load(params)
	if err != nil {
		return nil, err
	}
	return stubSegments(samples, params.Language), nil
}

func (e *StubEngine) RunConfidenceInference(_ context.Context, params Params) ([]RawToken, error) {
	samples, err := e.load(params)
	if err != nil {
		return nil, err
	}

	tokens := []RawToken{{Text: "[_BEG_]", Confidence: formatProbability(1)}}
	for _, segment := range stubSegments(samples, params.Language) {
		for _, word := range strings.Fields(segment.Text) {
			tokens = append(tokens, RawToken{Text: " " + word, Confidence: formatProbability(0.42)})
		}
	}
	tokens = append(tokens, RawToken{Text: "[_TT_550]", Confidence: formatProbability(0.01)})
	return tokens, nil
}

func (e *StubEngine) NewWorker() Worker {
	return &stubWorker{engine: e}
}

func (e *StubEngine) load(params Params) ([]float32, error) {
	if err := checkModelFile(params.ModelPath); err != nil {
		return nil, err
	}
	if params.HasAudio() {
		return params.AudioData, nil
	}
	if strings.TrimSpace(params.FallbackPath) == "" {
		return nil, errors.New("no audio data and no fallback sample")
	}

	samples, err := audio.DecodeWAVFile(params.FallbackPath, SampleRate)
	if err != nil {
		return nil, fmt.Errorf("read fallback sample: %w", err)
	}
	e.log().Debug("stub using fallback sample", zap.String("path", params.FallbackPath), zap.Int("samples", len(samples)))
	return samples, nil
}

func (e *StubEngine) log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// stubSegments emits one segment per 30 second window of input.
func stubSegments(samples []float32, language string) []RawSegment {
	if language == "" {
		language = "auto"
	}

	var segments []RawSegment
	for start := 0; start < len(samples); start += stubWindow {
		end := min(start+stubWindow, len(samples))
		segments = append(segments, RawSegment{
			Start: samplesToMillis(start),
			End:   samplesToMillis(end),
			Text:  fmt.Sprintf(" [stub:%s] %d samples ", language, end-start),
		})
	}
	return segments
}

func samplesToMillis(n int) string {
	return strconv.FormatInt(int64(n)*1000/SampleRate, 10)
}

type stubWorker struct {
	engine    *StubEngine
	modelPath string
	closed    bool
}

func (w *stubWorker) Initialize(modelPath string) error {
	if err := checkModelFile(modelPath); err != nil {
		return err
	}
	w.modelPath = modelPath
	return nil
}

func (w *stubWorker) Transcribe(ctx context.Context, params Params) ([]RawSegment, error) {
	if w.closed {
		return nil, ErrWorkerClosed
	}
	params.ModelPath = w.modelPath
	return w.engine.RunSegmentInference(ctx, params)
}

func (w *stubWorker) Close() error {
	w.closed = true
	return nil
}
