package whisper

import (
	"context"
	"errors"
	"fmt"
)

// SampleRate is the PCM sample rate every engine expects.
const SampleRate = 16000

var (
	ErrModelLoad         = errors.New("model load failed")
	ErrEngineUnavailable = errors.New("whisper engine unavailable")
	ErrWorkerClosed      = errors.New("whisper worker is closed")
)

// ModelLoadError reports a model file that is missing, unreadable or rejected by the engine.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("load model %s", e.Path)
	}
	return fmt.Sprintf("load model %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

func (e *ModelLoadError) Is(target error) bool { return target == ErrModelLoad }

// Params is the normalized parameter record handed to an engine.
// FallbackPath is only read when AudioData is empty.
type Params struct {
	Language     string
	ModelPath    string
	AudioData    []float32
	FallbackPath string
}

func (p Params) HasAudio() bool { return len(p.AudioData) > 0 }

// RawSegment is a time-aligned segment as the engine reports it: start and end in
// milliseconds, all fields in their textual engine form.
type RawSegment struct {
	Start string
	End   string
	Text  string
}

// RawToken is a decoded token with its probability in textual engine form.
type RawToken struct {
	Text       string
	Confidence string
}

// Engine is the port the transcription facade calls into.
type Engine interface {
	RunSegmentInference(ctx context.Context, params Params) ([]RawSegment, error)
	RunConfidenceInference(ctx context.Context, params Params) ([]RawToken, error)
	NewWorker() Worker
	Name() string
}

// Worker keeps one model loaded across calls. A worker is not safe for concurrent use.
type Worker interface {
	Initialize(modelPath string) error
	Transcribe(ctx context.Context, params Params) ([]RawSegment, error)
	Close() error
}
