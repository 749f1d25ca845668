//go:build !whisper_cpp

package whisper

import (
	"context"

	"go.uber.org/zap"
)

// NativeAvailable reports whether the whisper.cpp bindings are compiled in.
func NativeAvailable() bool { return false }

// NativeEngine is a placeholder when the binary is built without the whisper_cpp tag.
type NativeEngine struct{}

// NewNativeEngine fails unless the binary is built with -tags whisper_cpp.
func NewNativeEngine(int, *zap.Logger) (*NativeEngine, error) {
	return nil, ErrEngineUnavailable
}

func (e *NativeEngine) Name() string { return "native" }

func (e *NativeEngine) RunSegmentInference(context.Context, Params) ([]RawSegment, error) {
	return nil, ErrEngineUnavailable
}

func (e *NativeEngine) RunConfidenceInference(context.Context, Params) ([]RawToken, error) {
	return nil, ErrEngineUnavailable
}

func (e *NativeEngine) NewWorker() Worker { return unavailableWorker{} }

type unavailableWorker struct{}

func (unavailableWorker) Initialize(string) error { return ErrEngineUnavailable }

func (unavailableWorker) Transcribe(context.Context, Params) ([]RawSegment, error) {
	return nil, ErrEngineUnavailable
}

func (unavailableWorker) Close() error { return nil }
