package transcribe

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fmueller/voxscribe/internal/whisper"
)

type fakeEngine struct {
	segments  func(context.Context, whisper.Params) ([]whisper.RawSegment, error)
	tokens    func(context.Context, whisper.Params) ([]whisper.RawToken, error)
	newWorker func() whisper.Worker

	mu    sync.Mutex
	calls []whisper.Params
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) RunSegmentInference(ctx context.Context, params whisper.Params) ([]whisper.RawSegment, error) {
	f.record(params)
	if f.segments == nil {
		return nil, nil
	}
	return f.segments(ctx, params)
}

func (f *fakeEngine) RunConfidenceInference(ctx context.Context, params whisper.Params) ([]whisper.RawToken, error) {
	f.record(params)
	if f.tokens == nil {
		return nil, nil
	}
	return f.tokens(ctx, params)
}

func (f *fakeEngine) NewWorker() whisper.Worker {
	if f.newWorker == nil {
		return &fakeWorker{}
	}
	return f.newWorker()
}

func (f *fakeEngine) record(params whisper.Params) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, params)
}

func (f *fakeEngine) Calls() []whisper.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]whisper.Params(nil), f.calls...)
}

type fakeWorker struct {
	initErr    error
	closeErr   error
	transcribe func(context.Context, whisper.Params) ([]whisper.RawSegment, error)

	initialized string
	closes      atomic.Int32
}

func (w *fakeWorker) Initialize(modelPath string) error {
	if w.initErr != nil {
		return w.initErr
	}
	w.initialized = modelPath
	return nil
}

func (w *fakeWorker) Transcribe(ctx context.Context, params whisper.Params) ([]whisper.RawSegment, error) {
	if w.transcribe == nil {
		return []whisper.RawSegment{{Start: "0", End: "10", Text: " ok "}}, nil
	}
	return w.transcribe(ctx, params)
}

func (w *fakeWorker) Close() error {
	w.closes.Add(1)
	return w.closeErr
}

func newTestTranscriber(t *testing.T, engine whisper.Engine, mutate func(*Config)) *Transcriber {
	t.Helper()

	cfg := Config{
		ModelsDir:  filepath.Join(t.TempDir(), "models"),
		SamplesDir: filepath.Join(t.TempDir(), "samples"),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	tr, err := New(engine, cfg)
	require.NoError(t, err)
	return tr
}

func writeModelFile(t *testing.T, dir, name string) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("ggml"), 0o644))
	return path
}
