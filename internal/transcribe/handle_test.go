package transcribe

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fmueller/voxscribe/internal/whisper"
)

func TestLoadInitializesWorker(t *testing.T) {
	t.Parallel()

	worker := &fakeWorker{}
	engine := &fakeEngine{newWorker: func() whisper.Worker { return worker }}
	var modelsDir string
	tr := newTestTranscriber(t, engine, func(cfg *Config) { modelsDir = cfg.ModelsDir })

	h, err := tr.Load(context.Background(), "tiny")
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	want, err := filepath.Abs(filepath.Join(modelsDir, "ggml-tiny.bin"))
	require.NoError(t, err)
	require.Equal(t, want, worker.initialized)
	require.Equal(t, want, h.ModelPath())
}

func TestLoadDefaultModel(t *testing.T) {
	t.Parallel()

	worker := &fakeWorker{}
	tr := newTestTranscriber(t, &fakeEngine{newWorker: func() whisper.Worker { return worker }}, nil)

	h, err := tr.Load(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	require.Equal(t, DefaultModel, filepath.Base(worker.initialized))
}

func TestLoadFailureReturnsNoHandle(t *testing.T) {
	t.Parallel()

	worker := &fakeWorker{initErr: &whisper.ModelLoadError{Path: "x", Err: errors.New("bad magic")}}
	tr := newTestTranscriber(t, &fakeEngine{newWorker: func() whisper.Worker { return worker }}, nil)

	h, err := tr.Load(context.Background(), "ggml-broken.bin")
	require.ErrorIs(t, err, whisper.ErrModelLoad)
	require.Nil(t, h)
	require.EqualValues(t, 1, worker.closes.Load())
}

func TestLoadWithStubEngineMissingModel(t *testing.T) {
	t.Parallel()

	tr := newTestTranscriber(t, whisper.NewStubEngine(nil), nil)

	_, err := tr.Load(context.Background(), "ggml-missing.bin")
	require.ErrorIs(t, err, whisper.ErrModelLoad)
}

func TestHandleTranscribe(t *testing.T) {
	t.Parallel()

	var seen []whisper.Params
	worker := &fakeWorker{
		transcribe: func(_ context.Context, params whisper.Params) ([]whisper.RawSegment, error) {
			seen = append(seen, params)
			return []whisper.RawSegment{{Start: "0", End: "640", Text: " hi "}}, nil
		},
	}
	tr := newTestTranscriber(t, &fakeEngine{newWorker: func() whisper.Worker { return worker }}, nil)

	h, err := tr.Load(context.Background(), "base.en")
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	for i := 0; i < 3; i++ {
		segments, err := h.Transcribe(context.Background(), &Request{AudioSamples: []float32{0.2}, Language: "de", Model: "large-v3"})
		require.NoError(t, err)
		require.Equal(t, []Segment{{From: 0, To: 640, Text: "hi"}}, segments)
	}

	require.Len(t, seen, 3)
	for _, params := range seen {
		require.Equal(t, "de", params.Language)
		require.Equal(t, h.ModelPath(), params.ModelPath)
	}
}

func TestHandleTranscribeWithoutAudio(t *testing.T) {
	t.Parallel()

	tr := newTestTranscriber(t, &fakeEngine{}, nil)
	h, err := tr.Load(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	_, err = h.Transcribe(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoAudio)
}

func TestHandleUseAfterClose(t *testing.T) {
	t.Parallel()

	worker := &fakeWorker{}
	tr := newTestTranscriber(t, &fakeEngine{newWorker: func() whisper.Worker { return worker }}, nil)

	h, err := tr.Load(context.Background(), "")
	require.NoError(t, err)
	require.False(t, h.Closed())

	require.NoError(t, h.Close())
	require.True(t, h.Closed())

	_, err = h.Transcribe(context.Background(), &Request{AudioSamples: []float32{0}})
	require.ErrorIs(t, err, ErrHandleClosed)
}

func TestHandleCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	worker := &fakeWorker{closeErr: errors.New("release failed")}
	tr := newTestTranscriber(t, &fakeEngine{newWorker: func() whisper.Worker { return worker }}, nil)

	h, err := tr.Load(context.Background(), "")
	require.NoError(t, err)

	require.EqualError(t, h.Close(), "release failed")
	require.NoError(t, h.Close())
	require.EqualValues(t, 1, worker.closes.Load())
}

func TestHandleCloseWaitsForInFlightCall(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	worker := &fakeWorker{
		transcribe: func(context.Context, whisper.Params) ([]whisper.RawSegment, error) {
			close(started)
			<-release
			finished.Store(true)
			return nil, nil
		},
	}
	tr := newTestTranscriber(t, &fakeEngine{newWorker: func() whisper.Worker { return worker }}, nil)

	h, err := tr.Load(context.Background(), "")
	require.NoError(t, err)

	go func() {
		_, _ = h.Transcribe(context.Background(), &Request{AudioSamples: []float32{0}})
	}()
	<-started

	closed := make(chan struct{})
	go func() {
		_ = h.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a call was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after the call finished")
	}
	require.True(t, finished.Load())
	require.EqualValues(t, 1, worker.closes.Load())
}

func TestHandleSerializesCalls(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight atomic.Int32
	worker := &fakeWorker{
		transcribe: func(context.Context, whisper.Params) ([]whisper.RawSegment, error) {
			n := inFlight.Add(1)
			for {
				current := maxInFlight.Load()
				if n <= current || maxInFlight.CompareAndSwap(current, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			return nil, nil
		},
	}
	tr := newTestTranscriber(t, &fakeEngine{newWorker: func() whisper.Worker { return worker }}, nil)

	h, err := tr.Load(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Transcribe(context.Background(), &Request{AudioSamples: []float32{0}})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, maxInFlight.Load())
}

func TestWithHandleClosesOnSuccessAndError(t *testing.T) {
	t.Parallel()

	worker := &fakeWorker{}
	tr := newTestTranscriber(t, &fakeEngine{newWorker: func() whisper.Worker { return worker }}, nil)

	var captured *Handle
	err := tr.WithHandle(context.Background(), "", func(h *Handle) error {
		captured = h
		_, err := h.Transcribe(context.Background(), &Request{AudioSamples: []float32{0}})
		return err
	})
	require.NoError(t, err)
	require.True(t, captured.Closed())

	boom := errors.New("boom")
	err = tr.WithHandle(context.Background(), "", func(*Handle) error { return boom })
	require.ErrorIs(t, err, boom)
	require.EqualValues(t, 2, worker.closes.Load())
}

func TestWithHandleJoinsCloseError(t *testing.T) {
	t.Parallel()

	releaseErr := errors.New("release failed")
	worker := &fakeWorker{closeErr: releaseErr}
	tr := newTestTranscriber(t, &fakeEngine{newWorker: func() whisper.Worker { return worker }}, nil)

	boom := errors.New("boom")
	err := tr.WithHandle(context.Background(), "", func(*Handle) error { return boom })
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, releaseErr)
}

func TestWithHandleClosesOnPanic(t *testing.T) {
	t.Parallel()

	worker := &fakeWorker{}
	tr := newTestTranscriber(t, &fakeEngine{newWorker: func() whisper.Worker { return worker }}, nil)

	require.PanicsWithValue(t, "callback exploded", func() {
		_ = tr.WithHandle(context.Background(), "", func(*Handle) error {
			panic("callback exploded")
		})
	})
	require.EqualValues(t, 1, worker.closes.Load())
}

func TestWithHandleLoadFailureSkipsCallback(t *testing.T) {
	t.Parallel()

	worker := &fakeWorker{initErr: &whisper.ModelLoadError{Path: "x"}}
	tr := newTestTranscriber(t, &fakeEngine{newWorker: func() whisper.Worker { return worker }}, nil)

	called := false
	err := tr.WithHandle(context.Background(), "", func(*Handle) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, whisper.ErrModelLoad)
	require.False(t, called)
}
