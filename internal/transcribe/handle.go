package transcribe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fmueller/voxscribe/internal/whisper"
)

// Handle keeps one model loaded for repeated transcriptions. Calls on a handle are serialized.
// Close must be called exactly once the handle is no longer needed; WithHandle does this.
type Handle struct {
	t         *Transcriber
	worker    whisper.Worker
	model     string
	modelPath string

	// mu is held for the duration of every worker call and by Close.
	mu     sync.Mutex
	closed atomic.Bool
}

// Load resolves the model identifier and loads it into a fresh worker. An empty identifier
// loads the default model.
func (t *Transcriber) Load(ctx context.Context, model string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if model == "" {
		model = t.cfg.Defaults.Model
	}
	modelPath, err := t.ModelPath(model)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	worker := t.engine.NewWorker()
	if err := worker.Initialize(modelPath); err != nil {
		_ = worker.Close()
		return nil, err
	}
	t.logger.Debug("model loaded",
		zap.String("engine", t.engine.Name()),
		zap.String("model", modelPath),
		zap.Duration("elapsed", time.Since(started)),
	)

	return &Handle{t: t, worker: worker, model: model, modelPath: modelPath}, nil
}

// WithHandle loads model, passes the handle to fn and closes it on every exit path. A close
// failure is joined with the error fn returned.
func (t *Transcriber) WithHandle(ctx context.Context, model string, fn func(*Handle) error) (err error) {
	h, err := t.Load(ctx, model)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := h.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()
	return fn(h)
}

// ModelPath is the absolute path of the loaded model.
func (h *Handle) ModelPath() string { return h.modelPath }

// Transcribe runs a segment transcription against the loaded model. The request's Model field
// is ignored; a handle never reloads.
func (h *Handle) Transcribe(ctx context.Context, req *Request) ([]Segment, error) {
	if h.closed.Load() {
		return nil, ErrHandleClosed
	}

	opts := h.t.cfg.Defaults.Merge(req)
	if req != nil && req.Model != "" && whisper.ModelFileName(req.Model) != whisper.ModelFileName(h.model) {
		h.t.logger.Debug("request model ignored by loaded handle",
			zap.String("requested", req.Model),
			zap.String("loaded", h.modelPath),
		)
	}

	params, err := h.t.audioParams(opts, h.modelPath, req)
	if err != nil {
		return nil, err
	}
	if h.t.gated(params) {
		return []Segment{}, nil
	}

	raw, err := await(ctx, func(ctx context.Context) ([]whisper.RawSegment, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closed.Load() {
			return nil, ErrHandleClosed
		}
		return h.worker.Transcribe(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	return convertSegments(raw)
}

// Close releases the worker after any in-flight call finishes. Calling Close again is a no-op.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed.Swap(true) {
		return nil
	}

	err := h.worker.Close()
	h.t.logger.Debug("model released", zap.String("model", h.modelPath), zap.Error(err))
	return err
}

func (h *Handle) Closed() bool { return h.closed.Load() }
