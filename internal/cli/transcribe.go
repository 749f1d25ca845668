package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fmueller/voxscribe/internal/audio"
	"github.com/fmueller/voxscribe/internal/transcribe"
	"github.com/fmueller/voxscribe/internal/whisper"
)

type transcribeOptions struct {
	confidence bool
	asJSON     bool
	repeat     int
}

func newTranscribeCmd(app *appState) *cobra.Command {
	var opts transcribeOptions

	cmd := &cobra.Command{
		Use:   "transcribe [audio.wav]",
		Short: "Transcribe a WAV file, or the bundled sample with --bundled-sample",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.repeat < 1 {
				return errors.New("--repeat must be at least 1")
			}
			if opts.repeat > 1 && opts.confidence {
				return errors.New("--repeat cannot be combined with --confidence")
			}

			req := &transcribe.Request{}
			if len(args) == 1 {
				samples, err := loadAudio(args[0])
				if err != nil {
					return err
				}
				req.AudioSamples = samples
			} else if !app.cfg.FallbackSample {
				return errors.New("no audio file given; pass a WAV file or use --bundled-sample")
			}

			tr, err := app.newTranscriber()
			if err != nil {
				return err
			}
			return app.runTranscription(cmd.Context(), cmd.OutOrStdout(), tr, req, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.confidence, "confidence", false, "Print per-token confidence instead of segments")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print results as JSON")
	cmd.Flags().IntVar(&opts.repeat, "repeat", 1, "Transcribe the input this many times with one loaded model")
	bindFacadeFlags(cmd)
	return cmd
}

func loadAudio(path string) ([]float32, error) {
	path = filepath.Clean(path)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audio file not found: %w", err)
	}
	return audio.DecodeWAVFile(path, whisper.SampleRate)
}

func (a *appState) runTranscription(ctx context.Context, out io.Writer, tr *transcribe.Transcriber, req *transcribe.Request, opts transcribeOptions) error {
	logger := a.log().With(zap.String("engine", tr.EngineName()), zap.Int("samples", len(req.AudioSamples)))
	logger.Info("transcribing...")

	progress := startSpinner(a.progressEnabled(), "Transcribing")
	defer progress.Stop()
	started := time.Now()

	if opts.confidence {
		callCtx, cancel := a.callContext(ctx)
		defer cancel()

		tokens, err := tr.TranscribeWithConfidence(callCtx, req)
		progress.Stop()
		if err != nil {
			logger.Warn("transcription failed", since(started), zap.Error(err))
			return err
		}
		logger.Info("transcription finished", since(started), zap.Int("tokens", len(tokens)))
		return writeTokens(out, tokens, opts.asJSON)
	}

	if opts.repeat == 1 {
		callCtx, cancel := a.callContext(ctx)
		defer cancel()

		segments, err := tr.Transcribe(callCtx, req)
		progress.Stop()
		if err != nil {
			logger.Warn("transcription failed", since(started), zap.Error(err))
			return err
		}
		logger.Info("transcription finished", since(started), zap.Int("segments", len(segments)))
		return a.printSegments(out, segments, opts.asJSON)
	}

	return tr.WithHandle(ctx, "", func(h *transcribe.Handle) error {
		logger.Debug("model loaded", zap.String("model", h.ModelPath()), since(started))
		for run := 1; run <= opts.repeat; run++ {
			progress.Describe(fmt.Sprintf("Transcribing (%d/%d)", run, opts.repeat))

			callCtx, cancel := a.callContext(ctx)
			segments, err := h.Transcribe(callCtx, req)
			cancel()
			if err != nil {
				logger.Warn("transcription failed", zap.Int("run", run), since(started), zap.Error(err))
				return err
			}
			logger.Info("transcription finished", zap.Int("run", run), since(started), zap.Int("segments", len(segments)))
			if err := a.printSegments(out, segments, opts.asJSON); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *appState) printSegments(out io.Writer, segments []transcribe.Segment, asJSON bool) error {
	if isBlankTranscript(segments) {
		a.log().Warn(noSpeechHint())
	}
	return writeSegments(out, segments, asJSON)
}
