package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fmueller/voxscribe/internal/download"
	"github.com/fmueller/voxscribe/internal/platform"
	"github.com/fmueller/voxscribe/internal/transcribe"
	"github.com/fmueller/voxscribe/internal/whisper"
)

// DefaultSampleURL is the upstream location of the bundled fallback sample.
const DefaultSampleURL = "https://raw.githubusercontent.com/ggml-org/whisper.cpp/master/samples/jfk.wav"

type setupOptions struct {
	url         string
	checksumURL string
	sample      bool
	sampleURL   string
}

func newSetupCmd(app *appState) *cobra.Command {
	var opts setupOptions

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Download and verify speech model assets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dirs, err := platform.ResolveDirs(app.cfg.ModelsDir, app.cfg.SamplesDir)
			if err != nil {
				return err
			}
			fetcher := download.NewFetcher(app.log(), app.progressEnabled())
			out := cmd.OutOrStdout()

			resolved, err := whisper.ResolveModel(app.cfg.Model, dirs.Models)
			if err != nil {
				return err
			}
			if opts.url != "" {
				resolved.URL = opts.url
			}

			expected := resolved.SHA256
			if expected == "" && opts.checksumURL != "" {
				checksum, err := fetcher.ResolveChecksum(cmd.Context(), opts.checksumURL, filepath.Base(resolved.Path))
				if err != nil {
					return fmt.Errorf("resolve checksum for model %s: %w", resolved.Name, err)
				}
				expected = checksum
			}

			if !resolved.NeedsDownload && expected != "" {
				if err := download.VerifyFile(resolved.Path, expected); err != nil {
					app.log().Warn("model checksum verification failed; downloading fresh copy", zap.String("model", resolved.Name), zap.Error(err))
					resolved.NeedsDownload = true
				}
			}

			if resolved.NeedsDownload {
				app.log().Info("downloading model", zap.String("model", resolved.Name), zap.String("path", resolved.Path))
				if err := fetcher.Fetch(cmd.Context(), download.Request{
					URL:         resolved.URL,
					Destination: resolved.Path,
					SHA256:      expected,
				}); err != nil {
					return fmt.Errorf("download model %s: %w", resolved.Name, err)
				}
				fmt.Fprintf(out, "Model %s installed at %s\n", resolved.Name, resolved.Path)
			} else {
				app.log().Info("model already present", zap.String("model", resolved.Name), zap.String("path", resolved.Path))
				fmt.Fprintf(out, "Model %s already present at %s\n", resolved.Name, resolved.Path)
			}

			if !opts.sample {
				return nil
			}
			samplePath := filepath.Join(dirs.Samples, transcribe.DefaultFallbackSample)
			if err := fetcher.Fetch(cmd.Context(), download.Request{URL: opts.sampleURL, Destination: samplePath}); err != nil {
				return fmt.Errorf("download sample: %w", err)
			}
			fmt.Fprintf(out, "Sample installed at %s\n", samplePath)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "Download the model from this URL instead of the registry location")
	cmd.Flags().StringVar(&opts.checksumURL, "checksum-url", "", "Checksum listing used when the model has no pinned SHA-256")
	cmd.Flags().BoolVar(&opts.sample, "sample", false, "Also download the jfk.wav fallback sample")
	cmd.Flags().StringVar(&opts.sampleURL, "sample-url", DefaultSampleURL, "Location of the fallback sample")
	return cmd
}
