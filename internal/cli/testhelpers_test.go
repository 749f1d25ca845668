package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fmueller/voxscribe/internal/audio"
	"github.com/fmueller/voxscribe/internal/whisper"
)

// newTestApp isolates the command from the process environment and any .env in the
// working directory.
func newTestApp(env map[string]string) *appState {
	return &appState{
		lookup: func(key string) (string, bool) {
			value, ok := env[key]
			return value, ok
		},
	}
}

func runCommand(t *testing.T, args []string) (stdout string, stderr string, err error) {
	t.Helper()
	return runAppCommand(t, newTestApp(nil), args)
}

func runAppCommand(t *testing.T, app *appState, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	cmd := newRootCmd(app)
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

// stubDirs creates a models directory holding the default model and an empty samples directory.
func stubDirs(t *testing.T) (modelsDir, samplesDir string) {
	t.Helper()

	root := t.TempDir()
	modelsDir = filepath.Join(root, "models")
	samplesDir = filepath.Join(root, "samples")
	require.NoError(t, os.MkdirAll(modelsDir, 0o755))
	require.NoError(t, os.MkdirAll(samplesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modelsDir, whisper.DefaultModelFile), []byte("ggml"), 0o644))
	return modelsDir, samplesDir
}

func stubArgs(modelsDir, samplesDir string, args ...string) []string {
	return append([]string{"--engine", "stub", "--models-dir", modelsDir, "--samples-dir", samplesDir}, args...)
}

func writeTestWAV(t *testing.T, path string, samples []float32) string {
	t.Helper()
	require.NoError(t, audio.WriteWAVFile(path, samples, whisper.SampleRate))
	return path
}

func tone(n int) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 0.3
		} else {
			samples[i] = -0.3
		}
	}
	return samples
}
