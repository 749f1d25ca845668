package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fmueller/voxscribe/internal/audio"
	"github.com/fmueller/voxscribe/internal/platform"
)

// WhisperPathEnv overrides the whisper-cli executable lookup.
const WhisperPathEnv = "VOXSCRIBE_WHISPER_PATH"

// CLIEngine runs the whisper-cli executable once per call and reads its JSON output.
type CLIEngine struct {
	Executable string
	Threads    int
	TempDir    string
	Logger     *zap.Logger
}

func NewCLIEngine(executable string, threads int, logger *zap.Logger) (*CLIEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if override := strings.TrimSpace(executable); override != "" {
		if err := ensureExecutable(override); err != nil {
			return nil, fmt.Errorf("%w: whisper-cli at %s is not executable: %v", ErrEngineUnavailable, override, err)
		}
		return &CLIEngine{Executable: override, Threads: threads, Logger: logger}, nil
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve voxscribe executable path: %w", err)
	}

	path, err := ResolveBundledEnginePath(self)
	if err != nil {
		if onPath, lookErr := exec.LookPath(engineBinaryName()); lookErr == nil {
			return &CLIEngine{Executable: onPath, Threads: threads, Logger: logger}, nil
		}
		return nil, err
	}

	return &CLIEngine{Executable: path, Threads: threads, Logger: logger}, nil
}

func ResolveBundledEnginePath(executable string) (string, error) {
	for _, candidate := range EnginePathCandidates(executable) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: whisper-cli not found near %s; expected at ../libexec/whisper/%s or set %s", ErrEngineUnavailable, executable, engineBinaryName(), WhisperPathEnv)
}

func EnginePathCandidates(executable string) []string {
	binDir := filepath.Dir(executable)
	engineName := engineBinaryName()
	hostTarget := fmt.Sprintf("%s_%s", runtime.GOOS, platform.NormalizeArch(runtime.GOARCH))

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", engineName),
		filepath.Join(binDir, "libexec", "whisper", engineName),
		filepath.Join(binDir, "packaging", "whisper", hostTarget, engineName),
		filepath.Join(binDir, engineName),
	}
}

func (e *CLIEngine) Name() string { return "cli" }

func (e *CLIEngine) RunSegmentInference(ctx context.Context, params Params) ([]RawSegment, error) {
	out, err := e.run(ctx, params)
	if err != nil {
		return nil, err
	}

	segments := make([]RawSegment, 0, len(out.Transcription))
	for _, item := range out.Transcription {
		segments = append(segments, RawSegment{
			Start: strconv.FormatInt(item.Offsets.From, 10),
			End:   strconv.FormatInt(item.Offsets.To, 10),
			Text:  item.Text,
		})
	}
	return segments, nil
}

func (e *CLIEngine) RunConfidenceInference(ctx context.Context, params Params) ([]RawToken, error) {
	out, err := e.run(ctx, params)
	if err != nil {
		return nil, err
	}

	var tokens []RawToken
	for _, item := range out.Transcription {
		for _, tok := range item.Tokens {
			tokens = append(tokens, RawToken{
				Text:       tok.Text,
				Confidence: formatProbability(tok.P),
			})
		}
	}
	return tokens, nil
}

func (e *CLIEngine) NewWorker() Worker {
	return &cliWorker{engine: e}
}

type cliOutput struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text   string `json:"text"`
		Tokens []struct {
			Text string  `json:"text"`
			P    float64 `json:"p"`
		} `json:"tokens"`
	} `json:"transcription"`
}

func (e *CLIEngine) run(ctx context.Context, params Params) (cliOutput, error) {
	if err := checkModelFile(params.ModelPath); err != nil {
		return cliOutput{}, err
	}
	if err := ensureExecutable(e.Executable); err != nil {
		return cliOutput{}, fmt.Errorf("%w: whisper-cli missing or not executable: %v", ErrEngineUnavailable, err)
	}

	tempDir := e.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	outBase := filepath.Join(tempDir, "voxscribe-"+uuid.NewString())
	jsonOut := outBase + ".json"
	defer os.Remove(jsonOut)

	audioPath := params.FallbackPath
	if params.HasAudio() {
		audioPath = outBase + ".wav"
		if err := audio.WriteWAVFile(audioPath, params.AudioData, SampleRate); err != nil {
			return cliOutput{}, fmt.Errorf("write audio buffer: %w", err)
		}
		defer os.Remove(audioPath)
	} else if strings.TrimSpace(audioPath) == "" {
		return cliOutput{}, errors.New("no audio data and no fallback sample")
	}

	args := []string{"-m", params.ModelPath, "-f", audioPath, "-oj", "-ojf", "-of", outBase, "-np"}
	if lang := strings.TrimSpace(params.Language); lang != "" {
		args = append(args, "-l", lang)
	}
	if e.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(e.Threads))
	}

	cmd := exec.CommandContext(ctx, e.Executable, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	e.log().Debug("running whisper-cli", zap.String("engine", e.Executable), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		errText := strings.TrimSpace(stderr.String())
		switch {
		case isModelLoadFailure(errText):
			return cliOutput{}, &ModelLoadError{Path: params.ModelPath, Err: errors.New(lastLine(errText))}
		case isMissingSharedLibraryError(errText):
			return cliOutput{}, fmt.Errorf("%w: whisper-cli at %s is missing shared libraries (%s)", ErrEngineUnavailable, e.Executable, errText)
		case isIllegalInstructionError(errText) || isIllegalInstructionError(err.Error()):
			return cliOutput{}, fmt.Errorf("%w: whisper-cli crashed with an illegal CPU instruction; set %s to a build for this CPU", ErrEngineUnavailable, WhisperPathEnv)
		}
		return cliOutput{}, fmt.Errorf("whisper-cli failed: %w (%s)", err, errText)
	}

	content, err := os.ReadFile(jsonOut)
	if err != nil {
		return cliOutput{}, fmt.Errorf("read whisper-cli output: %w", err)
	}

	var out cliOutput
	if err := json.Unmarshal(content, &out); err != nil {
		return cliOutput{}, fmt.Errorf("decode whisper-cli output: %w", err)
	}
	return out, nil
}

func (e *CLIEngine) log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// cliWorker pins a model path; whisper-cli still reloads it for every call.
type cliWorker struct {
	engine    *CLIEngine
	modelPath string
	closed    bool
}

func (w *cliWorker) Initialize(modelPath string) error {
	if err := checkModelFile(modelPath); err != nil {
		return err
	}
	w.modelPath = modelPath
	return nil
}

func (w *cliWorker) Transcribe(ctx context.Context, params Params) ([]RawSegment, error) {
	if w.closed {
		return nil, ErrWorkerClosed
	}
	params.ModelPath = w.modelPath
	return w.engine.RunSegmentInference(ctx, params)
}

func (w *cliWorker) Close() error {
	w.closed = true
	return nil
}

func formatProbability(p float64) string {
	return strconv.FormatFloat(p, 'f', 6, 64)
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func isModelLoadFailure(stderr string) bool {
	value := strings.ToLower(stderr)
	return strings.Contains(value, "failed to initialize whisper context") ||
		strings.Contains(value, "failed to load model")
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}

	patterns := []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	}

	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}

	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
