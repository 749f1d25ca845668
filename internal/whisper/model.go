package whisper

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// DefaultModelFile is the baseline model requested when a call names none.
	DefaultModelFile = "ggml-base.en.bin"
	DefaultModelName = "base.en"
)

// Model is a downloadable registry entry.
type Model struct {
	Name     string
	FileName string
	URL      string
	// SHA256 is empty for models without a pinned upstream checksum.
	SHA256 string
}

// ResolvedModel is a registry model placed in a models directory.
type ResolvedModel struct {
	Name          string
	Path          string
	URL           string
	SHA256        string
	NeedsDownload bool
}

const modelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

var registry = map[string]Model{
	"tiny": {
		Name:     "tiny",
		FileName: "ggml-tiny.bin",
		URL:      modelBaseURL + "ggml-tiny.bin",
		SHA256:   "be07e048e1e599ad46341c8d2a135645097a538221678b7acdd1b1919c6e1b21",
	},
	"tiny.en": {
		Name:     "tiny.en",
		FileName: "ggml-tiny.en.bin",
		URL:      modelBaseURL + "ggml-tiny.en.bin",
	},
	"base": {
		Name:     "base",
		FileName: "ggml-base.bin",
		URL:      modelBaseURL + "ggml-base.bin",
		SHA256:   "60ed5bc3dd14eea856493d334349b405782ddcaf0028d4b5df4088345fba2efe",
	},
	"base.en": {
		Name:     "base.en",
		FileName: "ggml-base.en.bin",
		URL:      modelBaseURL + "ggml-base.en.bin",
	},
	"small": {
		Name:     "small",
		FileName: "ggml-small.bin",
		URL:      modelBaseURL + "ggml-small.bin",
		SHA256:   "1be3a9b2063867b937e64e2ec7483364a79917e157fa98c5d94b5c1fffea987b",
	},
	"small.en": {
		Name:     "small.en",
		FileName: "ggml-small.en.bin",
		URL:      modelBaseURL + "ggml-small.en.bin",
	},
	"medium": {
		Name:     "medium",
		FileName: "ggml-medium.bin",
		URL:      modelBaseURL + "ggml-medium.bin",
		SHA256:   "6c14d5adee5f86394037b4e4e8b59f1673b6cee10e3cf0b11bbdbee79c156208",
	},
	"large-v3": {
		Name:     "large-v3",
		FileName: "ggml-large-v3.bin",
		URL:      modelBaseURL + "ggml-large-v3.bin",
		SHA256:   "64d182b440b98d5203c4f9bd541544d84c605196c4f7b845dfa11fb23594d1e2",
	},
}

func ModelNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupModel finds a registry entry by name or by its ggml file name.
func LookupModel(ref string) (Model, bool) {
	if model, ok := registry[ref]; ok {
		return model, true
	}
	for _, model := range registry {
		if model.FileName == ref {
			return model, true
		}
	}
	return Model{}, false
}

// ModelFileName maps a model identifier to the file expected in the models directory.
// Registry names become their ggml file; anything else is taken as a file name.
func ModelFileName(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return DefaultModelFile
	}
	if model, ok := registry[identifier]; ok {
		return model.FileName
	}
	return identifier
}

// ResolveModelPath joins the identifier under modelsDir and makes it absolute. The join is
// unconditional, so an absolute identifier still lands below modelsDir.
func ResolveModelPath(modelsDir, identifier string) (string, error) {
	if strings.TrimSpace(modelsDir) == "" {
		return "", errors.New("models directory must not be empty")
	}
	path, err := filepath.Abs(filepath.Join(modelsDir, ModelFileName(identifier)))
	if err != nil {
		return "", fmt.Errorf("resolve model path: %w", err)
	}
	return path, nil
}

// ResolveModel looks up a registry model for download and reports whether it is missing.
func ResolveModel(modelRef, modelDir string) (ResolvedModel, error) {
	if strings.TrimSpace(modelRef) == "" {
		modelRef = DefaultModelName
	}

	model, ok := LookupModel(modelRef)
	if !ok {
		return ResolvedModel{}, fmt.Errorf("unknown model %q (known models: %s)", modelRef, strings.Join(ModelNames(), ", "))
	}
	if strings.TrimSpace(modelDir) == "" {
		return ResolvedModel{}, errors.New("model directory must not be empty for named model")
	}

	modelPath := filepath.Join(modelDir, model.FileName)
	_, statErr := os.Stat(modelPath)
	needsDownload := errors.Is(statErr, os.ErrNotExist)
	if statErr != nil && !needsDownload {
		return ResolvedModel{}, fmt.Errorf("stat model path: %w", statErr)
	}

	return ResolvedModel{
		Name:          model.Name,
		Path:          modelPath,
		URL:           model.URL,
		SHA256:        model.SHA256,
		NeedsDownload: needsDownload,
	}, nil
}

// checkModelFile is the load precondition shared by engines that cannot report a
// structured load failure themselves.
func checkModelFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return &ModelLoadError{Path: path, Err: errors.New("model path is required")}
	}
	info, err := os.Stat(path)
	if err != nil {
		return &ModelLoadError{Path: path, Err: err}
	}
	if info.IsDir() {
		return &ModelLoadError{Path: path, Err: fmt.Errorf("%s is a directory", path)}
	}
	if info.Size() == 0 {
		return &ModelLoadError{Path: path, Err: errors.New("model file is empty")}
	}
	return nil
}
