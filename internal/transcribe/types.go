package transcribe

import (
	"errors"
	"strings"

	"github.com/fmueller/voxscribe/internal/whisper"
)

var (
	// ErrNoAudio is returned when a request carries no samples and the fallback sample is disabled.
	ErrNoAudio = errors.New("no audio samples supplied")
	// ErrHandleClosed is returned by Handle.Transcribe after Close.
	ErrHandleClosed = errors.New("transcription handle is closed")
	// ErrMalformedResult wraps engine output that cannot be converted.
	ErrMalformedResult = errors.New("malformed engine result")
)

const (
	DefaultLanguage = "en"
	DefaultModel    = whisper.DefaultModelFile
	// DefaultFallbackSample is looked up under the samples directory.
	DefaultFallbackSample = "jfk.wav"
)

// Request is one transcription call. Empty fields fall back to the transcriber defaults and
// a nil *Request is the same as an empty one. AudioSamples is mono float32 PCM at 16 kHz.
type Request struct {
	AudioSamples []float32 `json:"audioData,omitempty"`
	Language     string    `json:"language,omitempty"`
	Model        string    `json:"model,omitempty"`
}

// Segment is a time-aligned piece of transcript. From and To are milliseconds.
type Segment struct {
	From int64  `json:"from"`
	To   int64  `json:"to"`
	Text string `json:"text"`
}

// TokenConfidence is one decoded token with the probability the engine assigned to it.
type TokenConfidence struct {
	Token      string  `json:"token"`
	Confidence float64 `json:"confidence"`
}

// Options holds per-call defaults. It is a value; Merge never modifies the receiver.
type Options struct {
	Language string
	Model    string
}

func DefaultOptions() Options {
	return Options{Language: DefaultLanguage, Model: DefaultModel}
}

// Merge overlays the non-empty request fields onto o.
func (o Options) Merge(req *Request) Options {
	if req == nil {
		return o
	}
	if lang := strings.TrimSpace(req.Language); lang != "" {
		o.Language = lang
	}
	if model := strings.TrimSpace(req.Model); model != "" {
		o.Model = model
	}
	return o
}

func (o Options) withDefaults() Options {
	return DefaultOptions().Merge(&Request{Language: o.Language, Model: o.Model})
}
