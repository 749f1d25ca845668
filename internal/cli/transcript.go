package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fmueller/voxscribe/internal/transcribe"
)

const blankAudioToken = "[BLANK_AUDIO]"

func isBlankTranscript(segments []transcribe.Segment) bool {
	for _, segment := range segments {
		text := strings.TrimSpace(segment.Text)
		if text != "" && !strings.EqualFold(text, blankAudioToken) {
			return false
		}
	}
	return true
}

func noSpeechHint() string {
	return "No speech detected. Check that the input is 16 kHz speech and not silence, then try again."
}

// formatTimestamp renders milliseconds as hh:mm:ss.mmm. Negative values are printed with a sign.
func formatTimestamp(ms int64) string {
	sign := ""
	if ms < 0 {
		sign = "-"
		ms = -ms
	}
	hours := ms / 3_600_000
	minutes := ms / 60_000 % 60
	seconds := ms / 1000 % 60
	return fmt.Sprintf("%s%02d:%02d:%02d.%03d", sign, hours, minutes, seconds, ms%1000)
}

func writeSegments(w io.Writer, segments []transcribe.Segment, asJSON bool) error {
	if asJSON {
		return writeJSON(w, segments)
	}
	for _, segment := range segments {
		if _, err := fmt.Fprintf(w, "[%s --> %s]  %s\n", formatTimestamp(segment.From), formatTimestamp(segment.To), segment.Text); err != nil {
			return err
		}
	}
	return nil
}

func writeTokens(w io.Writer, tokens []transcribe.TokenConfidence, asJSON bool) error {
	if asJSON {
		return writeJSON(w, tokens)
	}
	for _, token := range tokens {
		if _, err := fmt.Fprintf(w, "%.6f\t%s\n", token.Confidence, token.Token); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
