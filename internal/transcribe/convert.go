package transcribe

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fmueller/voxscribe/internal/whisper"
)

// sentinelTokens are control tokens whisper emits that never belong in a transcript.
var sentinelTokens = map[string]struct{}{
	"[_BEG_]":   {},
	"[_TT_550]": {},
}

func convertSegments(raw []whisper.RawSegment) ([]Segment, error) {
	segments := make([]Segment, 0, len(raw))
	for i, item := range raw {
		from, err := parseMillis(item.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %d start: %v", ErrMalformedResult, i, err)
		}
		to, err := parseMillis(item.End)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %d end: %v", ErrMalformedResult, i, err)
		}
		segments = append(segments, Segment{
			From: from,
			To:   to,
			Text: strings.TrimSpace(item.Text),
		})
	}
	return segments, nil
}

func convertTokens(raw []whisper.RawToken, dropSpecial bool) ([]TokenConfidence, error) {
	tokens := make([]TokenConfidence, 0, len(raw))
	for i, item := range raw {
		text := strings.TrimSpace(item.Text)
		if isSentinel(text) || (dropSpecial && isSpecialToken(text)) {
			continue
		}
		confidence, err := strconv.ParseFloat(strings.TrimSpace(item.Confidence), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: token %d confidence: %v", ErrMalformedResult, i, err)
		}
		tokens = append(tokens, TokenConfidence{Token: text, Confidence: confidence})
	}
	return tokens, nil
}

func isSentinel(token string) bool {
	_, ok := sentinelTokens[token]
	return ok
}

// isSpecialToken matches whisper's bracketed control tokens such as [_SOT_] or [_TT_100].
func isSpecialToken(token string) bool {
	return len(token) > 3 && strings.HasPrefix(token, "[_") && strings.HasSuffix(token, "]")
}

// parseMillis reads the leading integer of value: surrounding whitespace and an optional
// sign are accepted, anything after the digits is ignored.
func parseMillis(value string) (int64, error) {
	s := strings.TrimSpace(value)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, fmt.Errorf("no integer in %q", value)
	}

	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, err
	}
	return n, nil
}
