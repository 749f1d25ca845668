package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/fmueller/voxscribe/internal/transcribe"
	"github.com/fmueller/voxscribe/internal/whisper"
)

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, transcribe.ErrNoAudio):
		return http.StatusBadRequest, "no_audio"
	case errors.Is(err, whisper.ErrModelLoad):
		return http.StatusUnprocessableEntity, "model_load_failed"
	case errors.Is(err, whisper.ErrEngineUnavailable):
		return http.StatusServiceUnavailable, "engine_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "transcription_failed"
	}
}

func httpErrorCode(status int) string {
	switch status {
	case http.StatusRequestEntityTooLarge:
		return "body_too_large"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusBadRequest:
		return "invalid_request"
	default:
		if status >= http.StatusInternalServerError {
			return "internal_error"
		}
		return "http_error"
	}
}
