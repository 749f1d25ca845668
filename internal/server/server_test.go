package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fmueller/voxscribe/internal/transcribe"
	"github.com/fmueller/voxscribe/internal/whisper"
)

type fakeTranscriber struct {
	segments func(context.Context, *transcribe.Request) ([]transcribe.Segment, error)
	tokens   func(context.Context, *transcribe.Request) ([]transcribe.TokenConfidence, error)
}

func (f fakeTranscriber) Transcribe(ctx context.Context, req *transcribe.Request) ([]transcribe.Segment, error) {
	return f.segments(ctx, req)
}

func (f fakeTranscriber) TranscribeWithConfidence(ctx context.Context, req *transcribe.Request) ([]transcribe.TokenConfidence, error) {
	return f.tokens(ctx, req)
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()

	rec := doJSON(t, New(fakeTranscriber{}, Options{}).Handler(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestTranscribeEndpoint(t *testing.T) {
	t.Parallel()

	var got *transcribe.Request
	tr := fakeTranscriber{
		segments: func(_ context.Context, req *transcribe.Request) ([]transcribe.Segment, error) {
			got = req
			return []transcribe.Segment{{From: 0, To: 1200, Text: "hello there"}}, nil
		},
	}

	rec := doJSON(t, New(tr, Options{}).Handler(), http.MethodPost, "/v1/transcribe",
		`{"audioData":[0,0.5,-0.25],"language":"de","model":"tiny"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[{"from":0,"to":1200,"text":"hello there"}]`, rec.Body.String())

	require.Equal(t, &transcribe.Request{AudioSamples: []float32{0, 0.5, -0.25}, Language: "de", Model: "tiny"}, got)
}

func TestTranscribeConfidenceEndpoint(t *testing.T) {
	t.Parallel()

	tr := fakeTranscriber{
		tokens: func(context.Context, *transcribe.Request) ([]transcribe.TokenConfidence, error) {
			return []transcribe.TokenConfidence{{Token: "And", Confidence: 0.5}}, nil
		},
	}

	rec := doJSON(t, New(tr, Options{}).Handler(), http.MethodPost, "/v1/transcribe/confidence", `{"audioData":[0]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[{"token":"And","confidence":0.5}]`, rec.Body.String())
}

func TestTranscribeEndpointEmptyResult(t *testing.T) {
	t.Parallel()

	tr := fakeTranscriber{
		segments: func(context.Context, *transcribe.Request) ([]transcribe.Segment, error) {
			return []transcribe.Segment{}, nil
		},
	}

	rec := doJSON(t, New(tr, Options{}).Handler(), http.MethodPost, "/v1/transcribe", `{"audioData":[0]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestTranscribeEndpointErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "malformed body", body: `{"audioData":"nope"`, wantStatus: http.StatusBadRequest, wantCode: "invalid_request"},
		{name: "no audio", body: `{}`, err: transcribe.ErrNoAudio, wantStatus: http.StatusBadRequest, wantCode: "no_audio"},
		{name: "model load", body: `{"audioData":[0]}`, err: &whisper.ModelLoadError{Path: "/m/ggml-x.bin", Err: errors.New("missing")}, wantStatus: http.StatusUnprocessableEntity, wantCode: "model_load_failed"},
		{name: "engine unavailable", body: `{"audioData":[0]}`, err: whisper.ErrEngineUnavailable, wantStatus: http.StatusServiceUnavailable, wantCode: "engine_unavailable"},
		{name: "engine failure", body: `{"audioData":[0]}`, err: errors.New("whisper-cli failed"), wantStatus: http.StatusInternalServerError, wantCode: "transcription_failed"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := fakeTranscriber{
				segments: func(context.Context, *transcribe.Request) ([]transcribe.Segment, error) {
					return nil, tt.err
				},
			}

			rec := doJSON(t, New(tr, Options{}).Handler(), http.MethodPost, "/v1/transcribe", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tt.wantCode, body.Error)
			require.NotEmpty(t, body.Message)
		})
	}
}

func TestTranscribeEndpointTimeout(t *testing.T) {
	t.Parallel()

	tr := fakeTranscriber{
		segments: func(ctx context.Context, _ *transcribe.Request) ([]transcribe.Segment, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	rec := doJSON(t, New(tr, Options{Timeout: 10 * time.Millisecond}).Handler(), http.MethodPost, "/v1/transcribe", `{"audioData":[0]}`)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestTranscribeEndpointBodyLimit(t *testing.T) {
	t.Parallel()

	tr := fakeTranscriber{
		segments: func(context.Context, *transcribe.Request) ([]transcribe.Segment, error) {
			return []transcribe.Segment{}, nil
		},
	}

	body := `{"audioData":[` + strings.Repeat("0,", 600) + `0]}`
	rec := doJSON(t, New(tr, Options{BodyLimit: "1K"}).Handler(), http.MethodPost, "/v1/transcribe", body)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Equal(t, "body_too_large", decodeError(t, rec).Error)
}

func TestBodyLimitWithoutContentLength(t *testing.T) {
	t.Parallel()

	tr := fakeTranscriber{
		segments: func(context.Context, *transcribe.Request) ([]transcribe.Segment, error) {
			return []transcribe.Segment{}, nil
		},
		tokens: func(context.Context, *transcribe.Request) ([]transcribe.TokenConfidence, error) {
			return []transcribe.TokenConfidence{}, nil
		},
	}
	handler := New(tr, Options{BodyLimit: "1K"}).Handler()
	body := `{"audioData":[` + strings.Repeat("0,", 600) + `0]}`

	for _, path := range []string{"/v1/transcribe", "/v1/transcribe/confidence"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.ContentLength = -1
		req.TransferEncoding = []string{"chunked"}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, path)
		require.Equal(t, "body_too_large", decodeError(t, rec).Error, path)
	}
}

func TestUnknownRouteUsesErrorResponse(t *testing.T) {
	t.Parallel()

	rec := doJSON(t, New(fakeTranscriber{}, Options{}).Handler(), http.MethodGet, "/v1/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeError(t, rec)
	require.Equal(t, "not_found", resp.Error)
	require.NotEmpty(t, resp.Message)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestTranscribeEndpointWithStubEngine(t *testing.T) {
	t.Parallel()

	modelsDir := t.TempDir()
	tr, err := transcribe.New(whisper.NewStubEngine(nil), transcribe.Config{ModelsDir: modelsDir})
	require.NoError(t, err)
	handler := New(tr, Options{}).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/v1/transcribe", `{"audioData":[0,0,0,0]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/v1/transcribe", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := New(fakeTranscriber{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
