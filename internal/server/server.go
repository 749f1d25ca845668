package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fmueller/voxscribe/internal/transcribe"
)

// Transcriber is the part of the facade the HTTP API exposes.
type Transcriber interface {
	Transcribe(ctx context.Context, req *transcribe.Request) ([]transcribe.Segment, error)
	TranscribeWithConfidence(ctx context.Context, req *transcribe.Request) ([]transcribe.TokenConfidence, error)
}

type Options struct {
	// Timeout bounds each transcription request; zero means no limit.
	Timeout time.Duration
	// BodyLimit uses echo's size syntax, e.g. "64M".
	BodyLimit string
	Logger    *zap.Logger
}

type Server struct {
	echo    *echo.Echo
	tr      Transcriber
	timeout time.Duration
	logger  *zap.Logger
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func New(tr Transcriber, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BodyLimit == "" {
		opts.BodyLimit = "64M"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, tr: tr, timeout: opts.Timeout, logger: logger}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.BodyLimit(opts.BodyLimit))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request",
				zap.String("method", c.Request().Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			)
			return nil
		},
	}))

	e.GET("/health", s.health)
	v1 := e.Group("/v1")
	v1.POST("/transcribe", s.transcribe)
	v1.POST("/transcribe/confidence", s.transcribeWithConfidence)

	return s
}

func (s *Server) Handler() http.Handler { return s.echo }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) transcribe(c echo.Context) error {
	var req transcribe.Request
	if err := bindRequest(c, &req); err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	segments, err := s.tr.Transcribe(ctx, &req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, segments)
}

func (s *Server) transcribeWithConfidence(c echo.Context) error {
	var req transcribe.Request
	if err := bindRequest(c, &req); err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	tokens, err := s.tr.TranscribeWithConfidence(ctx, &req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, tokens)
}

// bindRequest decodes the JSON body. An over-limit body keeps echo's 413 error so the error
// handler reports it; every other decode failure becomes invalid_request.
func bindRequest(c echo.Context, req *transcribe.Request) error {
	err := (&echo.DefaultBinder{}).BindBody(c, req)
	if err == nil {
		return nil
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) && httpErr.Code == http.StatusRequestEntityTooLarge {
		return httpErr
	}
	return invalidRequest(c)
}

// handleError renders errors that escape the handlers (middleware rejections, unknown routes,
// recovered panics) as ErrorResponse.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := http.StatusText(status)
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Code
		message = fmt.Sprint(httpErr.Message)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err), zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, ErrorResponse{Error: httpErrorCode(status), Message: message})
	}
	if err != nil {
		s.logger.Warn("write error response", zap.Error(err))
	}
}

func invalidRequest(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid_request",
		Message: "request body must be JSON with audioData, language and model",
	})
}

func (s *Server) requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(c.Request().Context())
	}
	return context.WithTimeout(c.Request().Context(), s.timeout)
}

func (s *Server) fail(c echo.Context, err error) error {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("transcription failed", zap.Error(err), zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)))
	} else {
		s.logger.Warn("transcription rejected", zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{Error: code, Message: err.Error()})
}
