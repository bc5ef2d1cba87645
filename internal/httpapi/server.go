// Package httpapi exposes the Pub/Sub push endpoint. It decodes the event
// envelope at the edge; the pipeline only ever sees a validated bucket and
// object path.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/cofers/txguard/internal/pipeline"
)

// PipelineRunner is the slice of the pipeline the server invokes.
type PipelineRunner interface {
	Run(ctx context.Context, bucket, objectPath string) (*pipeline.Result, error)
}

// Server handles inbound push notifications.
type Server struct {
	runner PipelineRunner
	log    zerolog.Logger
}

// NewServer builds the echo instance with routes registered.
func NewServer(runner PipelineRunner, log zerolog.Logger) *echo.Echo {
	s := &Server{runner: runner, log: log}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.POST("/", s.handleEvent)
	e.GET("/healthz", s.handleHealth)
	return e
}

// pushEnvelope is the Pub/Sub push delivery wrapper.
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// fileEvent is the storage notification carried inside the envelope.
type fileEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

func (s *Server) handleEvent(c echo.Context) error {
	var envelope pushEnvelope
	if err := c.Bind(&envelope); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "event body is not valid JSON")
	}
	if envelope.Message.Data == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event does not contain encoded data")
	}

	decoded, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "event data is not valid base64")
	}

	var event fileEvent
	if err := json.Unmarshal(decoded, &event); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "event data is not a valid file notification")
	}
	if event.Bucket == "" || event.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event is missing required fields (bucket, name)")
	}

	s.log.Info().
		Str("bucket", event.Bucket).
		Str("object", event.Name).
		Str("message_id", envelope.Message.MessageID).
		Msg("File-arrival notification received")

	result, err := s.runner.Run(c.Request().Context(), event.Bucket, event.Name)
	if err != nil {
		s.log.Error().Err(err).Str("object", event.Name).Msg("Invocation failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "error processing the event")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Processed %d transactions, %d anomalies detected",
			result.Processed, len(result.Anomalies)),
		"processed": result.Processed,
		"admitted":  result.Admitted,
		"anomalies": len(result.Anomalies),
		"warnings":  len(result.Warnings),
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
