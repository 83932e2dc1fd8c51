package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	v1 "github.com/commercekit/relay/internal/api/v1"
	"github.com/commercekit/relay/internal/bus"
	"github.com/commercekit/relay/internal/pipeline"
)

const defaultSessionEventLimit = 100

// actionRequest is one storefront action, the same wire shape the Kafka
// source consumes.
type actionRequest struct {
	SessionID string                 `json:"session_id" binding:"required"`
	Topic     string                 `json:"topic" binding:"required"`
	Payload   map[string]interface{} `json:"payload"`
}

// eventRequest is a pre-built event pushed directly, bypassing the
// factories. Integrators use this for custom events.
type eventRequest struct {
	ClientKey string    `json:"client_key" binding:"required"`
	Event     *v1.Event `json:"event" binding:"required"`
}

type debugRequest struct {
	ClientKey string            `json:"client_key" binding:"required"`
	Enabled   bool              `json:"enabled"`
	Options   map[string]string `json:"options"`
}

type providerToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// actionHandler publishes one domain action on the bus. The bus is
// synchronous, so a 202 means every listener handler already ran.
func (s *Server) actionHandler(c *gin.Context) {
	var req actionRequest
	if !s.bindJSON(c, &req) {
		return
	}

	s.bus.Publish(c.Request.Context(), bus.Message{
		SessionID: req.SessionID,
		Topic:     req.Topic,
		Payload:   req.Payload,
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// eventHandler pushes a pre-built event through the pipeline.
func (s *Server) eventHandler(c *gin.Context) {
	var req eventRequest
	if !s.bindJSON(c, &req) {
		return
	}

	if err := s.manager.Push(c.Request.Context(), req.ClientKey, req.Event); err != nil {
		if errors.Is(err, pipeline.ErrValidation) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		slog.Error("Event push failed", "event", req.Event.Name, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "event_id": req.Event.ID})
}

// sessionEventsHandler lists a session's delivered events, from the
// archive when one is configured and the in-memory log otherwise.
func (s *Server) sessionEventsHandler(c *gin.Context) {
	sessionID := c.Param("session_id")

	limit := defaultSessionEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	if s.archive != nil {
		events, err := s.archive.EventsBySession(c.Request.Context(), sessionID, limit)
		if err != nil {
			slog.Error("Archive query failed", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "events": events})
		return
	}

	events := s.manager.Events(sessionID)
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "events": events})
}

// pendingHandler peeks at a client's redirect-pending queue.
func (s *Server) pendingHandler(c *gin.Context) {
	clientKey := c.Param("session_id")

	entries, err := s.manager.Pending(c.Request.Context(), clientKey)
	if err != nil {
		slog.Error("Pending peek failed", "client", clientKey, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load pending events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"client_key": clientKey, "pending": entries})
}

// debugHandler toggles per-client debug mode.
func (s *Server) debugHandler(c *gin.Context) {
	var req debugRequest
	if !s.bindJSON(c, &req) {
		return
	}

	if err := s.manager.SetDebug(c.Request.Context(), req.ClientKey, req.Enabled, req.Options); err != nil {
		slog.Error("Debug toggle failed", "client", req.ClientKey, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist debug state"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"client_key": req.ClientKey, "debug": req.Enabled})
}

// providerToggleHandler enables or disables one adapter at runtime.
func (s *Server) providerToggleHandler(c *gin.Context) {
	name := c.Param("name")

	var req providerToggleRequest
	if !s.bindJSON(c, &req) {
		return
	}

	if !s.manager.SetProviderEnabled(name, req.Enabled) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider: " + name})
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": name, "enabled": req.Enabled})
}

// bindJSON decodes the body with the configured size cap. Writes the
// error response and returns false on failure.
func (s *Server) bindJSON(c *gin.Context, out interface{}) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBodyBytes)

	if err := c.ShouldBindJSON(out); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body exceeds maximum allowed size"})
			return false
		}
		if errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body is required"})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}
