package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pingone-bulk-users/internal/service"
	"github.com/rs/zerolog"
)

// SessionHandler handles session status endpoints
type SessionHandler struct {
	services *service.Services
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(services *service.Services, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		services: services,
		log:      log.With().Str("handler", "sessions").Logger(),
	}
}

// ListSessions handles GET /sessions
func (h *SessionHandler) ListSessions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	sessions, err := h.services.Sessions.ListSessions(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// GetSession handles GET /sessions/:sessionId
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.services.Sessions.GetSession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// GetSessionErrors handles GET /sessions/:sessionId/errors
func (h *SessionHandler) GetSessionErrors(c *gin.Context) {
	sessionID := c.Param("sessionId")

	failures, err := h.services.Sessions.GetFailures(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	// Determine format from query param
	if c.DefaultQuery("format", "json") == "csv" {
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=errors_%s.csv", sessionID))
		writer := csv.NewWriter(c.Writer)
		writer.Write([]string{"index", "line", "username", "outcome", "reason"})
		for _, f := range failures {
			writer.Write([]string{strconv.Itoa(f.Index), strconv.Itoa(f.Line), f.Username, string(f.Outcome), f.Reason})
		}
		writer.Flush()
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId":  sessionID,
		"errorCount": len(failures),
		"errors":     failures,
	})
}

// GetIgnoredUsers handles GET /sessions/:sessionId/ignored
func (h *SessionHandler) GetIgnoredUsers(c *gin.Context) {
	sessionID := c.Param("sessionId")
	ignored, err := h.services.Export.IgnoredUsers(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID, "count": len(ignored), "ignored": ignored})
}
