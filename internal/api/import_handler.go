package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pingone-bulk-users/internal/apperrors"
	"github.com/pingone-bulk-users/internal/config"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/progress"
	"github.com/pingone-bulk-users/internal/service"
	"github.com/rs/zerolog"
)

// ImportHandler handles import endpoints and the progress channel
type ImportHandler struct {
	services *service.Services
	cfg      *config.Config
	log      zerolog.Logger
}

// NewImportHandler creates a new ImportHandler
func NewImportHandler(services *service.Services, cfg *config.Config, log zerolog.Logger) *ImportHandler {
	return &ImportHandler{
		services: services,
		cfg:      cfg,
		log:      log.With().Str("handler", "import").Logger(),
	}
}

// StartImport handles POST /import
// Accepts a multipart CSV upload plus populationId, populationName and continueOnUniqueness fields
func (h *ImportHandler) StartImport(c *gin.Context) {
	file, err := uploadedCSV(c, h.cfg.Jobs.MaxUploadSize)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	defer file.Close()

	var req models.ImportRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, h.log, apperrors.Validation("Invalid import options.", err.Error()))
		return
	}

	session, err := h.services.Import.StartImport(c.Request.Context(), &req, file)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"sessionId":    session.ID,
		"state":        session.State,
		"totalRecords": session.TotalRecords,
		"progressUrl":  "/import/progress/" + session.ID,
		"message":      "Import started",
	})
}

// Progress handles GET /import/progress/:sessionId as a Server-Sent Events stream
func (h *ImportHandler) Progress(c *gin.Context) {
	sessionID := c.Param("sessionId")
	lastEventID, _ := strconv.Atoi(c.GetHeader("Last-Event-ID"))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	hub := h.services.Progress
	if hub == nil || !hub.Has(sessionID) {
		ev := models.NewErrorEvent("Session "+sessionID+" was not found or has already finished.", nil)
		if err := progress.WriteEvent(c.Writer, lastEventID+1, ev); err != nil {
			h.log.Debug().Err(err).Msg("Failed to write progress event")
		}
		c.Writer.Flush()
		return
	}
	c.Writer.Flush()

	h.log.Debug().Str("session_id", sessionID).Int("last_event_id", lastEventID).Msg("Progress subscriber connected")

	err := hub.Stream(c.Request.Context(), sessionID, lastEventID,
		func(id int, ev models.Event) error {
			if err := progress.WriteEvent(c.Writer, id, ev); err != nil {
				return err
			}
			c.Writer.Flush()
			return nil
		},
		func() error {
			if err := progress.WriteComment(c.Writer, "keepalive"); err != nil {
				return err
			}
			c.Writer.Flush()
			return nil
		})

	h.log.Debug().Err(err).Str("session_id", sessionID).Msg("Progress subscriber disconnected")
}

// ResolveConflict handles POST /import/resolve-conflict
func (h *ImportHandler) ResolveConflict(c *gin.Context) {
	var req models.ResolveConflictRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}
	if req.SessionID == "" {
		respondError(c, h.log, apperrors.Validation("sessionId is required"))
		return
	}

	if err := h.services.Import.ResolveConflict(c.Request.Context(), &req); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": req.SessionID, "message": "Population conflict resolved"})
}

// ResolveInvalidPopulation handles POST /import/resolve-invalid-population
func (h *ImportHandler) ResolveInvalidPopulation(c *gin.Context) {
	var req models.ResolveInvalidPopulationRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}
	if req.SessionID == "" {
		respondError(c, h.log, apperrors.Validation("sessionId is required"))
		return
	}

	if err := h.services.Import.ResolveInvalidPopulation(c.Request.Context(), &req); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": req.SessionID, "message": "Invalid population resolved"})
}

// Cancel handles POST /import/cancel
func (h *ImportHandler) Cancel(c *gin.Context) {
	var req models.CancelRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}
	if req.SessionID == "" {
		respondError(c, h.log, apperrors.Validation("sessionId is required"))
		return
	}

	if err := h.services.Sessions.Cancel(c.Request.Context(), req.SessionID); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sessionId": req.SessionID, "message": "Cancellation requested"})
}
