package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/service"
	"github.com/rs/zerolog"
)

// ExportHandler handles export endpoints
type ExportHandler struct {
	services *service.Services
	log      zerolog.Logger
}

// NewExportHandler creates a new ExportHandler
func NewExportHandler(services *service.Services, log zerolog.Logger) *ExportHandler {
	return &ExportHandler{
		services: services,
		log:      log.With().Str("handler", "export").Logger(),
	}
}

// ExportUsers handles POST /export-users
// Returns the shaped users as JSON, or as a CSV attachment when format is csv
func (h *ExportHandler) ExportUsers(c *gin.Context) {
	var req models.ExportRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	result, err := h.services.Export.Export(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.Info().
		Str("session_id", result.SessionID).
		Str("format", req.Format).
		Int("users", result.Total).
		Msg("Export served")

	if req.Format == "csv" {
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=users_%s.csv", result.SessionID))
		c.Header("X-Session-Id", result.SessionID)
		c.Status(http.StatusOK)
		if err := service.WriteCSV(c.Writer, result); err != nil {
			h.log.Error().Err(err).Msg("Failed to write CSV export")
		}
		return
	}

	c.JSON(http.StatusOK, result)
}
