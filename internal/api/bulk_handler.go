package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pingone-bulk-users/internal/apperrors"
	"github.com/pingone-bulk-users/internal/config"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/service"
	"github.com/rs/zerolog"
)

// BulkHandler handles the synchronous modify and delete endpoints
type BulkHandler struct {
	services *service.Services
	cfg      *config.Config
	log      zerolog.Logger
}

// NewBulkHandler creates a new BulkHandler
func NewBulkHandler(services *service.Services, cfg *config.Config, log zerolog.Logger) *BulkHandler {
	return &BulkHandler{
		services: services,
		cfg:      cfg,
		log:      log.With().Str("handler", "bulk").Logger(),
	}
}

// ModifyUsers handles POST /modify-users
func (h *BulkHandler) ModifyUsers(c *gin.Context) {
	file, err := uploadedCSV(c, h.cfg.Jobs.MaxUploadSize)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	defer file.Close()

	var req models.ModifyRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, h.log, apperrors.Validation("Invalid modify options.", err.Error()))
		return
	}

	result, err := h.services.Bulk.Modify(c.Request.Context(), &req, file)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DeleteUsers handles POST /delete-users
func (h *BulkHandler) DeleteUsers(c *gin.Context) {
	file, err := uploadedCSV(c, h.cfg.Jobs.MaxUploadSize)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	defer file.Close()

	var req models.DeleteRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, h.log, apperrors.Validation("Invalid delete options.", err.Error()))
		return
	}

	result, err := h.services.Bulk.Delete(c.Request.Context(), &req, file)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DeletePopulation handles POST /population-delete
func (h *BulkHandler) DeletePopulation(c *gin.Context) {
	var req models.PopulationDeleteRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	result, err := h.services.Bulk.DeletePopulation(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
