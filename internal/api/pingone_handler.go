package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/service"
	"github.com/rs/zerolog"
)

// PingOneHandler exposes the population list and the token delegate
type PingOneHandler struct {
	services *service.Services
	log      zerolog.Logger
}

// NewPingOneHandler creates a new PingOneHandler
func NewPingOneHandler(services *service.Services, log zerolog.Logger) *PingOneHandler {
	return &PingOneHandler{
		services: services,
		log:      log.With().Str("handler", "pingone").Logger(),
	}
}

// ListPopulations handles GET /pingone/populations
func (h *PingOneHandler) ListPopulations(c *gin.Context) {
	if c.Query("refresh") == "true" {
		h.services.Populations.Invalidate()
	}

	populations, err := h.services.Populations.ListPopulations(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	out := make([]gin.H, 0, len(populations))
	for _, p := range populations {
		out = append(out, gin.H{"id": p.ID, "name": p.Name})
	}
	c.JSON(http.StatusOK, out)
}

// GetToken handles POST /pingone/get-token
// An optional JSON body supplies credentials that replace the stored ones for this call
func (h *PingOneHandler) GetToken(c *gin.Context) {
	var override *models.Credentials
	if c.Request.ContentLength > 0 {
		var creds models.Credentials
		if err := bindJSON(c, &creds); err != nil {
			respondError(c, h.log, err)
			return
		}
		if creds != (models.Credentials{}) {
			override = &creds
		}
	}

	token, err := h.services.Tokens.GetToken(c.Request.Context(), override)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	expiresIn := int(time.Until(token.ExpiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token.AccessToken,
		"token_type":   token.TokenType,
		"expires_in":   expiresIn,
		"expires_at":   token.ExpiresAt.Format(time.RFC3339),
	})
}
