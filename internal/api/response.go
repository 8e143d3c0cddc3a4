package api

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pingone-bulk-users/internal/apperrors"
	"github.com/rs/zerolog"
)

// respondError writes the structured error body for err
func respondError(c *gin.Context, log zerolog.Logger, err error) {
	status := apperrors.HTTPStatus(err)

	event := log.Warn()
	if status >= 500 {
		event = log.Error()
	}
	event.Err(err).Str("path", c.Request.URL.Path).Int("status", status).Msg("Request failed")

	body := gin.H{
		"error":   string(apperrors.KindOf(err)),
		"message": apperrors.Message(err),
	}
	if details := apperrors.Details(err); len(details) > 0 {
		body["details"] = details
	}
	c.JSON(status, body)
}

// uploadedCSV opens the multipart "file" field and checks its size and extension
func uploadedCSV(c *gin.Context, maxSize int64) (multipart.File, error) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		return nil, apperrors.Validation("A CSV file upload is required.")
	}

	if maxSize > 0 && header.Size > maxSize {
		file.Close()
		return nil, apperrors.Validation(fmt.Sprintf("File too large, max size is %d MB.", maxSize/(1024*1024)))
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".csv" && ext != ".txt" {
		file.Close()
		return nil, apperrors.Validation("User files must be CSV.")
	}
	return file, nil
}

// bindJSON decodes the request body into v, mapping failures to a validation error
func bindJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return apperrors.Validation("Invalid request body.", err.Error())
	}
	return nil
}
