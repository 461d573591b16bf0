package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/voxbill/internal/ingest"
)

func (s *Server) IngestTelephonyEvent(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxEventBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, newValidationError("body", "too_large", "event payload is too large"))
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.pipeline.Process(c.Request.Context(), body, c.GetHeader(s.signatureHeader()))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if result.Kind != "" {
		c.Set("event_kind", result.Kind)
	}

	c.JSON(http.StatusAccepted, result)
}

func (s *Server) signatureHeader() string {
	if s.cfg.Telephony.SignatureHeader != "" {
		return s.cfg.Telephony.SignatureHeader
	}
	return ingest.DefaultSignatureHeader
}
