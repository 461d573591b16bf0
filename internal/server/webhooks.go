package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/smallbiznis/voxbill/internal/webhook/domain"
)

func (s *Server) ListWebhooks(c *gin.Context) {
	endpoints, err := s.webhookSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": endpoints})
}

// CreateWebhook returns the signing secret in full. It is the only response that does.
func (s *Server) CreateWebhook(c *gin.Context) {
	var req webhookdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	endpoint, err := s.webhookSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": endpoint})
}

func (s *Server) GetWebhook(c *gin.Context) {
	detail, err := s.webhookSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": detail})
}

func (s *Server) UpdateWebhook(c *gin.Context) {
	var req webhookdomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	endpoint, err := s.webhookSvc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": endpoint})
}

func (s *Server) RotateWebhookSecret(c *gin.Context) {
	endpoint, err := s.webhookSvc.RotateSecret(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": endpoint})
}

func (s *Server) DeleteWebhook(c *gin.Context) {
	if err := s.webhookSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// TestWebhook sends a test.ping to the endpoint. A failed delivery is still a 200;
// the outcome is in the body.
func (s *Server) TestWebhook(c *gin.Context) {
	result, err := s.webhookSvc.Test(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
