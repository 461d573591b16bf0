package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/voxbill/internal/orgcontext"
	tenantdomain "github.com/smallbiznis/voxbill/internal/tenant/domain"
)

type registerPhoneNumberRequest struct {
	Number   string `json:"number"`
	Label    string `json:"label"`
	TollFree bool   `json:"toll_free"`
}

// RegisterPhoneNumber assigns a provisioned number to the calling organization so
// provider events for it resolve to the tenant.
func (s *Server) RegisterPhoneNumber(c *gin.Context) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrOrgRequired)
		return
	}

	var req registerPhoneNumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	number, err := s.tenantSvc.Register(c.Request.Context(), tenantdomain.RegisterNumberRequest{
		OrganizationID: orgID,
		Number:         req.Number,
		Label:          req.Label,
		TollFree:       req.TollFree,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": number})
}
