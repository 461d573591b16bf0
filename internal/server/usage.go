package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/voxbill/internal/billing/domain"
	"github.com/smallbiznis/voxbill/internal/orgcontext"
	usagedomain "github.com/smallbiznis/voxbill/internal/usage/domain"
)

const maxUsageListLimit = 500

// GetUsageSummary returns the current period's consumption, charges and history.
// An explicit period needs both period_start and period_end; the window is [start, end).
func (s *Server) GetUsageSummary(c *gin.Context) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrOrgRequired)
		return
	}

	start, err := parseOptionalTime(c.Query("period_start"))
	if err != nil {
		AbortWithError(c, newValidationError("period_start", "invalid_time", "period_start must be RFC3339 or YYYY-MM-DD"))
		return
	}
	end, err := parseOptionalTime(c.Query("period_end"))
	if err != nil {
		AbortWithError(c, newValidationError("period_end", "invalid_time", "period_end must be RFC3339 or YYYY-MM-DD"))
		return
	}

	summary, err := s.billingSvc.Summarize(c.Request.Context(), billingdomain.SummaryRequest{
		OrganizationID: orgID,
		PeriodStart:    start,
		PeriodEnd:      end,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) ListUsageRecords(c *gin.Context) {
	from, err := parseOptionalTime(c.Query("from"))
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_time", "from must be RFC3339 or YYYY-MM-DD"))
		return
	}
	to, err := parseOptionalTime(c.Query("to"))
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_time", "to must be RFC3339 or YYYY-MM-DD"))
		return
	}

	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a positive integer"))
			return
		}
	}
	limit = min(limit, maxUsageListLimit)

	resp, err := s.usageSvc.List(c.Request.Context(), usagedomain.ListUsageRequest{
		Type:  c.Query("type"),
		From:  from,
		To:    to,
		Limit: limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.UsageRecords})
}

type reverseUsageRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) ReverseUsageRecord(c *gin.Context) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrOrgRequired)
		return
	}
	recordID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, usagedomain.ErrNotFound)
		return
	}

	var req reverseUsageRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	reversal, err := s.usageSvc.Reverse(c.Request.Context(), usagedomain.ReverseRequest{
		OrganizationID: orgID,
		RecordID:       recordID,
		Reason:         req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": reversal})
}
