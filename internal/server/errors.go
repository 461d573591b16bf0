package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/voxbill/internal/billing/domain"
	telephonydomain "github.com/smallbiznis/voxbill/internal/telephony/domain"
	tenantdomain "github.com/smallbiznis/voxbill/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/voxbill/internal/usage/domain"
	webhookdomain "github.com/smallbiznis/voxbill/internal/webhook/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrOrgRequired        = errors.New("organization_required")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, telephonydomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isOrganizationError(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "organization is required, set the " + HeaderOrg + " header",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, usagedomain.ErrAlreadyReversed),
		errors.Is(err, usagedomain.ErrNotReversible),
		errors.Is(err, tenantdomain.ErrNumberTaken):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: notFoundMessage(err),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests, retry after the interval in the Retry-After header",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code attached to request logs.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	} else if payload.Type != "internal_error" {
		code = err.Error()
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, telephonydomain.ErrInvalidPayload),
		errors.Is(err, usagedomain.ErrInvalidType),
		errors.Is(err, usagedomain.ErrInvalidPeriod),
		errors.Is(err, billingdomain.ErrInvalidPeriod),
		errors.Is(err, tenantdomain.ErrInvalidNumber),
		errors.Is(err, webhookdomain.ErrInvalidName),
		errors.Is(err, webhookdomain.ErrInvalidURL),
		errors.Is(err, webhookdomain.ErrInvalidEvents):
		return true
	default:
		return false
	}
}

func isOrganizationError(err error) bool {
	switch {
	case errors.Is(err, ErrOrgRequired),
		errors.Is(err, usagedomain.ErrInvalidOrganization),
		errors.Is(err, billingdomain.ErrInvalidOrganization),
		errors.Is(err, webhookdomain.ErrInvalidOrganization),
		errors.Is(err, tenantdomain.ErrInvalidOrganization):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, webhookdomain.ErrNotFound),
		errors.Is(err, usagedomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, webhookdomain.ErrNotFound):
		return "webhook endpoint not found"
	case errors.Is(err, usagedomain.ErrNotFound):
		return "usage record not found"
	default:
		return "not found"
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, usagedomain.ErrAlreadyReversed):
		return "usage record is already reversed"
	case errors.Is(err, usagedomain.ErrNotReversible):
		return "usage record cannot be reversed"
	case errors.Is(err, tenantdomain.ErrNumberTaken):
		return "phone number is already registered"
	default:
		return "conflict"
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, telephonydomain.ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, usagedomain.ErrInvalidType):
		return "invalid_usage_type"
	case errors.Is(err, usagedomain.ErrInvalidPeriod),
		errors.Is(err, billingdomain.ErrInvalidPeriod):
		return "invalid_period"
	case errors.Is(err, tenantdomain.ErrInvalidNumber):
		return "invalid_phone_number"
	case errors.Is(err, webhookdomain.ErrInvalidName):
		return "invalid_name"
	case errors.Is(err, webhookdomain.ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, webhookdomain.ErrInvalidEvents):
		return "invalid_events"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_payload":
		return "event payload is not a valid provider event"
	case "invalid_url":
		return "url must be an absolute http or https URL"
	case "invalid_events":
		return "events must be a non-empty list of supported event types"
	case "invalid_period":
		return "period_start and period_end must both be set and period_start must precede period_end"
	default:
		return "invalid value"
	}
}
