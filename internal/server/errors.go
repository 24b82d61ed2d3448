package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	affiliatedomain "github.com/rcarraroia/slim-quality-sub008/internal/affiliate/domain"
	attributiondomain "github.com/rcarraroia/slim-quality-sub008/internal/attribution/domain"
	auditdomain "github.com/rcarraroia/slim-quality-sub008/internal/audit/domain"
	commissiondomain "github.com/rcarraroia/slim-quality-sub008/internal/commission/domain"
	ruledomain "github.com/rcarraroia/slim-quality-sub008/internal/commissionrule/domain"
	intakedomain "github.com/rcarraroia/slim-quality-sub008/internal/intake/domain"
	ledgerdomain "github.com/rcarraroia/slim-quality-sub008/internal/ledger/domain"
	withdrawaldomain "github.com/rcarraroia/slim-quality-sub008/internal/withdrawal/domain"
	"github.com/rcarraroia/slim-quality-sub008/pkg/db/pagination"
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
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrInternal           = errors.New("internal_error")
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
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, ledgerdomain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "insufficient_balance",
			Message: "insufficient balance",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
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

// classifyErrorForLog returns the (type, code) pair attached to request logs.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	} else if status == http.StatusConflict {
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
		errors.Is(err, pagination.ErrInvalidPageToken):
		return true
	case isAffiliateValidationError(err),
		isAttributionValidationError(err),
		isRuleValidationError(err),
		isCommissionValidationError(err),
		isLedgerValidationError(err),
		isWithdrawalValidationError(err),
		isIntakeValidationError(err),
		isAuditValidationError(err):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, affiliatedomain.ErrUnknownAffiliate),
		errors.Is(err, attributiondomain.ErrAttributionNotFound),
		errors.Is(err, ledgerdomain.ErrReservationNotFound),
		errors.Is(err, ledgerdomain.ErrCommissionNotFound),
		errors.Is(err, withdrawaldomain.ErrWithdrawalNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, affiliatedomain.ErrCycleDetected),
		errors.Is(err, affiliatedomain.ErrDepthExceeded),
		errors.Is(err, affiliatedomain.ErrCodeTaken),
		errors.Is(err, affiliatedomain.ErrInvalidStatusTransition),
		errors.Is(err, attributiondomain.ErrAlreadyAttributed),
		errors.Is(err, ruledomain.ErrVersionConflict),
		errors.Is(err, ledgerdomain.ErrStaleReservation),
		errors.Is(err, ledgerdomain.ErrInvalidCommissionTransition),
		errors.Is(err, withdrawaldomain.ErrRequestAlreadyOpen),
		errors.Is(err, withdrawaldomain.ErrInvalidTransition):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
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
	default:
		return "invalid value"
	}
}

func isAffiliateValidationError(err error) bool {
	switch err {
	case affiliatedomain.ErrInvalidCode,
		affiliatedomain.ErrInvalidName,
		affiliatedomain.ErrInvalidStatus,
		affiliatedomain.ErrInvalidDepth:
		return true
	default:
		return false
	}
}

func isAttributionValidationError(err error) bool {
	switch err {
	case attributiondomain.ErrInvalidVisitor,
		attributiondomain.ErrInvalidOrderRef:
		return true
	default:
		return false
	}
}

func isRuleValidationError(err error) bool {
	switch err {
	case ruledomain.ErrInvalidLevel,
		ruledomain.ErrInvalidRule,
		ruledomain.ErrDuplicateLevel,
		ruledomain.ErrInvalidEffectiveFrom:
		return true
	default:
		return false
	}
}

func isCommissionValidationError(err error) bool {
	switch err {
	case commissiondomain.ErrInvalidOrderRef,
		commissiondomain.ErrInvalidOrderValue,
		commissiondomain.ErrInvalidVisitor,
		commissiondomain.ErrInvalidCompletedAt:
		return true
	default:
		return false
	}
}

func isLedgerValidationError(err error) bool {
	switch err {
	case ledgerdomain.ErrInvalidAmount,
		ledgerdomain.ErrInvalidCommissionStatus,
		ledgerdomain.ErrInvalidCommission:
		return true
	default:
		return false
	}
}

func isWithdrawalValidationError(err error) bool {
	switch err {
	case withdrawaldomain.ErrInvalidAmount,
		withdrawaldomain.ErrInvalidStatus,
		withdrawaldomain.ErrInvalidDecider:
		return true
	default:
		return false
	}
}

func isIntakeValidationError(err error) bool {
	switch err {
	case intakedomain.ErrInvalidEventID,
		intakedomain.ErrInvalidPayload:
		return true
	default:
		return false
	}
}

func isAuditValidationError(err error) bool {
	switch err {
	case auditdomain.ErrInvalidAction,
		auditdomain.ErrInvalidTimeRange:
		return true
	default:
		return false
	}
}
