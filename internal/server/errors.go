package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/loyalty/internal/account/domain"
	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	authdomain "github.com/smallbiznis/loyalty/internal/auth/domain"
	"github.com/smallbiznis/loyalty/internal/authorization"
	coupondomain "github.com/smallbiznis/loyalty/internal/coupon/domain"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	"github.com/smallbiznis/loyalty/internal/ratelimit"
	redemptiondomain "github.com/smallbiznis/loyalty/internal/redemption/domain"
	referraldomain "github.com/smallbiznis/loyalty/internal/referral/domain"
	tierdomain "github.com/smallbiznis/loyalty/internal/tier/domain"
	"github.com/smallbiznis/loyalty/pkg/db/pagination"
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
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
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
	case errors.Is(err, authdomain.ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, referraldomain.ErrSelfReferral):
		return http.StatusBadRequest, errorPayload{
			Type:    "self_referral",
			Message: "an account cannot claim its own referral code",
		}
	case errors.Is(err, ledgerdomain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "insufficient_balance",
			Message: "balance is too low for this redemption",
		}
	case errors.Is(err, referraldomain.ErrAlreadyClaimed):
		return http.StatusConflict, errorPayload{
			Type:    "already_claimed",
			Message: "a referral code was already claimed by this account",
		}
	case errors.Is(err, redemptiondomain.ErrIdempotencyKeyReuse):
		return http.StatusConflict, errorPayload{
			Type:    "idempotency_key_reuse",
			Message: "idempotency key was used with a different amount",
		}
	case errors.Is(err, coupondomain.ErrCouponAlreadyConsumed):
		return http.StatusConflict, errorPayload{
			Type:    "coupon_already_consumed",
			Message: "coupon was already consumed",
		}
	case errors.Is(err, accountdomain.ErrAlreadyExists):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "account already exists",
		}
	case errors.Is(err, referraldomain.ErrInvalidCode):
		return http.StatusNotFound, errorPayload{
			Type:    "invalid_code",
			Message: "referral code not found",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, redemptiondomain.ErrRateLimited),
		errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ledgerdomain.ErrConflictRetryExhausted):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "conflict_retry_exhausted",
			Message: "account is busy, retry later",
		}
	case errors.Is(err, ledgerdomain.ErrIntegrityViolation):
		return http.StatusInternalServerError, errorPayload{
			Type:    "integrity_violation",
			Message: "internal server error",
		}
	case errors.Is(err, tierdomain.ErrConfiguration):
		return http.StatusInternalServerError, errorPayload{
			Type:    "configuration_error",
			Message: "internal server error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
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
		errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidAction),
		errors.Is(err, authdomain.ErrInvalidRole):
		return true
	case isAccountValidationError(err),
		isLedgerValidationError(err),
		isRedemptionValidationError(err),
		isCouponValidationError(err):
		return true
	default:
		return false
	}
}

func isAccountValidationError(err error) bool {
	return errors.Is(err, accountdomain.ErrInvalidID) ||
		errors.Is(err, accountdomain.ErrInvalidExternalRef)
}

func isLedgerValidationError(err error) bool {
	switch {
	case errors.Is(err, ledgerdomain.ErrInvalidAccount),
		errors.Is(err, ledgerdomain.ErrInvalidDelta),
		errors.Is(err, ledgerdomain.ErrInvalidReason),
		errors.Is(err, ledgerdomain.ErrReasonSignMismatch),
		errors.Is(err, ledgerdomain.ErrInvalidPoints),
		errors.Is(err, ledgerdomain.ErrInvalidOrderID),
		errors.Is(err, ledgerdomain.ErrInvalidMemo),
		errors.Is(err, ledgerdomain.ErrPointsOverflow):
		return true
	}
	return false
}

func isRedemptionValidationError(err error) bool {
	return errors.Is(err, redemptiondomain.ErrInvalidRedemptionAmount) ||
		errors.Is(err, redemptiondomain.ErrInvalidIdempotencyKey)
}

func isCouponValidationError(err error) bool {
	return errors.Is(err, coupondomain.ErrInvalidRequest) ||
		errors.Is(err, coupondomain.ErrInvalidCode)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, accountdomain.ErrNotFound),
		errors.Is(err, ledgerdomain.ErrAccountNotFound),
		errors.Is(err, redemptiondomain.ErrNotFound),
		errors.Is(err, coupondomain.ErrCouponNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ledgerdomain.ErrReasonSignMismatch):
		return "invalid_reason"
	case errors.Is(err, ledgerdomain.ErrPointsOverflow):
		return "invalid_points"
	}
	// wrapped sentinels carry detail after a colon; the code is the head
	code, _, _ := strings.Cut(err.Error(), ":")
	return code
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
	case "invalid_redemption_amount":
		return "points must be a positive multiple of the redemption step"
	case "invalid_page_token":
		return "page token is malformed"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog feeds the request logger the same type the client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}
