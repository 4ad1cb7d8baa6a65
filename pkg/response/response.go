package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/trustbank/trade-api/internal/types"
	"gorm.io/gorm"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeBadRequest          = "BAD_REQUEST"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeDuplicateResource   = "DUPLICATE_RESOURCE"
	ErrCodeRateUnavailable     = "RATE_UNAVAILABLE"
	ErrCodeQuoteExpired        = "QUOTE_EXPIRED"
	ErrCodeLimitExceeded       = "LIMIT_EXCEEDED"
	ErrCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrCodePaymentRejected     = "PAYMENT_REJECTED"
	ErrCodeInvalidTransition   = "INVALID_STATE_TRANSITION"
	ErrCodeCompensationFailed  = "COMPENSATION_FAILED"
	ErrCodeUnsupportedPair     = "UNSUPPORTED_PAIR"
)

// Handle maps a service error onto the response envelope, falling back to a
// generic 500 for anything outside the domain taxonomy.
func Handle(c *gin.Context, data interface{}, err error) {
	HandleWithData(c, data, err)
}

// HandleWithData is Handle, but keeps the data payload alongside error
// responses where one exists (e.g. a trade that reached a terminal failed
// state still returns its record).
func HandleWithData(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	var status int
	var code string
	var message = err.Error()

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		status, code, message = http.StatusNotFound, ErrCodeNotFound, "Resource not found"
	case errors.Is(err, gorm.ErrDuplicatedKey):
		status, code, message = http.StatusConflict, ErrCodeDuplicateResource, "Resource already exists"
	case errors.Is(err, types.ErrUnsupportedPair):
		status, code = http.StatusBadRequest, ErrCodeUnsupportedPair
	case errors.Is(err, types.ErrRateUnavailable):
		status, code = http.StatusServiceUnavailable, ErrCodeRateUnavailable
	case errors.Is(err, types.ErrQuoteExpired):
		status, code = http.StatusGone, ErrCodeQuoteExpired
	case errors.Is(err, types.ErrLimitExceeded):
		status, code = http.StatusUnprocessableEntity, ErrCodeLimitExceeded
	case errors.Is(err, types.ErrInsufficientBalance):
		status, code = http.StatusUnprocessableEntity, ErrCodeInsufficientBalance
	case errors.Is(err, types.ErrPaymentRejected):
		status, code = http.StatusPaymentRequired, ErrCodePaymentRejected
	case errors.Is(err, types.ErrInvalidStateTransition):
		status, code = http.StatusConflict, ErrCodeInvalidTransition
	case errors.Is(err, types.ErrCompensationFailed):
		// Do not claim funds were returned; the caller is told to contact
		// support while operators reconcile the ledger.
		status, code = http.StatusInternalServerError, ErrCodeCompensationFailed
		message = "trade failed; contact support regarding your funds"
	default:
		status, code, message = http.StatusInternalServerError, ErrCodeInternalError, "An unexpected error occurred"
	}

	c.JSON(status, Response{
		Success: false,
		Data:    data,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeNotFound,
			Message: message,
		},
	})
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeBadRequest,
			Message: message,
		},
	})
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeUnauthorized,
			Message: message,
		},
	})
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	c.JSON(http.StatusForbidden, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeForbidden,
			Message: message,
		},
	})
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeInternalError,
			Message: message,
		},
	})
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeDuplicateResource,
			Message: message,
		},
	})
}
