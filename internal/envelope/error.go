package envelope

import (
	"net/http"
	"time"
)

// Machine-readable error codes.
const (
	CodeInvalidNonce       = "INVALID_NONCE"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeCatalogUnavailable = "CATALOG_UNAVAILABLE"
	CodeRenderFailed       = "RENDER_FAILED"
	CodeInternal           = "INTERNAL_ERROR"
)

// Error is a failure that is reported to the caller. Message is safe to show;
// Err carries the detail exposed only in debug mode.
type Error struct {
	Code       string
	Message    string
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Recoverable reports whether a caller retry may succeed.
func (e *Error) Recoverable() bool {
	if e.RetryAfter > 0 {
		return true
	}
	switch e.Status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// InvalidNonce is returned when the anti-forgery token does not verify.
func InvalidNonce(err error) *Error {
	return &Error{
		Code:    CodeInvalidNonce,
		Message: "Security check failed. Please refresh the page and try again.",
		Status:  http.StatusForbidden,
		Err:     err,
	}
}

// Unauthorized is returned for an unknown API key.
func Unauthorized(err error) *Error {
	return &Error{Code: CodeUnauthorized, Message: "Invalid API key.", Status: http.StatusUnauthorized, Err: err}
}

// Forbidden is returned for an API key lacking the required scope.
func Forbidden(err error) *Error {
	return &Error{Code: CodeForbidden, Message: "This API key may not read products.", Status: http.StatusForbidden, Err: err}
}

// RateLimited is returned when the caller exceeded its request budget.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Code:       CodeRateLimited,
		Message:    "Too many requests. Please wait a moment and try again.",
		Status:     http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

// InvalidRequest is returned when the request body cannot be decoded.
func InvalidRequest(err error) *Error {
	return &Error{Code: CodeInvalidRequest, Message: "The request could not be read.", Status: http.StatusBadRequest, Err: err}
}

// Unavailable is returned when the catalog could not serve the request.
func Unavailable(retryAfter time.Duration, err error) *Error {
	return &Error{
		Code:       CodeCatalogUnavailable,
		Message:    "Unable to load products right now. Please try again.",
		Status:     http.StatusServiceUnavailable,
		RetryAfter: retryAfter,
		Err:        err,
	}
}

// RenderFailed is returned when the grid could not be produced.
func RenderFailed(err error) *Error {
	return &Error{Code: CodeRenderFailed, Message: "Unable to display products.", Status: http.StatusInternalServerError, Err: err}
}

// Internal is returned for unexpected failures.
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: "An unexpected error occurred.", Status: http.StatusInternalServerError, Err: err}
}
