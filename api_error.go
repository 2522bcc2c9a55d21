package admit

import (
	"errors"
	"net/http"
)

// APIError is an error that Handler renders as
//
//	{"error": {"type": "rate_limit_error", "code": "limit_exceeded", "message": "..."}}
//
// with Status as the HTTP status code. The package-level values are sentinels;
// derive request-specific copies with With and WithParam.
type APIError struct {
	Type    string       `json:"type"`
	Code    string       `json:"code,omitempty"`
	Message string       `json:"message"`
	Param   string       `json:"param,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
	Status  int          `json:"-"`
}

// FieldError is one failed constraint on a request field.
type FieldError struct {
	Param   string `json:"param"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error *APIError `json:"error"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Is reports whether target is an *APIError of the same type and code, so a
// copy still matches the sentinel it came from.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	switch {
	case !ok:
		return false
	case e == nil || t == nil:
		return e == t
	}
	return e.Type == t.Type && e.Code == t.Code
}

func (e *APIError) clone() *APIError {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// With copies e and replaces the message.
func (e *APIError) With(message string) *APIError {
	c := e.clone()
	if c != nil {
		c.Message = message
	}
	return c
}

// WithParam copies e, replacing the message and naming the offending parameter.
func (e *APIError) WithParam(message, param string) *APIError {
	c := e.With(message)
	if c != nil {
		c.Param = param
	}
	return c
}

func newAPIError(status int, typ, code, message string) *APIError {
	return &APIError{Type: typ, Code: code, Message: message, Status: status}
}

var (
	ErrBadRequest         = newAPIError(http.StatusBadRequest, "request_error", "bad_request", "Bad request")
	ErrNotFound           = newAPIError(http.StatusNotFound, "not_found", "resource_not_found", "Resource not found")
	ErrConflict           = newAPIError(http.StatusConflict, "request_error", "conflict", "Conflict")
	ErrPayloadTooLarge    = newAPIError(http.StatusRequestEntityTooLarge, "request_error", "payload_too_large", "Payload too large")
	ErrRateLimited        = newAPIError(http.StatusTooManyRequests, "rate_limit_error", "limit_exceeded", "Rate limit exceeded")
	ErrInternal           = newAPIError(http.StatusInternalServerError, "internal_error", "internal", "Internal server error")
	ErrServiceUnavailable = newAPIError(http.StatusServiceUnavailable, "request_error", "service_unavailable", "Service unavailable")
)

// NewValidationError reports failed field constraints as a 400.
func NewValidationError(fields []FieldError) *APIError {
	e := newAPIError(http.StatusBadRequest, "validation_error", "invalid_request", "Validation failed")
	e.Errors = fields
	return e
}

// AdmissionError maps a Gate error to its API error: 429 with the denial reason
// for ErrRateLimitExceeded, 503 for ErrLimiterUnavailable. Returns nil for any
// other error.
func AdmissionError(err error) *APIError {
	var exceeded *RateLimitExceededError
	switch {
	case errors.As(err, &exceeded):
		return ErrRateLimited.With("Rate limit exceeded: " + exceeded.Reason())
	case errors.Is(err, ErrRateLimitExceeded):
		return ErrRateLimited
	case errors.Is(err, ErrLimiterUnavailable):
		return ErrServiceUnavailable.With("Rate limiter unavailable")
	}
	return nil
}
