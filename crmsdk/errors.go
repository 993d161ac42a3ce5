/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package crmsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// APIError is the base error type for backend errors. The specific
// sub-types embed it, so errors.As(err, &apiErr) works for all of them.
type APIError struct {
	// StatusCode is the HTTP status code from the response.
	StatusCode int

	// Status is the HTTP status line (e.g., "404 Not Found").
	Status string

	// Message is the error message from the response body.
	Message string

	// RequestID echoes the backend request id, when present.
	RequestID string

	// RetryAfter is parsed from the Retry-After header. Zero if absent.
	RetryAfter time.Duration

	// RawBody is the raw response body.
	RawBody []byte

	// Err is an optional wrapped error.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("API error: %d", e.StatusCode)
	if e.Message != "" {
		msg += " - " + e.Message
	}
	if e.RequestID != "" {
		msg += " (requestId: " + e.RequestID + ")"
	}
	return msg
}

// Unwrap returns the wrapped error, if any.
func (e *APIError) Unwrap() error {
	return e.Err
}

// AuthError is returned for HTTP 401 responses.
type AuthError struct {
	*APIError
}

func (e *AuthError) Unwrap() error { return e.APIError }

// ForbiddenError is returned for HTTP 403 responses.
type ForbiddenError struct {
	*APIError
}

func (e *ForbiddenError) Unwrap() error { return e.APIError }

// NotFoundError is returned for HTTP 404 responses.
type NotFoundError struct {
	*APIError
}

func (e *NotFoundError) Unwrap() error { return e.APIError }

// ConflictError is returned for HTTP 409 responses, e.g. when a call log
// for the same correlation id already exists.
type ConflictError struct {
	*APIError
}

func (e *ConflictError) Unwrap() error { return e.APIError }

// ValidationError is returned for HTTP 400 and 422 responses.
type ValidationError struct {
	*APIError
}

func (e *ValidationError) Unwrap() error { return e.APIError }

// RateLimitError is returned for HTTP 429 responses.
type RateLimitError struct {
	*APIError
}

func (e *RateLimitError) Unwrap() error { return e.APIError }

// ServerError is returned for HTTP 5xx responses.
type ServerError struct {
	*APIError
}

func (e *ServerError) Unwrap() error { return e.APIError }

type apiErrorBody struct {
	Message   string `json:"message"`
	Error     string `json:"error"`
	RequestID string `json:"requestId"`
}

// NewAPIError builds the typed error for resp. body is the already-read
// response body.
func NewAPIError(resp *http.Response, body []byte) error {
	base := &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		RawBody:    body,
		RequestID:  resp.Header.Get("X-Request-ID"),
	}

	var parsed apiErrorBody
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil {
		base.Message = parsed.Message
		if base.Message == "" {
			base.Message = parsed.Error
		}
		if parsed.RequestID != "" {
			base.RequestID = parsed.RequestID
		}
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			base.RetryAfter = time.Duration(seconds) * time.Second
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthError{APIError: base}
	case resp.StatusCode == http.StatusForbidden:
		return &ForbiddenError{APIError: base}
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{APIError: base}
	case resp.StatusCode == http.StatusConflict:
		return &ConflictError{APIError: base}
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		return &ValidationError{APIError: base}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{APIError: base}
	case resp.StatusCode >= 500:
		return &ServerError{APIError: base}
	default:
		return base
	}
}

// IsNotFound reports whether err is a 404.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsAuthError reports whether err is a 401.
func IsAuthError(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}

// IsForbidden reports whether err is a 403.
func IsForbidden(err error) bool {
	var e *ForbiddenError
	return errors.As(err, &e)
}

// IsConflict reports whether err is a 409.
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// IsValidation reports whether err is a 400 or 422.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsRateLimited reports whether err is a 429.
func IsRateLimited(err error) bool {
	var e *RateLimitError
	return errors.As(err, &e)
}

// IsServerError reports whether err is a 5xx.
func IsServerError(err error) bool {
	var e *ServerError
	return errors.As(err, &e)
}

// Cause is a short description of err for the operator's status line.
func Cause(err error) string {
	switch {
	case err == nil:
		return ""
	case IsAuthError(err):
		return "not signed in to the CRM"
	case IsForbidden(err):
		return "not permitted"
	case IsNotFound(err):
		return "not found"
	case IsConflict(err):
		return "already exists"
	case IsValidation(err):
		return "rejected as invalid"
	case IsRateLimited(err):
		return "too many requests, try again shortly"
	case IsServerError(err):
		return "CRM unavailable"
	default:
		return err.Error()
	}
}
