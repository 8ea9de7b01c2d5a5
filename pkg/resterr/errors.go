// Package resterr defines the error family shared by all devserve services.
//
// Every error the REST surface can produce is one of five typed variants,
// distinguished by HTTP status code. Handlers return these directly; the
// dispatcher converts them into the {code, message} JSON envelope. Anything
// outside this family is treated as an unexpected fault and surfaced to the
// client only as a generic 500.
package resterr

import "net/http"

// StatusCodeError is implemented by errors that map to an HTTP status code.
type StatusCodeError interface {
	error
	StatusCode() int
}

// RequestError is returned for malformed input, queries, or paths.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "Request error"
}

// StatusCode returns the HTTP status code for this error.
func (e *RequestError) StatusCode() int { return http.StatusBadRequest }

// AuthorizationError is returned when identity is required but absent.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "Unauthorized"
}

// StatusCode returns the HTTP status code for this error.
func (e *AuthorizationError) StatusCode() int { return http.StatusUnauthorized }

// CredentialError is returned for invalid credentials or tokens, and for
// authenticated requests that rules forbid.
type CredentialError struct {
	Message string
}

func (e *CredentialError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "Forbidden"
}

// StatusCode returns the HTTP status code for this error.
func (e *CredentialError) StatusCode() int { return http.StatusForbidden }

// NotFoundError is returned when a collection, record, or path is missing.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "Resource not found"
}

// StatusCode returns the HTTP status code for this error.
func (e *NotFoundError) StatusCode() int { return http.StatusNotFound }

// ConflictError is returned when a unique identity already exists.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "Resource conflict"
}

// StatusCode returns the HTTP status code for this error.
func (e *ConflictError) StatusCode() int { return http.StatusConflict }

// Envelope is the JSON error body returned to clients.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Map converts an error into its HTTP status and client-facing envelope.
// Errors outside the known family map to a generic 500 without detail;
// callers are expected to log the original error server-side.
func Map(err error) (int, Envelope) {
	if sce, ok := err.(StatusCodeError); ok {
		status := sce.StatusCode()
		return status, Envelope{Code: status, Message: sce.Error()}
	}
	return http.StatusInternalServerError, Envelope{
		Code:    http.StatusInternalServerError,
		Message: "Server Error",
	}
}
