// Package httputil provides small helpers for writing HTTP responses.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/devserve/devserve/pkg/resterr"
)

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto its status code and {code, message} envelope
// and writes it as JSON.
func WriteError(w http.ResponseWriter, err error) error {
	status, env := resterr.Map(err)
	return WriteJSON(w, status, env)
}

// WriteNoContent writes a 204 response with no body and no Content-Type.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
