package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"photoart/gateway"
)

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorResponse{Error: msg, Details: details})
}

// writeError renders gateway errors with their own status and message;
// anything else is an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		writeMessage(w, gwErr.HTTPStatus(), gwErr.Message, gwErr.Details)
		return
	}
	writeMessage(w, http.StatusInternalServerError, "Internal server error", "")
}
