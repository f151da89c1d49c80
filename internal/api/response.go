package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

// ErrorResponse is a structured error response for the API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a structured error response and logs the underlying
// cause without exposing it to the client.
func WriteError(log zerolog.Logger, w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}

	if err != nil {
		log.Error().Err(err).Int("status", status).Msg(message)
	} else {
		log.Warn().Int("status", status).Msg(message)
	}

	if err := WriteJSON(w, status, resp); err != nil {
		log.Error().Err(err).Msg("failed to encode error response")
	}
}
