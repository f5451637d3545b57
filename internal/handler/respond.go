// Package handler exposes the relay's HTTP surface: stream admission,
// publishing, history replay, heartbeat ingestion, and authorization
// decisions.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	relayerrors "github.com/hivemesh/relay/internal/errors"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeError maps an error to an HTTP response. RouterError values carry
// their own status code mapping; anything else is a 500.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	requestID := r.Header.Get("X-Request-ID")

	var re *relayerrors.RouterError
	if !errors.As(err, &re) {
		re = relayerrors.InternalError("internal server error", err)
	}

	logger.Warn("HTTP error response",
		zap.Int("status_code", re.HTTPStatus()),
		zap.String("error_code", re.Code.String()),
		zap.String("message", re.Message),
		zap.String("request_id", requestID),
	)

	writeJSON(w, re.HTTPStatus(), ErrorResponse{
		Status:    "error",
		ErrorCode: re.Code.String(),
		Message:   re.Message,
		RequestID: requestID,
	})
}
