package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/recallhq/recall/internal/log"
)

// dataEnvelope wraps successful payloads: {"data": ...}.
type dataEnvelope struct {
	Data any `json:"data"`
}

// errorEnvelope wraps failures: {"error": {"code": ..., "message": ...}}.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code.
// Uses buffer-first strategy so headers are only sent after successful
// encoding; an encoding failure still gets a proper 500.
func writeJSON(w http.ResponseWriter, logger log.Logger, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("encoding JSON response", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected
		logger.Debug("writing response body", "error", err)
	}
}

// writeData writes a success envelope.
func writeData(w http.ResponseWriter, logger log.Logger, status int, payload any) {
	writeJSON(w, logger, status, dataEnvelope{Data: payload})
}

// writeError writes an error envelope.
func writeError(w http.ResponseWriter, logger log.Logger, status int, code, message string) {
	writeJSON(w, logger, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}
