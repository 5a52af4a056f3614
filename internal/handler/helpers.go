package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dmchat/internal/apperr"
	"github.com/dmchat/internal/logger"
)

// envelope is the uniform response shape: {"success": bool, "message": ...,
// "data": ...}. data is omitted when empty.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

// writeError maps the error to an HTTP status via its kind and emits the
// classified message. Internal causes never reach the client.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(err), envelope{Success: false, Message: apperr.Message(err)})
}

func writeErrorMsg(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
