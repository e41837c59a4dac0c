package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/basis-protocol/tracker/errkind"
)

// envelope is the `{success, data, error}` shape every response uses.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// respond writes a success envelope with the status the caller passes
// (201 for creation endpoints, 200 otherwise).
func respond(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// respondErr maps err to an HTTP status via errkind and writes an error
// envelope. Non-TrackerError errors (programmer bugs, decode failures not
// already wrapped) surface as 500.
func respondErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind := errkind.KindOf(err); kind != "" {
		status = errkind.HTTPStatus(kind)
	}
	writeJSON(w, status, envelope{Success: false, Error: err.Error()})
}

func badRequest(w http.ResponseWriter, kind errkind.Kind, format string, args ...interface{}) {
	err := errkind.New(kind, format, args...)
	respondErr(w, err)
}
