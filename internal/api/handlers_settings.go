package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/dgallion1/readerd/internal/style"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orchestrator.Settings().Snapshot())
}

// handlePutSettings applies a partial update: fields missing from the body
// keep their current value.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	store := s.orchestrator.Settings()
	next := store.Snapshot()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&next); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := style.ValidateCSS(next.UserCSS); err != nil {
		jsonError(w, "user_css: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := next.Validate(); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	saved, err := store.Replace(next)
	if err != nil {
		jsonError(w, "failed to save settings: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

type cssValidation struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// handleValidateCSS checks a user stylesheet sent as the raw request body.
func (s *Server) handleValidateCSS(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		jsonError(w, "failed to read body", http.StatusBadRequest)
		return
	}
	resp := cssValidation{Valid: true}
	if err := style.ValidateCSS(string(body)); err != nil {
		resp = cssValidation{Error: err.Error()}
	}
	writeJSON(w, http.StatusOK, resp)
}
