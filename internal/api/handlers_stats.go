package api

import (
	"net/http"
)

func (s *Server) handleFetchStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":       s.orchestrator.FetchStats(),
		"sessions":    len(s.orchestrator.Sessions()),
		"queue_depth": s.orchestrator.QueueDepth(),
	})
}
