package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/readerd/internal/chapter"
	"github.com/dgallion1/readerd/internal/pipeline"
	"github.com/dgallion1/readerd/internal/store"
)

const maxBodyBytes = 1 << 20

type createSessionRequest struct {
	NovelID   int `json:"novel_id"`
	ChapterID int `json:"chapter_id"`
}

func (s *Server) handleListNovels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"novels": s.orchestrator.Store().Novels(r.Context()),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.NovelID <= 0 {
		jsonError(w, "novel_id is required", http.StatusBadRequest)
		return
	}

	sess, err := s.orchestrator.OpenSession(r.Context(), req.NovelID, req.ChapterID)
	if err != nil {
		sessionError(w, err)
		return
	}
	s.log.Info("session opened", "session_id", sess.ID, "novel_id", req.NovelID)
	writeJSON(w, http.StatusCreated, sess.Info())
}

// session resolves the {sessionID} URL parameter, writing a 404 when unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*pipeline.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.orchestrator.Session(id)
	if !ok {
		jsonError(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !s.orchestrator.CloseSession(id) {
		jsonError(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "closed": true})
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	items, idx := sess.Items()
	if items == nil {
		items = []chapter.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":         items,
		"current_index": idx,
	})
}

type selectRequest struct {
	ChapterID int `json:"chapter_id"`
}

func (s *Server) handleSelectChapter(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req selectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	selected := sess.SelectChapter(req.ChapterID)
	writeJSON(w, http.StatusOK, map[string]any{
		"selected":           selected,
		"current_chapter_id": sess.Current(),
	})
}

func (s *Server) handleToggleBookmark(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	done, err := sess.ToggleBookmark()
	if err != nil {
		sessionError(w, err)
		return
	}
	if !s.await(w, r, done) {
		return
	}
	p, err := sess.Tracker().Progress(r.Context(), sess.Current())
	if err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleTrimSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.ClearMemory()
	writeJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) handleTrimAll(w http.ResponseWriter, r *http.Request) {
	s.orchestrator.TrimMemory()
	writeJSON(w, http.StatusOK, map[string]any{"sessions": len(s.orchestrator.Sessions())})
}

// await waits for a queued progress write, mapping its failure to a response.
func (s *Server) await(w http.ResponseWriter, r *http.Request, done <-chan error) bool {
	select {
	case err := <-done:
		if err != nil {
			sessionError(w, err)
			return false
		}
		return true
	case <-r.Context().Done():
		jsonError(w, "request cancelled", http.StatusServiceUnavailable)
		return false
	}
}

// sessionError maps session and store errors to HTTP statuses.
func sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, pipeline.ErrUnknownChapter):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, pipeline.ErrSessionClosed):
		jsonError(w, err.Error(), http.StatusGone)
	case errors.Is(err, pipeline.ErrNoNovel):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, pipeline.ErrPoolStopped):
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}
