package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/readerd/internal/passage"
	"github.com/dgallion1/readerd/internal/pipeline"
)

// maxPassageWait bounds ?wait=1 requests.
const maxPassageWait = 30 * time.Second

type passageResponse struct {
	ChapterID int    `json:"chapter_id"`
	Status    string `json:"status"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
}

func passageView(id int, st passage.State) passageResponse {
	resp := passageResponse{ChapterID: id, Status: st.Status.String(), Content: st.Content}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return resp
}

// chapter resolves the session and the {chapterID} parameter.
func (s *Server) chapter(w http.ResponseWriter, r *http.Request) (*pipeline.Session, int, bool) {
	sess, ok := s.session(w, r)
	if !ok {
		return nil, 0, false
	}
	id, err := strconv.Atoi(chi.URLParam(r, "chapterID"))
	if err != nil {
		jsonError(w, "invalid chapter id", http.StatusBadRequest)
		return nil, 0, false
	}
	if err := sess.CheckChapter(id); err != nil {
		sessionError(w, err)
		return nil, 0, false
	}
	return sess, id, true
}

func (s *Server) handlePassage(w http.ResponseWriter, r *http.Request) {
	sess, id, ok := s.chapter(w, r)
	if !ok {
		return
	}
	entry, err := sess.Passage(id)
	if err != nil {
		sessionError(w, err)
		return
	}
	s.writePassage(w, r, id, entry)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	sess, id, ok := s.chapter(w, r)
	if !ok {
		return
	}
	entry, err := sess.RetryPassage(id)
	if err != nil {
		sessionError(w, err)
		return
	}
	s.writePassage(w, r, id, entry)
}

func (s *Server) writePassage(w http.ResponseWriter, r *http.Request, id int, entry *passage.Entry) {
	st := entry.State()
	if r.URL.Query().Get("wait") == "1" {
		ctx, cancel := context.WithTimeout(r.Context(), maxPassageWait)
		defer cancel()
		st, _ = entry.Wait(ctx)
	}
	code := http.StatusOK
	if !st.Terminal() {
		code = http.StatusAccepted
	}
	writeJSON(w, code, passageView(id, st))
}

// handlePassageStream sends every passage state as a server-sent event until
// the client goes away.
func (s *Server) handlePassageStream(w http.ResponseWriter, r *http.Request) {
	sess, id, ok := s.chapter(w, r)
	if !ok {
		return
	}
	entry, err := sess.Passage(id)
	if err != nil {
		sessionError(w, err)
		return
	}
	states, stop := entry.Subscribe()
	defer stop()

	stream(w, r, func(send func(event string, v any) bool) {
		for {
			select {
			case <-r.Context().Done():
				return
			case st, ok := <-states:
				if !ok || !send("passage", passageView(id, st)) {
					return
				}
			}
		}
	})
}

type scrollRequest struct {
	Position *float64 `json:"position"`
}

func (s *Server) handleScroll(w http.ResponseWriter, r *http.Request) {
	sess, id, ok := s.chapter(w, r)
	if !ok {
		return
	}
	var req scrollRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Position == nil || *req.Position < 0 || *req.Position > 1 {
		jsonError(w, "position must be between 0 and 1", http.StatusBadRequest)
		return
	}
	s.progressTask(w, r, sess, id, sess.Tracker().OnScroll(id, *req.Position))
}

func (s *Server) handleIncrement(w http.ResponseWriter, r *http.Request) {
	sess, id, ok := s.chapter(w, r)
	if !ok {
		return
	}
	s.progressTask(w, r, sess, id, sess.Tracker().Increment(id))
}

func (s *Server) handleDeplete(w http.ResponseWriter, r *http.Request) {
	sess, id, ok := s.chapter(w, r)
	if !ok {
		return
	}
	s.progressTask(w, r, sess, id, sess.Tracker().Deplete(id))
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	sess, id, ok := s.chapter(w, r)
	if !ok {
		return
	}
	s.progressTask(w, r, sess, id, sess.Tracker().MarkAsRead(id))
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	sess, id, ok := s.chapter(w, r)
	if !ok {
		return
	}
	p, err := sess.Tracker().Progress(r.Context(), id)
	if err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// progressTask waits for a queued tracker task and answers with the
// resulting progress.
func (s *Server) progressTask(w http.ResponseWriter, r *http.Request, sess *pipeline.Session, id int, done <-chan error) {
	if !s.await(w, r, done) {
		return
	}
	p, err := sess.Tracker().Progress(r.Context(), id)
	if err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	sess, id, ok := s.chapter(w, r)
	if !ok {
		return
	}
	updates, stop := sess.Tracker().Watch(r.Context(), id)
	defer stop()

	stream(w, r, func(send func(event string, v any) bool) {
		for {
			select {
			case <-r.Context().Done():
				return
			case p, ok := <-updates:
				if !ok || !send("progress", p) {
					return
				}
			}
		}
	})
}

// stream writes server-sent events produced by body.
func stream(w http.ResponseWriter, r *http.Request, body func(send func(event string, v any) bool)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	body(func(event string, v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	})
}
