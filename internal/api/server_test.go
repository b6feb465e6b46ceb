package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/readerd/internal/chapter"
	"github.com/dgallion1/readerd/internal/config"
	"github.com/dgallion1/readerd/internal/pipeline"
	"github.com/dgallion1/readerd/internal/settings"
	"github.com/dgallion1/readerd/internal/store"
)

type stubSource struct{}

func (stubSource) FetchPassage(ctx context.Context, c chapter.Chapter) ([]byte, error) {
	if c.ID == 3 {
		return nil, fmt.Errorf("chapter %d unavailable", c.ID)
	}
	return []byte(fmt.Sprintf("chapter %d\nsecond line", c.ID)), nil
}

func testConfig() config.Config {
	return config.Config{
		FetchWorkers: 2,
		WriteWorkers: 2,
		WriteQueue:   16,
		CacheLimit:   10,
		CacheWindow:  3,
		SessionTTL:   time.Minute,
		StatsWindow:  time.Hour,
	}
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	st := store.New()
	err := st.PutNovel(ctx, store.Novel{ID: 7, Title: "Novel", Type: chapter.TypeString}, []chapter.Chapter{
		{ID: 1, Title: "One", Order: 0},
		{ID: 2, Title: "Two", Order: 1},
		{ID: 3, Title: "Three", Order: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	set := settings.NewMemory(settings.Defaults(), log)
	orch := pipeline.NewOrchestrator(cfg, st, stubSource{}, set, log)
	orch.Start(ctx)
	t.Cleanup(orch.Stop)
	return NewServer(orch, log, cfg)
}

func do(t *testing.T, s http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func openSession(t *testing.T, s http.Handler, chapterID int) string {
	t.Helper()
	w := do(t, s, http.MethodPost, "/api/sessions", map[string]int{"novel_id": 7, "chapter_id": chapterID})
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: %d %s", w.Code, w.Body.String())
	}
	info := decode[pipeline.SessionInfo](t, w)
	if info.ID == "" {
		t.Fatal("empty session id")
	}
	return info.ID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testConfig())
	w := do(t, s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestAuth(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = "secret"
	s := newTestServer(t, cfg)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"wrong key", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/novels", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			s.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	// Health stays public.
	if w := do(t, s, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 2
	s := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		if w := do(t, s, http.MethodGet, "/api/novels", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}
	if w := do(t, s, http.MethodGet, "/api/novels", nil); w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
}

func TestListNovels(t *testing.T) {
	s := newTestServer(t, testConfig())
	w := do(t, s, http.MethodGet, "/api/novels", nil)
	got := decode[struct {
		Novels []store.Novel `json:"novels"`
	}](t, w)
	if len(got.Novels) != 1 || got.Novels[0].ID != 7 {
		t.Errorf("novels = %+v", got.Novels)
	}
}

func TestCreateSessionErrors(t *testing.T) {
	s := newTestServer(t, testConfig())
	tests := []struct {
		name string
		body any
		want int
	}{
		{"bad json", "{", http.StatusBadRequest},
		{"missing novel", map[string]int{}, http.StatusBadRequest},
		{"unknown novel", map[string]int{"novel_id": 99}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, s, http.MethodPost, "/api/sessions", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestSessionFlow(t *testing.T) {
	s := newTestServer(t, testConfig())
	id := openSession(t, s, 1)
	base := "/api/sessions/" + id

	w := do(t, s, http.MethodGet, base, nil)
	info := decode[pipeline.SessionInfo](t, w)
	if info.NovelID != 7 || info.Current != 1 {
		t.Errorf("info = %+v", info)
	}

	w = do(t, s, http.MethodGet, base+"/items", nil)
	items := decode[struct {
		Items        []chapter.Item `json:"items"`
		CurrentIndex int            `json:"current_index"`
	}](t, w)
	if len(items.Items) == 0 || items.CurrentIndex != 0 {
		t.Errorf("items = %+v", items)
	}

	w = do(t, s, http.MethodPut, base+"/current", map[string]int{"chapter_id": 2})
	sel := decode[map[string]any](t, w)
	if sel["selected"] != true || sel["current_chapter_id"] != float64(2) {
		t.Errorf("select = %v", sel)
	}

	w = do(t, s, http.MethodPut, base+"/current", map[string]int{"chapter_id": 42})
	sel = decode[map[string]any](t, w)
	if sel["selected"] != false || sel["current_chapter_id"] != float64(2) {
		t.Errorf("unknown select = %v", sel)
	}

	if w := do(t, s, http.MethodPost, base+"/trim-memory", nil); w.Code != http.StatusOK {
		t.Errorf("trim status = %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/trim-memory", nil); w.Code != http.StatusOK {
		t.Errorf("trim all status = %d", w.Code)
	}

	if w := do(t, s, http.MethodDelete, base, nil); w.Code != http.StatusOK {
		t.Errorf("delete status = %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, base, nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", w.Code)
	}
	if w := do(t, s, http.MethodDelete, base, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d", w.Code)
	}
}

func TestPassage(t *testing.T) {
	s := newTestServer(t, testConfig())
	base := "/api/sessions/" + openSession(t, s, 1)

	w := do(t, s, http.MethodGet, base+"/chapters/1/passage?wait=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	got := decode[passageResponse](t, w)
	if got.Status != "success" || !strings.Contains(got.Content, "second line") {
		t.Errorf("passage = %+v", got)
	}

	w = do(t, s, http.MethodGet, base+"/chapters/3/passage?wait=1", nil)
	got = decode[passageResponse](t, w)
	if got.Status != "error" || !strings.Contains(got.Error, "unavailable") {
		t.Errorf("failed passage = %+v", got)
	}

	w = do(t, s, http.MethodPost, base+"/chapters/3/retry?wait=1", nil)
	got = decode[passageResponse](t, w)
	if got.Status != "error" {
		t.Errorf("retried passage = %+v", got)
	}

	if w := do(t, s, http.MethodGet, base+"/chapters/abc/passage", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, base+"/chapters/99/passage", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown chapter status = %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/sessions/nope/chapters/1/passage", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d", w.Code)
	}
}

func TestProgress(t *testing.T) {
	s := newTestServer(t, testConfig())
	base := "/api/sessions/" + openSession(t, s, 1)

	w := do(t, s, http.MethodPost, base+"/chapters/2/progress", map[string]float64{"position": 0.95})
	if w.Code != http.StatusOK {
		t.Fatalf("scroll status = %d %s", w.Code, w.Body.String())
	}
	p := decode[map[string]any](t, w)
	if p["status"] != string(chapter.StatusRead) || p["overridden"] != true {
		t.Errorf("progress after scroll = %v", p)
	}

	for _, body := range []string{`{}`, `{"position": 1.5}`, `{"position": -0.1}`, `{`} {
		if w := do(t, s, http.MethodPost, base+"/chapters/2/progress", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d", body, w.Code)
		}
	}

	w = do(t, s, http.MethodPost, base+"/chapters/1/read", nil)
	p = decode[map[string]any](t, w)
	if p["status"] != string(chapter.StatusRead) {
		t.Errorf("mark read = %v", p)
	}

	w = do(t, s, http.MethodGet, base+"/chapters/1/progress", nil)
	if w.Code != http.StatusOK {
		t.Errorf("get progress status = %d", w.Code)
	}

	w = do(t, s, http.MethodPost, base+"/bookmark", nil)
	p = decode[map[string]any](t, w)
	if p["bookmarked"] != true || p["chapter_id"] != float64(1) {
		t.Errorf("bookmark = %v", p)
	}
}

func TestProgressStream(t *testing.T) {
	s := newTestServer(t, testConfig())
	base := "/api/sessions/" + openSession(t, s, 1)

	ts := httptest.NewServer(s)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+base+"/chapters/2/progress/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, `"chapter_id":2`) {
				t.Errorf("event = %s", line)
			}
			return
		}
	}
	t.Fatalf("stream ended without an event: %v", sc.Err())
}

func TestSettings(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := do(t, s, http.MethodGet, "/api/settings", nil)
	cur := decode[settings.Settings](t, w)
	if cur != settings.Defaults() {
		t.Errorf("settings = %+v", cur)
	}

	w = do(t, s, http.MethodPut, "/api/settings", `{"text_size": 18, "marking_type": "onscroll"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d %s", w.Code, w.Body.String())
	}
	cur = decode[settings.Settings](t, w)
	if cur.TextSize != 18 || cur.MarkingType != settings.MarkOnScroll || cur.IndentSize != 1 {
		t.Errorf("updated = %+v", cur)
	}

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"bad size", `{"text_size": 0}`},
		{"bad marking", `{"marking_type": "sometimes"}`},
		{"bad color", `{"container_color": "white"}`},
		{"bad css", `{"user_css": "p { color: red"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, s, http.MethodPut, "/api/settings", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}

	w = do(t, s, http.MethodGet, "/api/settings", nil)
	if got := decode[settings.Settings](t, w); got.TextSize != 18 {
		t.Errorf("rejected update leaked: %+v", got)
	}
}

func TestValidateCSS(t *testing.T) {
	s := newTestServer(t, testConfig())
	tests := []struct {
		css   string
		valid bool
	}{
		{"p { color: red; }", true},
		{"", true},
		{"p { color: red;", false},
		{"}", false},
	}
	for _, tt := range tests {
		w := do(t, s, http.MethodPost, "/api/css/validate", tt.css)
		got := decode[cssValidation](t, w)
		if got.Valid != tt.valid {
			t.Errorf("%q: valid = %v (%s)", tt.css, got.Valid, got.Error)
		}
	}
}

func TestFetchStats(t *testing.T) {
	s := newTestServer(t, testConfig())
	base := "/api/sessions/" + openSession(t, s, 1)
	do(t, s, http.MethodGet, base+"/chapters/1/passage?wait=1", nil)

	w := do(t, s, http.MethodGet, "/api/stats/fetch", nil)
	got := decode[map[string]any](t, w)
	if got["sessions"] != float64(1) {
		t.Errorf("stats = %v", got)
	}
	stats, ok := got["stats"].(map[string]any)
	if !ok || stats["count"] != float64(1) {
		t.Errorf("stats = %v", got["stats"])
	}
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = "secret"
	cfg.CORSOrigins = []string{"http://reader.local"}
	s := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/novels", nil)
	req.Header.Set("Origin", "http://reader.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://reader.local" {
		t.Errorf("allow origin = %q", got)
	}
	if w.Code == http.StatusUnauthorized {
		t.Error("preflight reached auth")
	}
}
