package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/readerd/internal/arena"
	"github.com/dgallion1/readerd/internal/chapter"
	"github.com/dgallion1/readerd/internal/content"
	"github.com/dgallion1/readerd/internal/passage"
	"github.com/dgallion1/readerd/internal/progress"
	"github.com/dgallion1/readerd/internal/settings"
	"github.com/dgallion1/readerd/internal/store"
)

var (
	// ErrUnknownChapter is returned for chapter ids outside the open novel.
	ErrUnknownChapter = errors.New("chapter not in session")
	// ErrNoNovel is returned before OpenNovel succeeded.
	ErrNoNovel = errors.New("no novel open")
	// ErrSessionClosed is returned after Close.
	ErrSessionClosed = errors.New("session closed")
)

// PassageSource fetches raw chapter passages.
type PassageSource interface {
	FetchPassage(ctx context.Context, c chapter.Chapter) ([]byte, error)
}

// Session is one reader of one novel. It owns the arena holding the cached
// passages and progress overrides of that novel.
type Session struct {
	ID        string
	CreatedAt time.Time

	repo     *store.Store
	source   PassageSource
	settings *settings.Store
	log      *slog.Logger

	arena   *arena.Arena[*passage.Entry]
	cache   *passage.Cache
	tracker *progress.Tracker

	mu         sync.RWMutex
	closed     bool
	novel      store.Novel
	chapters   map[int]chapter.Chapter
	items      []chapter.Item
	current    int
	renderer   *content.Renderer
	unwatch    func()
	watchDone  chan struct{}
	lastAccess time.Time
}

// SessionInfo is the JSON view of a session.
type SessionInfo struct {
	ID           string       `json:"session_id"`
	NovelID      int          `json:"novel_id"`
	NovelTitle   string       `json:"novel_title"`
	ChapterType  chapter.Type `json:"chapter_type"`
	Mode         content.Mode `json:"mode"`
	Current      int          `json:"current_chapter_id"`
	CurrentIndex int          `json:"current_index"`
	Items        int          `json:"items"`
	Cached       int          `json:"cached_passages"`
	Keys         []int        `json:"arena_keys"`
	CreatedAt    time.Time    `json:"created_at"`
	LastAccess   time.Time    `json:"last_access"`
}

func newSession(ctx context.Context, id string, o *Orchestrator) *Session {
	s := &Session{
		ID:         id,
		CreatedAt:  time.Now(),
		lastAccess: time.Now(),
		repo:       o.store,
		source:     o.source,
		settings:   o.settings,
		log:        o.log.With("session_id", id),
		arena:      arena.New[*passage.Entry](),
		chapters:   make(map[int]chapter.Chapter),
	}
	s.cache = passage.NewCache(ctx, s.arena, passage.Config{
		Limit:   o.cfg.CacheLimit,
		Window:  o.cfg.CacheWindow,
		Workers: o.cfg.FetchWorkers,
	}, s.render, o.stats, s.log)
	s.tracker = progress.NewTracker(o.store, s.arena, o.pool, func() progress.Policy {
		return progress.PolicyFrom(s.settings.Snapshot())
	}, s.log)
	return s
}

// OpenNovel loads the chapter list of novelID and keeps it current. Switching
// to a different novel drops every cached passage and override first.
func (s *Session) OpenNovel(ctx context.Context, novelID, initialChapterID int) error {
	novel, err := s.repo.Novel(ctx, novelID)
	if err != nil {
		return err
	}
	opts := s.settings.Snapshot()
	renderer, err := content.NewRenderer(novel.Type, opts.StringToHTML)
	if err != nil {
		return fmt.Errorf("novel %d: %w", novelID, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.novel.ID != 0 && s.novel.ID != novelID {
		s.arena.Reset()
		s.current = 0
	}
	prevUnwatch, prevDone := s.unwatch, s.watchDone
	s.novel = novel
	s.renderer = renderer
	s.unwatch, s.watchDone = nil, nil
	s.mu.Unlock()

	if prevUnwatch != nil {
		prevUnwatch()
		<-prevDone
	}

	updates, unwatch := s.repo.WatchChapters(novelID)
	first := <-updates
	s.applyChapters(first)

	s.mu.Lock()
	idx := chapter.ResumeIndex(s.items, initialChapterID, opts.ResumeFirstUnread)
	if idx >= 0 {
		s.current = s.items[idx].Chapter.ID
	}
	s.unwatch = unwatch
	s.watchDone = make(chan struct{})
	done := s.watchDone
	current := s.current
	s.mu.Unlock()
	s.cache.SetCurrent(current)

	go func() {
		defer close(done)
		for list := range updates {
			s.applyChapters(list)
		}
	}()

	s.log.Info("novel opened", "novel_id", novelID, "chapters", len(first),
		"current_chapter_id", current, "mode", renderer.Mode())
	return nil
}

// applyChapters rebuilds the reader items from a new chapter list.
func (s *Session) applyChapters(list []chapter.Chapter) {
	showDividers := s.settings.Snapshot().ShowChapterDivider

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chapters = make(map[int]chapter.Chapter, len(list))
	order := make([]int, 0, len(list))
	for _, c := range list {
		s.chapters[c.ID] = c
		order = append(order, c.ID)
	}
	s.items = chapter.BuildItems(list, showDividers)
	s.cache.SetOrder(order)
}

// ApplySettings picks up changed reader settings: the divider layout, the
// display mode and the styling of every cached passage.
func (s *Session) ApplySettings(st settings.Settings) {
	s.mu.Lock()
	if s.closed || s.novel.ID == 0 {
		s.mu.Unlock()
		return
	}
	list := make([]chapter.Chapter, 0, len(s.chapters))
	for _, it := range s.items {
		if it.Kind == chapter.KindChapter {
			list = append(list, *it.Chapter)
		}
	}
	s.items = chapter.BuildItems(list, st.ShowChapterDivider)
	if r, err := content.NewRenderer(s.novel.Type, st.StringToHTML); err == nil {
		s.renderer = r
	}
	s.mu.Unlock()

	s.cache.Rerender()
}

// render is the passage.RenderFunc of this session.
func (s *Session) render(chapterID int, raw []byte) (string, error) {
	s.mu.RLock()
	r := s.renderer
	title := s.chapters[chapterID].Title
	s.mu.RUnlock()
	if r == nil {
		return "", ErrNoNovel
	}

	st := s.settings.Snapshot()
	return r.Render(raw, title, content.Options{
		IndentSize:       st.IndentSize,
		ParagraphSpacing: st.ParagraphSpacing,
		ReaderCSS:        st.ReaderCSS(),
		UserCSS:          st.UserCSS,
	})
}

func (s *Session) chapter(id int) (chapter.Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return chapter.Chapter{}, ErrSessionClosed
	}
	if s.novel.ID == 0 {
		return chapter.Chapter{}, ErrNoNovel
	}
	c, ok := s.chapters[id]
	if !ok {
		return chapter.Chapter{}, fmt.Errorf("chapter %d: %w", id, ErrUnknownChapter)
	}
	return c, nil
}

func (s *Session) fetcher(id int) passage.Fetcher {
	return func(ctx context.Context) ([]byte, error) {
		c, err := s.chapter(id)
		if err != nil {
			return nil, err
		}
		return s.source.FetchPassage(ctx, c)
	}
}

// Passage returns the shared passage entry of a chapter, fetching it on first
// use.
func (s *Session) Passage(chapterID int) (*passage.Entry, error) {
	if _, err := s.chapter(chapterID); err != nil {
		return nil, err
	}
	return s.cache.Get(chapterID, s.fetcher(chapterID)), nil
}

// RetryPassage fetches a chapter's passage again.
func (s *Session) RetryPassage(chapterID int) (*passage.Entry, error) {
	if _, err := s.chapter(chapterID); err != nil {
		return nil, err
	}
	return s.cache.Retry(chapterID, s.fetcher(chapterID)), nil
}

// SelectChapter makes chapterID the active chapter. Unknown ids are ignored
// and reported with false.
func (s *Session) SelectChapter(chapterID int) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if _, ok := s.chapters[chapterID]; !ok {
		s.mu.Unlock()
		return false
	}
	prev := s.current
	s.current = chapterID
	s.mu.Unlock()

	if prev != 0 && prev != chapterID {
		s.tracker.ReleaseOverride(prev)
	}
	s.tracker.OnViewed(chapterID)
	s.cache.SetCurrent(chapterID)
	s.cache.PruneAsync()
	return true
}

// Tracker is the progress tracker bound to this session's overrides.
func (s *Session) Tracker() *progress.Tracker { return s.tracker }

// CheckChapter reports whether chapterID belongs to the open novel.
func (s *Session) CheckChapter(chapterID int) error {
	_, err := s.chapter(chapterID)
	return err
}

// ToggleBookmark flips the bookmark of the active chapter.
func (s *Session) ToggleBookmark() (<-chan error, error) {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()
	if current == 0 {
		return nil, ErrNoNovel
	}
	return s.tracker.ToggleBookmark(current), nil
}

// ClearMemory drops everything cached except the active chapter.
func (s *Session) ClearMemory() {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()
	s.cache.Clear(current)
}

// Items returns the reader items and the index of the active chapter.
func (s *Session) Items() ([]chapter.Item, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]chapter.Item, len(s.items))
	copy(items, s.items)
	return items, chapter.IndexOf(items, s.current)
}

// Current is the active chapter id, 0 when none.
func (s *Session) Current() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Info snapshots the session.
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := SessionInfo{
		ID:           s.ID,
		NovelID:      s.novel.ID,
		NovelTitle:   s.novel.Title,
		ChapterType:  s.novel.Type,
		Current:      s.current,
		CurrentIndex: chapter.IndexOf(s.items, s.current),
		Items:        len(s.items),
		Cached:       s.cache.Len(),
		Keys:         s.arena.Keys(),
		CreatedAt:    s.CreatedAt,
		LastAccess:   s.lastAccess,
	}
	if s.renderer != nil {
		info.Mode = s.renderer.Mode()
	}
	return info
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

// Close stops the chapter subscription, cancels in-flight fetches and drops
// all in-memory state. Persisted chapters are untouched.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unwatch, done := s.unwatch, s.watchDone
	s.unwatch, s.watchDone = nil, nil
	s.items = nil
	s.chapters = map[int]chapter.Chapter{}
	s.current = 0
	s.mu.Unlock()

	if unwatch != nil {
		unwatch()
		<-done
	}
	s.cache.Close()
	s.arena.Reset()
	s.log.Info("session closed")
}
