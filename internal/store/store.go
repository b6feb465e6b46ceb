package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgallion1/readerd/internal/chapter"
)

const stateFileName = "library.json"

// ErrNotFound is returned for unknown novel or chapter ids.
var ErrNotFound = errors.New("not found")

// Novel is the per-novel metadata the reader needs.
type Novel struct {
	ID    int          `json:"id"`
	Title string       `json:"title"`
	Type  chapter.Type `json:"chapter_type"`
	Dir   string       `json:"dir,omitempty"`
}

// state is the persisted form of the store.
type state struct {
	Novels   map[int]Novel           `json:"novels"`
	Chapters map[int]chapter.Chapter `json:"chapters"`
	History  map[int]chapter.History `json:"history"`
}

// Store is a thread-safe chapter repository. With a path it persists every
// mutation as JSON; without one it is memory only.
type Store struct {
	mu       sync.RWMutex
	path     string
	data     state
	watchers map[int]map[*watcher]struct{}
}

type watcher struct {
	ch chan []chapter.Chapter
}

// New creates a memory-only store.
func New() *Store {
	return &Store{
		data:     emptyState(),
		watchers: make(map[int]map[*watcher]struct{}),
	}
}

// Open creates or loads a store persisted under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s := New()
	s.path = filepath.Join(dir, stateFileName)
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return s, nil
}

func emptyState() state {
	return state{
		Novels:   make(map[int]Novel),
		Chapters: make(map[int]chapter.Chapter),
		History:  make(map[int]chapter.History),
	}
}

// PutNovel stores novel metadata and replaces its chapter list.
func (s *Store) PutNovel(ctx context.Context, novel Novel, chapters []chapter.Chapter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.data.Chapters {
		if c.NovelID == novel.ID {
			delete(s.data.Chapters, id)
		}
	}
	for _, c := range chapters {
		c.NovelID = novel.ID
		if c.ReadingStatus == "" {
			c.ReadingStatus = chapter.StatusUnread
		}
		s.data.Chapters[c.ID] = c
	}
	s.data.Novels[novel.ID] = novel
	s.notifyLocked(novel.ID)
	return s.save()
}

// Novel returns novel metadata.
func (s *Store) Novel(ctx context.Context, id int) (Novel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.data.Novels[id]
	if !ok {
		return Novel{}, fmt.Errorf("novel %d: %w", id, ErrNotFound)
	}
	return n, nil
}

// Novels lists every novel ordered by id.
func (s *Store) Novels(ctx context.Context) []Novel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Novel, 0, len(s.data.Novels))
	for _, n := range s.data.Novels {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Chapter returns a chapter by id.
func (s *Store) Chapter(ctx context.Context, id int) (chapter.Chapter, error) {
	if err := ctx.Err(); err != nil {
		return chapter.Chapter{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data.Chapters[id]
	if !ok {
		return chapter.Chapter{}, fmt.Errorf("chapter %d: %w", id, ErrNotFound)
	}
	return c, nil
}

// UpdateChapter replaces a stored chapter.
func (s *Store) UpdateChapter(ctx context.Context, c chapter.Chapter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Chapters[c.ID]; !ok {
		return fmt.Errorf("chapter %d: %w", c.ID, ErrNotFound)
	}
	s.data.Chapters[c.ID] = c
	s.notifyLocked(c.NovelID)
	return s.save()
}

// Chapters returns a novel's chapters in source order.
func (s *Store) Chapters(ctx context.Context, novelID int) ([]chapter.Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data.Novels[novelID]; !ok {
		return nil, fmt.Errorf("novel %d: %w", novelID, ErrNotFound)
	}
	return s.chaptersLocked(novelID), nil
}

func (s *Store) chaptersLocked(novelID int) []chapter.Chapter {
	var out []chapter.Chapter
	for _, c := range s.data.Chapters {
		if c.NovelID == novelID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// WatchChapters streams a novel's chapter list: the current list first, then
// the latest list after every change. Slow readers only see the newest list.
func (s *Store) WatchChapters(novelID int) (<-chan []chapter.Chapter, func()) {
	w := &watcher{ch: make(chan []chapter.Chapter, 1)}

	s.mu.Lock()
	set, ok := s.watchers[novelID]
	if !ok {
		set = make(map[*watcher]struct{})
		s.watchers[novelID] = set
	}
	set[w] = struct{}{}
	w.ch <- s.chaptersLocked(novelID)
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watchers[novelID], w)
			close(w.ch)
		})
	}
	return w.ch, cancel
}

func (s *Store) notifyLocked(novelID int) {
	set := s.watchers[novelID]
	if len(set) == 0 {
		return
	}
	list := s.chaptersLocked(novelID)
	for w := range set {
		select {
		case <-w.ch:
		default:
		}
		w.ch <- list
	}
}

// RecordReading notes that a chapter was opened.
func (s *Store) RecordReading(ctx context.Context, id int, at time.Time) error {
	return s.updateHistory(ctx, id, func(h *chapter.History) { h.StartedAt = at })
}

// RecordRead notes that a chapter was finished.
func (s *Store) RecordRead(ctx context.Context, id int, at time.Time) error {
	return s.updateHistory(ctx, id, func(h *chapter.History) { h.ReadAt = at })
}

// History returns the reading history of a chapter.
func (s *Store) History(ctx context.Context, id int) (chapter.History, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.data.History[id]
	return h, ok
}

func (s *Store) updateHistory(ctx context.Context, id int, fn func(*chapter.History)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Chapters[id]; !ok {
		return fmt.Errorf("chapter %d: %w", id, ErrNotFound)
	}
	h := s.data.History[id]
	h.ChapterID = id
	fn(&h)
	s.data.History[id] = h
	return s.save()
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	loaded := emptyState()
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	if loaded.Novels == nil {
		loaded.Novels = make(map[int]Novel)
	}
	if loaded.Chapters == nil {
		loaded.Chapters = make(map[int]chapter.Chapter)
	}
	if loaded.History == nil {
		loaded.History = make(map[int]chapter.History)
	}
	s.data = loaded
	return nil
}

// save must be called with the write lock held.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
