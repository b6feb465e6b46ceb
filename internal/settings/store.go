package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const defaultDebounce = 200 * time.Millisecond

// Store is the observable settings holder. Subscribers receive the newest
// settings after every effective change, whether it came from Update or from
// an edit of the backing file.
type Store struct {
	mu       sync.RWMutex
	path     string
	cur      Settings
	subs     map[chan Settings]struct{}
	log      *slog.Logger
	debounce time.Duration
}

// NewMemory returns a store that is never written to disk.
func NewMemory(initial Settings, log *slog.Logger) *Store {
	return &Store{
		cur:      initial,
		subs:     make(map[chan Settings]struct{}),
		log:      log,
		debounce: defaultDebounce,
	}
}

// Load reads path, or starts from Defaults when the file does not exist yet.
func Load(path string, log *slog.Logger) (*Store, error) {
	s := NewMemory(Defaults(), log)
	if path == "" {
		return s, nil
	}
	s.path = filepath.Clean(path)
	next, err := s.read()
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	s.cur = next
	return s, nil
}

// Path is the backing file, empty for memory stores.
func (s *Store) Path() string { return s.path }

// Snapshot returns the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Update applies fn to a copy of the current settings, validates and stores
// the result.
func (s *Store) Update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur
	fn(&next)
	if err := next.Validate(); err != nil {
		return s.cur, err
	}
	if next == s.cur {
		return next, nil
	}
	if err := s.write(next); err != nil {
		return s.cur, err
	}
	s.cur = next
	s.notifyLocked()
	return next, nil
}

// Replace stores next as a whole.
func (s *Store) Replace(next Settings) (Settings, error) {
	return s.Update(func(cur *Settings) { *cur = next })
}

// Subscribe returns a channel that receives the newest settings after every
// change. Only the latest value is buffered.
func (s *Store) Subscribe() (<-chan Settings, func()) {
	ch := make(chan Settings, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) notifyLocked() {
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s.cur
	}
}

// Reload re-reads the backing file. Invalid files are rejected and the
// current settings kept.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	next, err := s.read()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if next == s.cur {
		return nil
	}
	s.cur = next
	s.notifyLocked()
	return nil
}

// Watch reloads the settings whenever the backing file changes, until ctx
// is done. The parent directory is watched so editors that replace the file
// by rename are picked up.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return errors.New("settings store has no file to watch")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.log.Info("watching settings file", "path", s.path)
	go s.watchLoop(ctx, w)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			pending = time.After(s.debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Warn("settings watcher error", "error", err)
		case <-pending:
			pending = nil
			if err := s.Reload(); err != nil {
				s.log.Warn("settings reload rejected", "path", s.path, "error", err)
				continue
			}
			s.log.Info("settings reloaded", "path", s.path)
		}
	}
}

func (s *Store) read() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Settings{}, err
	}
	next := Defaults()
	if err := yaml.Unmarshal(data, &next); err != nil {
		return Settings{}, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if err := next.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid %s: %w", s.path, err)
	}
	return next, nil
}

// write must be called with the lock held.
func (s *Store) write(next Settings) error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return os.Rename(tmp, s.path)
}
