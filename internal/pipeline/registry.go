package pipeline

import (
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
)

// Registry holds live sessions with an idle TTL. Expired or deleted sessions
// are handed to the evict callback, which closes them.
type Registry struct {
	items *cache.Cache
	ttl   time.Duration
}

// NewRegistry creates a registry without a janitor goroutine; the owner calls
// Cleanup on its own schedule.
func NewRegistry(ttl time.Duration, evict func(*Session)) *Registry {
	c := cache.New(ttl, 0)
	c.OnEvicted(func(_ string, v any) {
		if s, ok := v.(*Session); ok {
			evict(s)
		}
	})
	return &Registry{items: c, ttl: ttl}
}

func (r *Registry) Put(s *Session) {
	r.items.Set(s.ID, s, cache.DefaultExpiration)
}

// Get returns a live session and extends its TTL.
func (r *Registry) Get(id string) (*Session, bool) {
	v, ok := r.items.Get(id)
	if !ok {
		return nil, false
	}
	s := v.(*Session)
	s.touch()
	r.items.Set(id, s, cache.DefaultExpiration)
	return s, true
}

// Delete removes and evicts a session. It reports whether the id was known.
func (r *Registry) Delete(id string) bool {
	if _, ok := r.items.Get(id); !ok {
		return false
	}
	r.items.Delete(id)
	return true
}

// All lists live sessions, oldest first.
func (r *Registry) All() []*Session {
	items := r.items.Items()
	out := make([]*Session, 0, len(items))
	for _, it := range items {
		out = append(out, it.Object.(*Session))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Cleanup evicts expired sessions.
func (r *Registry) Cleanup() {
	r.items.DeleteExpired()
}

// Flush evicts every session.
func (r *Registry) Flush() {
	for id := range r.items.Items() {
		r.items.Delete(id)
	}
}

func (r *Registry) Len() int {
	return r.items.ItemCount()
}
