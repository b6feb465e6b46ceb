// Package passage caches the rendered passages of a reading session. Each
// chapter has at most one in-flight fetch and one shared, observable Entry.
package passage

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dgallion1/readerd/internal/arena"
)

// Defaults for the pruning window.
const (
	DefaultLimit  = 10
	DefaultWindow = 3
)

// Fetcher loads the raw passage of one chapter.
type Fetcher func(ctx context.Context) ([]byte, error)

// RenderFunc turns fetched bytes into displayable content.
type RenderFunc func(chapterID int, raw []byte) (string, error)

// Config bounds the cache.
type Config struct {
	Limit   int // passages held before pruning starts
	Window  int // neighbours kept on each side of the current chapter
	Workers int // concurrent fetches
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

type fetched struct {
	raw     []byte
	content string
}

// Cache holds the passages of one session in its arena.
type Cache struct {
	arena  *arena.Arena[*Entry]
	cfg    Config
	log    *slog.Logger
	stats  *FetchStats
	group  singleflight.Group
	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	current atomic.Int64
	pruning atomic.Bool

	orderMu sync.RWMutex
	order   []int

	// closeMu orders background launches against Close.
	closeMu sync.Mutex
	closed  bool

	renderMu sync.RWMutex
	render   RenderFunc
}

// NewCache creates a cache on top of a. Fetches run on a context derived from
// ctx that is only cancelled by Close.
func NewCache(ctx context.Context, a *arena.Arena[*Entry], cfg Config, render RenderFunc, stats *FetchStats, log *slog.Logger) *Cache {
	cfg = cfg.withDefaults()
	cctx, cancel := context.WithCancel(ctx)
	return &Cache{
		arena:  a,
		cfg:    cfg,
		log:    log,
		stats:  stats,
		sem:    make(chan struct{}, cfg.Workers),
		ctx:    cctx,
		cancel: cancel,
		render: render,
	}
}

// SetCurrent records the chapter the reader is on. Pruning keeps its
// neighbourhood.
func (c *Cache) SetCurrent(chapterID int) {
	c.current.Store(int64(chapterID))
}

// SetOrder records the chapter ids in display order. The pruning window is
// measured in this order; until it is set nothing is pruned.
func (c *Cache) SetOrder(ids []int) {
	order := slices.Clone(ids)
	c.orderMu.Lock()
	c.order = order
	c.orderMu.Unlock()
}

func (c *Cache) displayOrder() []int {
	c.orderMu.RLock()
	defer c.orderMu.RUnlock()
	return c.order
}

// Current is the chapter last passed to SetCurrent.
func (c *Cache) Current() int {
	return int(c.current.Load())
}

// SetRenderer swaps the render function used by later fetches and Rerender.
func (c *Cache) SetRenderer(render RenderFunc) {
	c.renderMu.Lock()
	c.render = render
	c.renderMu.Unlock()
}

func (c *Cache) renderer() RenderFunc {
	c.renderMu.RLock()
	defer c.renderMu.RUnlock()
	return c.render
}

// Get returns the shared entry for chapterID, starting a fetch the first time
// the chapter is requested.
func (c *Cache) Get(chapterID int, fetch Fetcher) *Entry {
	entry, created := c.arena.PassageOrStore(chapterID, func() *Entry {
		return newEntry(chapterID)
	})
	if created {
		c.start(entry, fetch)
		c.PruneAsync()
	}
	return entry
}

// Peek returns the entry for chapterID without fetching.
func (c *Cache) Peek(chapterID int) (*Entry, bool) {
	return c.arena.Passage(chapterID)
}

// Retry bumps the chapter's retry token, moves its entry back to Loading and
// fetches again. A fetch still in flight is joined rather than duplicated.
func (c *Cache) Retry(chapterID int, fetch Fetcher) *Entry {
	entry, created := c.arena.PassageOrStore(chapterID, func() *Entry {
		return newEntry(chapterID)
	})
	c.arena.BumpRetry(chapterID)
	if !created {
		entry.reset()
	}
	c.start(entry, fetch)
	return entry
}

// start fetches entry in the background. The entry is finished by the
// newest fetch started for it, even when it has since left the arena.
func (c *Cache) start(entry *Entry, fetch Fetcher) {
	id := entry.ChapterID()
	gen := entry.begin()
	log := c.log.With("chapter_id", id)

	launched := c.goBackground(func() {
		v, err, shared := c.group.Do(strconv.Itoa(id), func() (any, error) {
			return c.load(id, fetch)
		})
		var st State
		var raw []byte
		if err != nil {
			st = State{Status: StatusError, Err: err}
		} else {
			f := v.(fetched)
			st, raw = State{Status: StatusSuccess, Content: f.content}, f.raw
		}
		if !entry.finishFetch(gen, st, raw) {
			log.Debug("discarding superseded fetch result", "generation", gen)
			return
		}
		if err != nil {
			log.Error("passage fetch failed", "error", err, "shared", shared)
		}
	})
	if !launched {
		entry.finishFetch(gen, State{Status: StatusError, Err: context.Canceled}, nil)
	}
}

// goBackground runs fn on a tracked goroutine unless the cache is closed.
func (c *Cache) goBackground(fn func()) bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

// load runs one fetch on the bounded pool and renders the result.
func (c *Cache) load(id int, fetch Fetcher) (fetched, error) {
	select {
	case c.sem <- struct{}{}:
	case <-c.ctx.Done():
		return fetched{}, c.ctx.Err()
	}
	defer func() { <-c.sem }()

	start := time.Now()
	raw, err := fetch(c.ctx)
	c.stats.Record(time.Since(start), err)
	if err != nil {
		return fetched{}, err
	}
	content, err := c.renderer()(id, raw)
	if err != nil {
		return fetched{}, err
	}
	return fetched{raw: raw, content: content}, nil
}

// Prune drops passages more than Window display positions away from the
// current chapter once more than Limit are held.
func (c *Cache) Prune() []int {
	current := c.Current()
	removed := c.arena.Prune(current, c.displayOrder(), c.cfg.Window, c.cfg.Limit)
	if len(removed) > 0 {
		c.log.Debug("pruned passages", "current", current, "removed", removed)
	}
	return removed
}

// PruneAsync runs Prune in the background unless a prune is already running.
func (c *Cache) PruneAsync() {
	if !c.pruning.CompareAndSwap(false, true) {
		return
	}
	launched := c.goBackground(func() {
		defer c.pruning.Store(false)
		c.Prune()
	})
	if !launched {
		c.pruning.Store(false)
	}
}

// Clear drops every slot except the one for except.
func (c *Cache) Clear(except int) []int {
	removed := c.arena.Retain(except)
	c.log.Info("cleared passage cache", "kept", except, "removed", len(removed))
	return removed
}

// Rerender applies the current render function to every successful entry
// and publishes the new content.
func (c *Cache) Rerender() {
	render := c.renderer()
	for _, entry := range c.arena.Passages() {
		raw, ok := entry.rawContent()
		if !ok {
			continue
		}
		content, err := render(entry.ChapterID(), raw)
		if err != nil {
			c.log.Error("rerender failed", "chapter_id", entry.ChapterID(), "error", err)
			entry.finish(State{Status: StatusError, Err: err}, raw)
			continue
		}
		entry.finish(State{Status: StatusSuccess, Content: content}, raw)
	}
}

// Len is the number of cached passages.
func (c *Cache) Len() int {
	return c.arena.PassageCount()
}

// Close cancels in-flight fetches and waits for background work.
func (c *Cache) Close() {
	c.closeMu.Lock()
	c.closed = true
	c.closeMu.Unlock()
	c.cancel()
	c.wg.Wait()
}
