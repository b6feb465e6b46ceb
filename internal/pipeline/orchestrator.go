package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/readerd/internal/config"
	"github.com/dgallion1/readerd/internal/passage"
	"github.com/dgallion1/readerd/internal/settings"
	"github.com/dgallion1/readerd/internal/store"
)

// Orchestrator owns the reading sessions of a server and the infrastructure
// they share: the write pool, fetch stats and the settings subscription.
type Orchestrator struct {
	cfg      config.Config
	store    *store.Store
	source   PassageSource
	settings *settings.Store
	log      *slog.Logger

	pool     *Pool
	stats    *passage.FetchStats
	sessions *Registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrchestrator(cfg config.Config, st *store.Store, source PassageSource, set *settings.Store, log *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		store:    st,
		source:   source,
		settings: set,
		log:      log,
		pool:     NewPool(cfg.WriteWorkers, cfg.WriteQueue, log),
		stats:    passage.NewFetchStats(cfg.StatsWindow),
	}
	o.sessions = NewRegistry(cfg.SessionTTL, func(s *Session) {
		s.Close()
	})
	return o
}

// Start launches the write pool, the session janitor and the settings
// listener.
func (o *Orchestrator) Start(ctx context.Context) {
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.pool.Start(o.ctx)

	updates, unsubscribe := o.settings.Subscribe()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-o.ctx.Done():
				return
			case st, ok := <-updates:
				if !ok {
					return
				}
				o.applySettings(st)
			}
		}
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		interval := max(o.cfg.SessionTTL/4, time.Second)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-o.ctx.Done():
				return
			case <-ticker.C:
				o.sessions.Cleanup()
			}
		}
	}()
}

// Stop closes every session and drains pending writes.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	o.sessions.Flush()
	o.pool.Stop()
}

func (o *Orchestrator) applySettings(st settings.Settings) {
	sessions := o.sessions.All()
	for _, s := range sessions {
		s.ApplySettings(st)
	}
	o.log.Info("settings applied", "sessions", len(sessions))
}

// OpenSession starts a session on novelID. initialChapterID may be 0 to
// resume at the first unfinished chapter.
func (o *Orchestrator) OpenSession(ctx context.Context, novelID, initialChapterID int) (*Session, error) {
	if o.ctx == nil {
		return nil, fmt.Errorf("orchestrator not started")
	}
	s := newSession(o.ctx, uuid.NewString(), o)
	if err := s.OpenNovel(ctx, novelID, initialChapterID); err != nil {
		s.Close()
		return nil, err
	}
	o.sessions.Put(s)
	return s, nil
}

// Session returns a live session and extends its lifetime.
func (o *Orchestrator) Session(id string) (*Session, bool) {
	return o.sessions.Get(id)
}

// CloseSession closes and forgets a session.
func (o *Orchestrator) CloseSession(id string) bool {
	return o.sessions.Delete(id)
}

// Sessions lists every live session.
func (o *Orchestrator) Sessions() []*Session {
	return o.sessions.All()
}

// TrimMemory answers a memory-pressure signal: every session keeps only its
// active chapter.
func (o *Orchestrator) TrimMemory() {
	sessions := o.sessions.All()
	for _, s := range sessions {
		s.ClearMemory()
	}
	o.log.Info("trimmed memory", "sessions", len(sessions))
}

// FetchStats snapshots passage fetch latencies.
func (o *Orchestrator) FetchStats() passage.StatsSnapshot {
	return o.stats.Snapshot()
}

// Flush waits for queued progress writes.
func (o *Orchestrator) Flush(ctx context.Context) error {
	return o.pool.Flush(ctx)
}

// QueueDepth returns the number of queued progress writes.
func (o *Orchestrator) QueueDepth() int {
	return o.pool.QueueDepth()
}

// Store is the chapter repository.
func (o *Orchestrator) Store() *store.Store {
	return o.store
}

// Settings is the reader settings store.
func (o *Orchestrator) Settings() *settings.Store {
	return o.settings
}
