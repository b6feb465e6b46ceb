// Package progress turns reader events into reading status transitions and
// persisted scroll positions.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/readerd/internal/chapter"
	"github.com/dgallion1/readerd/internal/settings"
)

const (
	// ReadThreshold is the scroll position past which a chapter counts as read.
	ReadThreshold = 0.90
	// Step is the position change of one volume key press.
	Step = 0.05
)

// Repository is the chapter storage the tracker persists into.
type Repository interface {
	Chapter(ctx context.Context, id int) (chapter.Chapter, error)
	UpdateChapter(ctx context.Context, c chapter.Chapter) error
	RecordReading(ctx context.Context, id int, at time.Time) error
	RecordRead(ctx context.Context, id int, at time.Time) error
}

// Overrides holds positions shown to the reader in place of the persisted one.
type Overrides interface {
	Override(id int) (float64, bool)
	SetOverride(id int, position float64)
	ClearOverride(id int)
}

// Dispatcher runs tasks serially per key. The returned channel yields the
// task's error once it has run.
type Dispatcher interface {
	Submit(key int, task func(ctx context.Context) error) <-chan error
}

// Policy is the part of the settings the state machine depends on.
type Policy struct {
	MarkingType       settings.MarkingType
	MarkReadAsReading bool
}

// PolicyFrom extracts the tracker policy from settings.
func PolicyFrom(s settings.Settings) Policy {
	return Policy{MarkingType: s.MarkingType, MarkReadAsReading: s.MarkReadAsReading}
}

// Progress is what a reader sees for one chapter.
type Progress struct {
	ChapterID  int                   `json:"chapter_id"`
	Position   float64               `json:"position"`
	Status     chapter.ReadingStatus `json:"status"`
	Bookmarked bool                  `json:"bookmarked"`
	Overridden bool                  `json:"overridden"`
}

// Tracker applies reader events. Every event for a chapter runs on that
// chapter's lane of the dispatcher, so events for one chapter never
// interleave.
type Tracker struct {
	repo      Repository
	overrides Overrides
	dispatch  Dispatcher
	policy    func() Policy
	log       *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	watchers map[int]map[chan Progress]struct{}
}

func NewTracker(repo Repository, overrides Overrides, dispatch Dispatcher, policy func() Policy, log *slog.Logger) *Tracker {
	return &Tracker{
		repo:      repo,
		overrides: overrides,
		dispatch:  dispatch,
		policy:    policy,
		log:       log,
		now:       time.Now,
		watchers:  make(map[int]map[chan Progress]struct{}),
	}
}

func (t *Tracker) submit(op string, id int, task func(ctx context.Context) error) <-chan error {
	return t.dispatch.Submit(id, func(ctx context.Context) error {
		err := task(ctx)
		if err != nil {
			t.log.Error("progress update failed", "op", op, "chapter_id", id, "error", err)
		}
		return err
	})
}

// OnViewed handles a chapter becoming visible. Any override for it is
// dropped; under the OnView policy the chapter moves to Reading unless it is
// already Read and read chapters are not re-marked.
func (t *Tracker) OnViewed(id int) <-chan error {
	return t.submit("viewed", id, func(ctx context.Context) error {
		t.overrides.ClearOverride(id)
		c, err := t.repo.Chapter(ctx, id)
		if err != nil {
			return err
		}
		p := t.policy()
		if (!p.MarkReadAsReading && c.ReadingStatus == chapter.StatusRead) || p.MarkingType != settings.MarkOnView {
			t.notify(c)
			return nil
		}
		t.recordReading(ctx, id)
		c.ReadingStatus = chapter.StatusReading
		return t.persist(ctx, c)
	})
}

// OnScroll handles a scroll position report in [0, 1].
func (t *Tracker) OnScroll(id int, position float64) <-chan error {
	return t.submit("scroll", id, func(ctx context.Context) error {
		c, err := t.repo.Chapter(ctx, id)
		if err != nil {
			return err
		}
		return t.scroll(ctx, c, position)
	})
}

func (t *Tracker) scroll(ctx context.Context, c chapter.Chapter, position float64) error {
	if position < 0 || position > 1 {
		return fmt.Errorf("position %v out of range", position)
	}
	p := t.policy()

	if position > ReadThreshold {
		t.recordRead(ctx, c.ID)
		t.overrides.SetOverride(c.ID, position)
		c.ReadingStatus = chapter.StatusRead
		c.ReadingPosition = 0
		return t.persist(ctx, c)
	}

	if c.ReadingStatus == chapter.StatusRead && !p.MarkReadAsReading {
		t.overrides.SetOverride(c.ID, position)
		t.notify(c)
		return nil
	}
	if p.MarkingType == settings.MarkOnScroll {
		t.recordReading(ctx, c.ID)
		c.ReadingStatus = chapter.StatusReading
	}
	t.overrides.ClearOverride(c.ID)
	c.ReadingPosition = position
	return t.persist(ctx, c)
}

// MarkAsRead marks a chapter read and resets its position.
func (t *Tracker) MarkAsRead(id int) <-chan error {
	return t.submit("mark_read", id, func(ctx context.Context) error {
		c, err := t.repo.Chapter(ctx, id)
		if err != nil {
			return err
		}
		t.recordRead(ctx, id)
		c.ReadingStatus = chapter.StatusRead
		c.ReadingPosition = 0
		return t.persist(ctx, c)
	})
}

// Increment moves the persisted position forward one step when the result
// stays below 1.
func (t *Tracker) Increment(id int) <-chan error {
	return t.step("increment", id, Step)
}

// Deplete moves the persisted position back one step when the result stays
// above 0.
func (t *Tracker) Deplete(id int) <-chan error {
	return t.step("deplete", id, -Step)
}

func (t *Tracker) step(op string, id int, delta float64) <-chan error {
	return t.submit(op, id, func(ctx context.Context) error {
		c, err := t.repo.Chapter(ctx, id)
		if err != nil {
			return err
		}
		next := c.ReadingPosition + delta
		if next <= 0 || next >= 1 {
			return nil
		}
		return t.scroll(ctx, c, next)
	})
}

// ToggleBookmark flips the bookmark flag of a chapter.
func (t *Tracker) ToggleBookmark(id int) <-chan error {
	return t.submit("bookmark", id, func(ctx context.Context) error {
		c, err := t.repo.Chapter(ctx, id)
		if err != nil {
			return err
		}
		c.Bookmarked = !c.Bookmarked
		return t.persist(ctx, c)
	})
}

// ReleaseOverride drops the override of a chapter that is no longer active
// and tells its watchers about the persisted position.
func (t *Tracker) ReleaseOverride(id int) {
	if _, ok := t.overrides.Override(id); !ok {
		return
	}
	t.overrides.ClearOverride(id)
	c, err := t.repo.Chapter(context.Background(), id)
	if err != nil {
		return
	}
	t.notify(c)
}

// Progress reports the override for a chapter if one is pending, otherwise
// its persisted position.
func (t *Tracker) Progress(ctx context.Context, id int) (Progress, error) {
	c, err := t.repo.Chapter(ctx, id)
	if err != nil {
		return Progress{}, err
	}
	return t.view(c), nil
}

func (t *Tracker) view(c chapter.Chapter) Progress {
	p := Progress{
		ChapterID:  c.ID,
		Position:   c.ReadingPosition,
		Status:     c.ReadingStatus,
		Bookmarked: c.Bookmarked,
	}
	if pos, ok := t.overrides.Override(c.ID); ok {
		p.Position = pos
		p.Overridden = true
	}
	return p
}

// Watch streams the progress of a chapter after every tracker change. The
// current progress is delivered first when it can be read.
func (t *Tracker) Watch(ctx context.Context, id int) (<-chan Progress, func()) {
	ch := make(chan Progress, 1)

	// Registration and the first snapshot share the lock with notify, so no
	// change can slip in between them.
	t.mu.Lock()
	set, ok := t.watchers[id]
	if !ok {
		set = make(map[chan Progress]struct{})
		t.watchers[id] = set
	}
	set[ch] = struct{}{}
	if p, err := t.Progress(ctx, id); err == nil {
		ch <- p
	}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.watchers[id], ch)
			if len(t.watchers[id]) == 0 {
				delete(t.watchers, id)
			}
			t.mu.Unlock()
			close(ch)
		})
	}
}

func (t *Tracker) notify(c chapter.Chapter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.view(c)
	for ch := range t.watchers[c.ID] {
		select {
		case <-ch:
		default:
		}
		ch <- p
	}
}

func (t *Tracker) persist(ctx context.Context, c chapter.Chapter) error {
	if err := t.repo.UpdateChapter(ctx, c); err != nil {
		return fmt.Errorf("update chapter %d: %w", c.ID, err)
	}
	t.notify(c)
	return nil
}

func (t *Tracker) recordReading(ctx context.Context, id int) {
	if err := t.repo.RecordReading(ctx, id, t.now()); err != nil {
		t.log.Warn("record reading failed", "chapter_id", id, "error", err)
	}
}

func (t *Tracker) recordRead(ctx context.Context, id int) {
	if err := t.repo.RecordRead(ctx, id, t.now()); err != nil {
		t.log.Warn("record read failed", "chapter_id", id, "error", err)
	}
}
