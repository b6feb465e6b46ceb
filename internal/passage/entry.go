package passage

import (
	"context"
	"sync"
)

// Status is the lifecycle stage of a passage.
type Status int

const (
	StatusLoading Status = iota
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// State is one observation of a passage.
type State struct {
	Status  Status
	Content string
	Err     error
}

// Terminal reports whether the state ends a fetch.
func (s State) Terminal() bool { return s.Status != StatusLoading }

// subscriberBuffer bounds how far a subscriber may fall behind before the
// oldest pending states are dropped.
const subscriberBuffer = 4

// Entry is the shared, observable passage of one chapter. Every caller that
// asks for the same chapter gets the same Entry.
type Entry struct {
	chapterID int

	mu    sync.Mutex
	state State
	raw   []byte
	done  chan struct{}
	subs  map[chan State]struct{}
	gen   uint64 // bumped by every fetch started for this entry
}

func newEntry(chapterID int) *Entry {
	return &Entry{
		chapterID: chapterID,
		state:     State{Status: StatusLoading},
		done:      make(chan struct{}),
		subs:      make(map[chan State]struct{}),
	}
}

func (e *Entry) ChapterID() int { return e.chapterID }

// State returns the latest state.
func (e *Entry) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe returns a channel that first replays the latest state and then
// receives every later one. Call the returned func to stop.
func (e *Entry) Subscribe() (<-chan State, func()) {
	ch := make(chan State, subscriberBuffer)
	e.mu.Lock()
	ch <- e.state
	e.subs[ch] = struct{}{}
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, ch)
			e.mu.Unlock()
			close(ch)
		})
	}
}

// Wait blocks until the entry reaches Success or Error.
func (e *Entry) Wait(ctx context.Context) (State, error) {
	for {
		e.mu.Lock()
		st, done := e.state, e.done
		e.mu.Unlock()
		if st.Terminal() {
			return st, nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// reset moves the entry back to Loading. Results of fetches started before
// the reset are dropped.
func (e *Entry) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	if e.state.Terminal() {
		e.done = make(chan struct{})
	}
	e.publishLocked(State{Status: StatusLoading})
}

// begin starts a new fetch generation and returns it.
func (e *Entry) begin() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	return e.gen
}

// finishFetch records the result of fetch generation gen. Results of a
// generation superseded by a later fetch are dropped; it reports whether st
// was applied.
func (e *Entry) finishFetch(gen uint64, st State, raw []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return false
	}
	e.finishLocked(st, raw)
	return true
}

// finish records a terminal state and the raw bytes it was rendered from.
func (e *Entry) finish(st State, raw []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finishLocked(st, raw)
}

func (e *Entry) finishLocked(st State, raw []byte) {
	wasTerminal := e.state.Terminal()
	e.raw = raw
	e.publishLocked(st)
	if !wasTerminal {
		close(e.done)
	}
}

// rawContent returns the fetched bytes of a successful entry.
func (e *Entry) rawContent() ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Status != StatusSuccess || e.raw == nil {
		return nil, false
	}
	return e.raw, true
}

func (e *Entry) publishLocked(st State) {
	e.state = st
	for ch := range e.subs {
		for {
			select {
			case ch <- st:
			default:
				// Full: drop the oldest pending state and try again.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}
