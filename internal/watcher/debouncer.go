package watcher

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Debouncer coalesces bursts of file events into batches so an agent
// appending to a memory file, or an editor saving it several times, triggers
// one reload per file.
//
// Events for the same path merge as follows:
//   - CREATE then MODIFY is CREATE
//   - CREATE then DELETE cancels out
//   - DELETE then CREATE is MODIFY (replaced in place)
//   - RENAME then CREATE is MODIFY (atomic save over the old name)
//   - anything else keeps the latest operation
//
// A batch is emitted once no event has arrived for the window, or once the
// oldest pending event has waited maxWait, whichever comes first.
type Debouncer struct {
	window  time.Duration
	maxWait time.Duration

	mu      sync.Mutex
	pending map[string]FileEvent
	oldest  time.Time
	timer   *time.Timer
	output  chan []FileEvent
	stopped bool
}

// DebouncerOption configures a Debouncer.
type DebouncerOption func(*Debouncer)

// WithMaxWait bounds how long a continuous stream of events can delay a
// batch. Zero or negative disables the bound.
func WithMaxWait(d time.Duration) DebouncerOption {
	return func(db *Debouncer) { db.maxWait = d }
}

// NewDebouncer creates a debouncer. maxWait defaults to ten windows.
func NewDebouncer(window time.Duration, opts ...DebouncerOption) *Debouncer {
	d := &Debouncer{
		window:  window,
		maxWait: 10 * window,
		pending: make(map[string]FileEvent),
		output:  make(chan []FileEvent, 10),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Add queues an event, merging it with any pending event for the same path.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if len(d.pending) == 0 {
		d.oldest = time.Now()
	}
	if prev, ok := d.pending[event.Path]; ok {
		if merged, keep := merge(prev, event); keep {
			d.pending[event.Path] = merged
		} else {
			delete(d.pending, event.Path)
		}
	} else {
		d.pending[event.Path] = event
	}

	d.schedule()
}

// merge combines a pending event with a newer one for the same path.
// keep is false when the two cancel out.
func merge(prev, next FileEvent) (merged FileEvent, keep bool) {
	switch {
	case prev.Operation == OpCreate && next.Operation == OpModify:
		return prev, true
	case prev.Operation == OpCreate && next.Operation == OpDelete:
		return FileEvent{}, false
	case (prev.Operation == OpDelete || prev.Operation == OpRename) && next.Operation == OpCreate:
		next.Operation = OpModify
		return next, true
	default:
		return next, true
	}
}

// schedule must be called with the lock held.
func (d *Debouncer) schedule() {
	if d.timer != nil {
		d.timer.Stop()
	}
	wait := d.window
	if d.maxWait > 0 {
		if left := d.maxWait - time.Since(d.oldest); left < wait {
			wait = max(left, 0)
		}
	}
	d.timer = time.AfterFunc(wait, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, ev := range d.pending {
		batch = append(batch, ev)
	}
	slices.SortFunc(batch, func(a, b FileEvent) int { return strings.Compare(a.Path, b.Path) })

	select {
	case d.output <- batch:
		clear(d.pending)
	default:
		// Consumer is behind; keep the events and try again.
		slog.Debug("debouncer output full, retrying", slog.Int("pending", len(batch)))
		d.timer = time.AfterFunc(d.window, d.flush)
	}
}

// Pending returns the number of paths waiting to be emitted.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Output returns the channel of batches, sorted by path.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop discards pending events and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
