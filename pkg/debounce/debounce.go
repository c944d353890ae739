// Package debounce provides a per-key fragment aggregator. Fragments
// accumulate in arrival order and flush to a sink once a key has been quiet
// for the configured window. It backs partial-transcript assembly and
// end-of-utterance detection on the audio egress path.
package debounce

import (
	"sync"
	"time"
)

// DefaultWindow is the quiet period after the last fragment before a flush.
const DefaultWindow = 100 * time.Millisecond

// Aggregator accumulates fragments per key and flushes after a quiet period.
// Combine folds each fragment into the running value; Sink receives the
// folded value when the key's timer expires with no further arrivals.
type Aggregator[T any] struct {
	window  time.Duration
	combine func(acc, fragment T) T
	sink    func(key string, value T)

	mu      sync.Mutex
	pending map[string]*entry[T]
	stopped bool
}

type entry[T any] struct {
	value T
	timer *time.Timer

	// gen increments each time the timer is rearmed. A timer that had
	// already fired when Stop missed it carries a stale gen, and its flush
	// is ignored so the new fragment gets its full quiet period.
	gen uint64
}

// New creates an Aggregator. A window of zero uses DefaultWindow.
func New[T any](window time.Duration, combine func(acc, fragment T) T, sink func(key string, value T)) *Aggregator[T] {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Aggregator[T]{
		window:  window,
		combine: combine,
		sink:    sink,
		pending: make(map[string]*entry[T]),
	}
}

// Add appends a fragment for key and resets its quiet-period timer.
func (a *Aggregator[T]) Add(key string, fragment T) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}

	e, ok := a.pending[key]
	if !ok {
		e = &entry[T]{}
		a.pending[key] = e
	} else {
		e.timer.Stop()
	}
	e.value = a.combine(e.value, fragment)
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(a.window, func() { a.flush(key, gen) })
	a.mu.Unlock()
}

// flush delivers the accumulated value for key and clears its state.
// A concurrent Clear may have removed the key, or a concurrent Add may have
// rearmed the timer after this one fired; both leave nothing to do.
func (a *Aggregator[T]) flush(key string, gen uint64) {
	a.mu.Lock()
	e, ok := a.pending[key]
	if !ok || e.gen != gen || a.stopped {
		a.mu.Unlock()
		return
	}
	delete(a.pending, key)
	value := e.value
	a.mu.Unlock()

	a.sink(key, value)
}

// Clear discards any pending value for key and cancels its timer, so a
// stale flush can never fire into cleared state.
func (a *Aggregator[T]) Clear(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.pending[key]; ok {
		e.timer.Stop()
		delete(a.pending, key)
	}
}

// Pending reports whether key has an undelivered value.
func (a *Aggregator[T]) Pending(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.pending[key]
	return ok
}

// Stop cancels every pending timer and rejects further fragments.
func (a *Aggregator[T]) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	for key, e := range a.pending {
		e.timer.Stop()
		delete(a.pending, key)
	}
}
