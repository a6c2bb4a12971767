package perfstats

import (
	"sync"

	"github.com/getsentry/perfstats/internal/measure"
)

// Thread is the call stack state of a single goroutine. Only its owner calls
// Enter and Exit; the lock is there for the report path.
type Thread[K comparable] struct {
	mu          sync.Mutex
	source      measure.Source
	tracepoints map[K]*tracepoint[K]
	current     *tracepoint[K]
}

func newThread[K comparable](source measure.Source) *Thread[K] {
	return &Thread[K]{
		source:      source,
		tracepoints: make(map[K]*tracepoint[K]),
	}
}

// resolve reuses the parent for direct recursion and looks the key up
// otherwise.
func (t *Thread[K]) resolve(key K, parent Token[K]) *tracepoint[K] {
	if parent.isParentOf(key) {
		return parent.parent
	}
	tp, exists := t.tracepoints[key]
	if !exists {
		tp = &tracepoint[K]{key: key}
		t.tracepoints[key] = tp
	}
	return tp
}

// Enter marks the start of a traced unit identified by key and returns the
// token to hand to Exit.
func (t *Thread[K]) Enter(key K) Token[K] {
	t.mu.Lock()
	parent := Token[K]{parent: t.current}
	tp := t.resolve(key, parent)
	tp.callCount++

	if !parent.isParentOf(key) {
		t.current = tp
		now := t.source.Measure()
		tp.resumeMarker = now
		if tp.depth == 0 {
			tp.startMarker = now
		}
		tp.depth++
		if parent.parent != nil {
			parent.parent.self += elapsed(parent.parent.resumeMarker, now)
		}
	}
	t.mu.Unlock()
	return parent
}

// Exit marks the end of a traced unit. parent must be the token returned by
// the matching Enter.
func (t *Thread[K]) Exit(key K, parent Token[K]) {
	t.mu.Lock()
	if !parent.isParentOf(key) {
		tp := t.resolve(key, parent)
		t.current = parent.parent
		now := t.source.Measure()

		// An exit without a matching enter has nothing to close.
		if tp.depth > 0 {
			tp.self += elapsed(tp.resumeMarker, now)
			tp.depth--
			if tp.depth == 0 {
				tp.total += elapsed(tp.startMarker, now)
			}
		}
		if parent.parent != nil {
			parent.parent.resumeMarker = now
		}
	}
	t.mu.Unlock()
}

func (t *Thread[K]) reset() {
	t.mu.Lock()
	clear(t.tracepoints)
	t.current = nil
	t.mu.Unlock()
}

// merge folds the thread's records into tallies and returns the keys still on
// the stack.
func (t *Thread[K]) merge(tallies map[K]*tracepoint[K]) []K {
	var active []K
	t.mu.Lock()
	for key, tp := range t.tracepoints {
		tally, exists := tallies[key]
		if !exists {
			tally = &tracepoint[K]{key: key}
			tallies[key] = tally
		}
		tally.total += tp.total
		tally.self += tp.self
		tally.callCount += tp.callCount
		if tp.depth > 0 {
			active = append(active, key)
		}
	}
	t.mu.Unlock()
	return active
}

func elapsed(from, to uint64) uint64 {
	if to < from {
		return 0
	}
	return to - from
}
