package perfstats

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// registry holds every thread ever registered. Threads are never removed so
// the state of finished goroutines stays reportable.
type registry[K comparable] struct {
	mu          sync.Mutex
	threads     []*Thread[K]
	window      uuid.UUID
	windowStart time.Time
}

func (r *registry[K]) register(t *Thread[K]) {
	r.mu.Lock()
	r.threads = append(r.threads, t)
	r.mu.Unlock()
}

type snapshot[K comparable] struct {
	threads     []*Thread[K]
	window      uuid.UUID
	windowStart time.Time
}

// snapshot copies the list of threads, not their contents.
func (r *registry[K]) snapshot() snapshot[K] {
	r.mu.Lock()
	defer r.mu.Unlock()
	threads := make([]*Thread[K], len(r.threads))
	copy(threads, r.threads)
	return snapshot[K]{
		threads:     threads,
		window:      r.window,
		windowStart: r.windowStart,
	}
}

// reset clears every thread and starts a new measurement window.
func (r *registry[K]) reset(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.threads {
		t.reset()
	}
	r.window = uuid.New()
	r.windowStart = now
}
