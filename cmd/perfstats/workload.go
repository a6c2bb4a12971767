package main

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"reflect"
	"sync"
	"time"

	"github.com/getsentry/perfstats/internal/perfstats"
)

// The workload traces its units by type, the way class based
// instrumentation would.
type (
	job       struct{}
	tokenizer struct{}
	parser    struct{}
	evaluator struct{}
	resolver  struct{}

	worker struct {
		thread *perfstats.Thread[reflect.Type]
		depth  int
		sum    [sha256.Size]byte
	}
)

var (
	jobType       = reflect.TypeOf(job{})
	tokenizerType = reflect.TypeOf(tokenizer{})
	parserType    = reflect.TypeOf(parser{})
	evaluatorType = reflect.TypeOf(evaluator{})
	resolverType  = reflect.TypeOf(resolver{})
)

func newWorker(stats *perfstats.Stats[reflect.Type], depth int) *worker {
	return &worker{thread: stats.Thread(), depth: depth}
}

func (w *worker) trace(key reflect.Type, fn func()) {
	tok := w.thread.Enter(key)
	defer w.thread.Exit(key, tok)
	fn()
}

func (w *worker) run() {
	w.trace(jobType, func() {
		w.tokenize(64)
		w.parse(w.depth)
		w.eval(w.depth)
	})
}

func (w *worker) tokenize(rounds int) {
	w.trace(tokenizerType, func() {
		for i := 0; i < rounds; i++ {
			w.sum = sha256.Sum256(w.sum[:])
		}
	})
}

// parse recurses into itself.
func (w *worker) parse(depth int) {
	w.trace(parserType, func() {
		w.tokenize(8)
		if depth > 0 {
			w.parse(depth - 1)
		}
	})
}

// eval and resolve recurse into each other.
func (w *worker) eval(depth int) {
	w.trace(evaluatorType, func() {
		binary.LittleEndian.PutUint64(w.sum[:], uint64(depth))
		if depth > 0 {
			w.resolve(depth)
		}
	})
}

func (w *worker) resolve(depth int) {
	w.trace(resolverType, func() {
		w.sum = sha256.Sum256(w.sum[:])
		w.eval(depth - 1)
	})
}

// runWorkload starts the workers and returns a function waiting for them to
// stop once ctx is done.
func runWorkload(ctx context.Context, stats *perfstats.Stats[reflect.Type], cfg ServiceConfig) func() {
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := newWorker(stats, cfg.WorkloadDepth)
			ticker := time.NewTicker(cfg.WorkloadInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					w.run()
				}
			}
		}()
	}
	return wg.Wait
}
