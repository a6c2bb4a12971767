// Package perfstats accounts the time (or bytes allocated) spent inside
// traced units of work, split into total and self, per goroutine, and merges
// it into a report on demand.
//
// Each goroutine registers its own Thread and calls Enter before a traced
// unit runs and Exit after it returns:
//
//	th := stats.Thread()
//	tok := th.Enter("parse")
//	defer th.Exit("parse", tok)
package perfstats

import (
	"context"
	"reflect"

	"github.com/rs/zerolog"
	"github.com/zoobzio/clockz"

	"github.com/getsentry/perfstats/internal/measure"
)

const defaultTitle = "Performance stats"

type (
	Config struct {
		// Source defaults to the process wide selection of the measure package.
		Source measure.Source
		// Unit defaults to the unit of the selected mode.
		Unit   measure.Unit
		Title  string
		Logger *zerolog.Logger
		// Clock timestamps measurement windows.
		Clock clockz.Clock
	}

	Stats[K comparable] struct {
		source measure.Source
		unit   measure.Unit
		title  string
		format KeyFormatter[K]
		logger zerolog.Logger
		clock  clockz.Clock

		registry registry[K]
	}

	threadKey[K comparable] struct {
		stats *Stats[K]
	}
)

// New returns a Stats labelling keys with format, or with DefaultKey when
// format is nil.
func New[K comparable](cfg Config, format KeyFormatter[K]) *Stats[K] {
	s := Stats[K]{
		source: cfg.Source,
		unit:   cfg.Unit,
		title:  cfg.Title,
		format: format,
		logger: zerolog.Nop(),
		clock:  cfg.Clock,
	}
	if s.source == nil {
		selection := measure.Select(false)
		s.source = selection.Source
		if s.unit == (measure.Unit{}) {
			s.unit = selection.Mode.Unit()
		}
	}
	if s.unit == (measure.Unit{}) {
		s.unit = measure.ModeTime.Unit()
	}
	if s.title == "" {
		s.title = defaultTitle
	}
	if s.format == nil {
		s.format = DefaultKey[K]
	}
	if cfg.Logger != nil {
		s.logger = *cfg.Logger
	}
	if s.clock == nil {
		s.clock = clockz.RealClock
	}
	s.registry.reset(s.clock.Now())
	return &s
}

// NewMethodStats traces units identified by name.
func NewMethodStats(cfg Config) *Stats[string] {
	return New[string](cfg, DefaultKey[string])
}

// NewTypeStats traces units identified by their type and labels them with
// the type's simple name.
func NewTypeStats(cfg Config) *Stats[reflect.Type] {
	return New[reflect.Type](cfg, SimpleName[reflect.Type])
}

// Thread registers the state of a new goroutine. The caller owns it for the
// rest of the goroutine's life.
func (s *Stats[K]) Thread() *Thread[K] {
	t := newThread[K](s.source)
	s.registry.register(t)
	return t
}

// WithThread registers a new thread and attaches it to ctx. Call it once at
// the start of every goroutine that gets traced.
func (s *Stats[K]) WithThread(ctx context.Context) (context.Context, *Thread[K]) {
	t := s.Thread()
	return context.WithValue(ctx, threadKey[K]{stats: s}, t), t
}

// ThreadFromContext returns the thread attached to ctx by WithThread.
func (s *Stats[K]) ThreadFromContext(ctx context.Context) (*Thread[K], bool) {
	t, ok := ctx.Value(threadKey[K]{stats: s}).(*Thread[K])
	return t, ok
}

// Enter calls Enter on the thread attached to ctx, registering one if needed.
// The returned context has to be used for the matching Exit.
func (s *Stats[K]) Enter(ctx context.Context, key K) (context.Context, Token[K]) {
	t, ok := s.ThreadFromContext(ctx)
	if !ok {
		ctx, t = s.WithThread(ctx)
	}
	return ctx, t.Enter(key)
}

// Exit calls Exit on the thread attached to ctx. It does nothing when no
// thread is attached since nothing could have been entered.
func (s *Stats[K]) Exit(ctx context.Context, key K, tok Token[K]) {
	if t, ok := s.ThreadFromContext(ctx); ok {
		t.Exit(key, tok)
	}
}

// Clear drops every record of every thread and starts a new window.
// It must not run concurrently with DumpReport.
func (s *Stats[K]) Clear() {
	s.registry.reset(s.clock.Now())
}

func (s *Stats[K]) Unit() measure.Unit {
	return s.unit
}
