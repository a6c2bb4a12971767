package measure

import (
	"errors"
	"runtime/metrics"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zoobzio/clockz"
)

// ErrAllocationsUnsupported is returned when the runtime does not expose a
// cumulative allocation counter.
var ErrAllocationsUnsupported = errors.New("allocation tracking is not supported by this runtime")

const allocsMetric = "/gc/heap/allocs:bytes"

type (
	// Source returns a monotonically non-decreasing measurement.
	Source interface {
		Measure() uint64
	}

	// SourceFunc adapts a function to a Source.
	SourceFunc func() uint64

	Mode int

	Unit struct {
		Scale uint64
		Label string
	}

	// Selection is the measurement strategy chosen for the process.
	Selection struct {
		Mode   Mode
		Source Source
	}

	clockSource struct {
		clock clockz.Clock
		epoch time.Time
	}

	allocationSource struct{}
)

const (
	ModeTime Mode = iota
	ModeAllocations
)

var (
	selectOnce sync.Once
	selected   Selection
)

func (f SourceFunc) Measure() uint64 {
	return f()
}

func (m Mode) Unit() Unit {
	if m == ModeAllocations {
		return Unit{Scale: 1_000_000, Label: "MB"}
	}
	return Unit{Scale: 1_000_000, Label: "ms"}
}

func (m Mode) String() string {
	if m == ModeAllocations {
		return "allocations"
	}
	return "time"
}

// Format truncates v to the display unit.
func (u Unit) Format(v uint64) string {
	scale := u.Scale
	if scale == 0 {
		scale = 1
	}
	return strconv.FormatUint(v/scale, 10) + " " + u.Label
}

// NewClockSource measures nanoseconds elapsed since its creation.
func NewClockSource(clock clockz.Clock) Source {
	return clockSource{clock: clock, epoch: clock.Now()}
}

func (c clockSource) Measure() uint64 {
	d := c.clock.Now().Sub(c.epoch)
	if d < 0 {
		return 0
	}
	return uint64(d)
}

// NewAllocationSource measures the cumulative bytes allocated on the heap by
// the process.
func NewAllocationSource() (Source, error) {
	s := []metrics.Sample{{Name: allocsMetric}}
	metrics.Read(s)
	if s[0].Value.Kind() != metrics.KindUint64 {
		return nil, ErrAllocationsUnsupported
	}
	return allocationSource{}, nil
}

func (allocationSource) Measure() uint64 {
	s := [1]metrics.Sample{{Name: allocsMetric}}
	metrics.Read(s[:])
	return s[0].Value.Uint64()
}

// Select picks the measurement strategy once per process. Later calls return
// the first selection regardless of their argument.
func Select(trackAllocations bool) Selection {
	selectOnce.Do(func() {
		selected = selectSource(trackAllocations, NewAllocationSource, clockz.RealClock)
	})
	return selected
}

func selectSource(trackAllocations bool, probe func() (Source, error), clock clockz.Clock) Selection {
	if trackAllocations {
		source, err := probe()
		if err == nil {
			return Selection{Mode: ModeAllocations, Source: source}
		}
		log.Debug().Err(err).Msg("falling back to clock measurements")
	}
	return Selection{Mode: ModeTime, Source: NewClockSource(clock)}
}
