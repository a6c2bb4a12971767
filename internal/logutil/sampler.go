package logutil

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// LevelSampler keeps every event at or above Level and one in Every of the
// events below it. With Every unset, events below Level are dropped.
type LevelSampler struct {
	Level zerolog.Level
	Every uint32

	counter atomic.Uint32
}

func (l *LevelSampler) Sample(lvl zerolog.Level) bool {
	if lvl >= l.Level {
		return true
	}
	if l.Every == 0 {
		return false
	}
	return l.counter.Add(1)%l.Every == 1%l.Every
}
