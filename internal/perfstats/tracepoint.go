package perfstats

type (
	// tracepoint holds the counters of one key on one thread.
	tracepoint[K comparable] struct {
		key K
		// depth counts unmatched enters that changed the active tracepoint.
		depth int
		// startMarker is taken when depth goes from 0 to 1.
		startMarker uint64
		// resumeMarker is taken whenever the tracepoint becomes the active one.
		resumeMarker uint64
		total        uint64
		self         uint64
		callCount    uint64
	}

	// Token is returned by Enter and has to be passed unchanged to the
	// matching Exit. The zero value means there was no active tracepoint.
	Token[K comparable] struct {
		parent *tracepoint[K]
	}
)

func (t Token[K]) isParentOf(key K) bool {
	return t.parent != nil && t.parent.key == key
}
