package perfstats

import (
	"fmt"
	"strings"
)

// KeyFormatter turns a tracepoint key into the label shown in reports.
type KeyFormatter[K comparable] func(K) string

// DefaultKey labels a key with its natural string form.
func DefaultKey[K comparable](key K) string {
	return fmt.Sprint(key)
}

// SimpleName labels a key with its string form stripped of everything up to
// and including the last '.', turning "*parser.Node" into "Node".
func SimpleName[K comparable](key K) string {
	s := fmt.Sprint(key)
	return s[strings.LastIndexByte(s, '.')+1:]
}
