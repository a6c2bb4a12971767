package perfstats

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/getsentry/perfstats/internal/measure"
	"github.com/getsentry/perfstats/internal/types"
)

type (
	Row[K comparable] struct {
		Key   K
		Label string
		Total uint64
		Self  uint64
		Calls uint64
	}

	Report[K comparable] struct {
		Title       string
		Unit        measure.Unit
		WindowID    uuid.UUID
		WindowStart time.Time
		Threads     int
		// Rows are sorted by descending total.
		Rows []Row[K]
		// Unbalanced holds the labels of tracepoints still on a stack.
		Unbalanced []string
	}

	jsonRow struct {
		Label string       `json:"label"`
		Total types.Uint64 `json:"total"`
		Self  types.Uint64 `json:"self"`
		Calls types.Uint64 `json:"calls"`
	}

	jsonReport struct {
		Title       string    `json:"title"`
		Unit        string    `json:"unit"`
		Scale       uint64    `json:"scale"`
		WindowID    string    `json:"window_id"`
		WindowStart time.Time `json:"window_start"`
		Threads     int       `json:"threads"`
		Rows        []jsonRow `json:"rows"`
		Unbalanced  []string  `json:"unbalanced"`
	}
)

// Aggregate merges the records of every registered thread per key.
// Tracepoints still on a stack are tallied with what they accumulated so far
// and listed in Unbalanced.
func (s *Stats[K]) Aggregate() Report[K] {
	snap := s.registry.snapshot()

	tallies := make(map[K]*tracepoint[K])
	unbalanced := make(map[K]struct{})
	for _, t := range snap.threads {
		for _, key := range t.merge(tallies) {
			unbalanced[key] = struct{}{}
		}
	}

	r := Report[K]{
		Title:       s.title,
		Unit:        s.unit,
		WindowID:    snap.window,
		WindowStart: snap.windowStart,
		Threads:     len(snap.threads),
		Rows:        make([]Row[K], 0, len(tallies)),
		Unbalanced:  make([]string, 0, len(unbalanced)),
	}
	for key, tally := range tallies {
		r.Rows = append(r.Rows, Row[K]{
			Key:   key,
			Label: s.format(key),
			Total: tally.total,
			Self:  tally.self,
			Calls: tally.callCount,
		})
	}
	sort.Slice(r.Rows, func(i, j int) bool {
		if r.Rows[i].Total != r.Rows[j].Total {
			return r.Rows[i].Total > r.Rows[j].Total
		}
		return r.Rows[i].Label < r.Rows[j].Label
	})
	for key := range unbalanced {
		r.Unbalanced = append(r.Unbalanced, s.format(key))
	}
	sort.Strings(r.Unbalanced)
	return r
}

// DumpReport writes the aggregated report as a text table.
func (s *Stats[K]) DumpReport(w io.Writer) error {
	r := s.Aggregate()
	for _, label := range r.Unbalanced {
		s.logger.Warn().Str("tracepoint", label).Str("window", r.WindowID.String()).Msg("tracepoint still on the stack")
	}
	return r.WriteText(w)
}

// DumpAndClear writes the report and starts a new measurement window.
func (s *Stats[K]) DumpAndClear(w io.Writer) error {
	err := s.DumpReport(w)
	s.logger.Info().Msg("clearing stats")
	s.Clear()
	return err
}

// ReportJSON returns the aggregated report encoded as JSON.
func (s *Stats[K]) ReportJSON() ([]byte, error) {
	return s.Aggregate().MarshalJSON()
}

// WriteText writes r as a table sorted by descending total, preceded by one
// warning line per unbalanced tracepoint.
func (r Report[K]) WriteText(w io.Writer) error {
	var b bytes.Buffer
	b.WriteByte('\n')
	for _, label := range r.Unbalanced {
		fmt.Fprintf(&b, "WARNING: '%s' still on the stack\n", label)
	}
	fmt.Fprintf(&b, "%s:\n", r.Title)

	width := 0
	for _, row := range r.Rows {
		if len(row.Label) > width {
			width = len(row.Label)
		}
	}
	width += 2

	fmt.Fprintf(&b, "%*s  %13s  %13s  %13s\n", width, "", "total", "self", "calls")
	var self, calls uint64
	for _, row := range r.Rows {
		fmt.Fprintf(&b, "%*s  %13s  %13s  %13d\n", width, row.Label, r.Unit.Format(row.Total), r.Unit.Format(row.Self), row.Calls)
		self += row.Self
		calls += row.Calls
	}
	if len(r.Rows) > 0 {
		fmt.Fprintf(&b, "%*s  %13s  %13s  %13s\n", width, "-", "-", "-", "-")
		fmt.Fprintf(&b, "%*s  %13s  %13s  %13d\n", width, "total", r.Unit.Format(self), r.Unit.Format(self), calls)
	}
	b.WriteByte('\n')

	if _, err := w.Write(b.Bytes()); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func (r Report[K]) MarshalJSON() ([]byte, error) {
	jr := jsonReport{
		Title:       r.Title,
		Unit:        r.Unit.Label,
		Scale:       r.Unit.Scale,
		WindowID:    r.WindowID.String(),
		WindowStart: r.WindowStart,
		Threads:     r.Threads,
		Rows:        make([]jsonRow, 0, len(r.Rows)),
		Unbalanced:  r.Unbalanced,
	}
	if jr.Unbalanced == nil {
		jr.Unbalanced = []string{}
	}
	for _, row := range r.Rows {
		jr.Rows = append(jr.Rows, jsonRow{
			Label: row.Label,
			Total: types.Uint64(row.Total),
			Self:  types.Uint64(row.Self),
			Calls: types.Uint64(row.Calls),
		})
	}
	return json.Marshal(jr)
}
