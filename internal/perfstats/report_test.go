package perfstats

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/zoobzio/clockz"

	"github.com/getsentry/perfstats/internal/measure"
	"github.com/getsentry/perfstats/internal/testutil"
)

func pad(s string) string {
	return strings.Repeat(" ", 13-len(s)) + s
}

func TestDumpReport(t *testing.T) {
	s := newTickStats()
	th := s.Thread()
	tokA := th.Enter("A")
	tokB := th.Enter("B")
	th.Exit("B", tokB)
	th.Exit("A", tokA)

	var b bytes.Buffer
	if err := s.DumpReport(&b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := strings.Join([]string{
		"",
		"Performance stats:",
		"   " + "  " + pad("total") + "  " + pad("self") + "  " + pad("calls"),
		"  A" + "  " + pad("3 ticks") + "  " + pad("2 ticks") + "  " + pad("1"),
		"  B" + "  " + pad("1 ticks") + "  " + pad("1 ticks") + "  " + pad("1"),
		"  -" + "  " + pad("-") + "  " + pad("-") + "  " + pad("-"),
		"total" + "  " + pad("3 ticks") + "  " + pad("3 ticks") + "  " + pad("2"),
		"",
		"",
	}, "\n")
	if diff := testutil.Diff(b.String(), want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestReportAfterClearIsEmpty(t *testing.T) {
	s := newTickStats()
	th := s.Thread()
	th.Enter("never-exited")
	tok := th.Enter("nested")
	th.Exit("nested", tok)

	before := s.Aggregate().WindowID
	s.Clear()

	r := s.Aggregate()
	if len(r.Rows) != 0 || len(r.Unbalanced) != 0 {
		t.Fatalf("expected an empty report, got %+v", r)
	}
	if r.WindowID == before {
		t.Fatal("expected Clear to start a new window")
	}

	var b bytes.Buffer
	if err := s.DumpReport(&b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "\nPerformance stats:\n" + "  " + "  " + pad("total") + "  " + pad("self") + "  " + pad("calls") + "\n\n"
	if diff := testutil.Diff(b.String(), want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestUnbalancedTracepointIsReported(t *testing.T) {
	s := newTickStats()
	th := s.Thread()
	th.Enter("open")
	tok := th.Enter("closed")
	th.Exit("closed", tok)

	r := s.Aggregate()
	if diff := testutil.Diff(r.Unbalanced, []string{"open"}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	row, exists := rowsByLabel(r)["open"]
	if !exists {
		t.Fatal("expected the open tracepoint to be tallied")
	}
	if row.Calls != 1 || row.Self != 1 {
		t.Fatalf("expected partial data, got %+v", row)
	}

	var b bytes.Buffer
	if err := s.DumpReport(&b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(b.String(), "\n")
	if lines[1] != "WARNING: 'open' still on the stack" {
		t.Fatalf("expected a warning before the table, got %q", lines[1])
	}
	if lines[2] != "Performance stats:" {
		t.Fatalf("expected the header after the warnings, got %q", lines[2])
	}
}

func TestAggregateSortsByDescendingTotal(t *testing.T) {
	s := newTickStats()
	th := s.Thread()
	for _, key := range []string{"short", "long", "medium"} {
		tok := th.Enter(key)
		th.Exit(key, tok)
	}
	tok := th.Enter("long")
	inner := th.Enter("x")
	th.Exit("x", inner)
	th.Exit("long", tok)

	var labels []string
	for _, row := range s.Aggregate().Rows {
		labels = append(labels, row.Label)
	}
	want := []string{"long", "medium", "short", "x"}
	if diff := testutil.Diff(labels, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestConcurrentThreadsAreMerged(t *testing.T) {
	const (
		goroutines = 16
		iterations = 500
	)
	s := New[string](Config{}, nil)

	var wg sync.WaitGroup
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				s.Aggregate()
			}
		}
	}()
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th := s.Thread()
			for i := 0; i < iterations; i++ {
				outer := th.Enter("outer")
				inner := th.Enter("inner")
				again := th.Enter("inner")
				th.Exit("inner", again)
				th.Exit("inner", inner)
				th.Exit("outer", outer)
			}
		}()
	}
	wg.Wait()
	close(done)

	r := s.Aggregate()
	if r.Threads != goroutines {
		t.Fatalf("expected %d threads, got %d", goroutines, r.Threads)
	}
	rows := rowsByLabel(r)
	if got := rows["outer"].Calls; got != goroutines*iterations {
		t.Fatalf("expected %d outer calls, got %d", goroutines*iterations, got)
	}
	if got := rows["inner"].Calls; got != 2*goroutines*iterations {
		t.Fatalf("expected %d inner calls, got %d", 2*goroutines*iterations, got)
	}
	if len(r.Unbalanced) != 0 {
		t.Fatalf("unexpected unbalanced tracepoints %v", r.Unbalanced)
	}
}

func TestContextThreads(t *testing.T) {
	s := newTickStats()

	s.Exit(context.Background(), "nothing", Token[string]{})

	ctx, tok := s.Enter(context.Background(), "handler")
	th, ok := s.ThreadFromContext(ctx)
	if !ok {
		t.Fatal("expected a thread in the context")
	}
	ctx, inner := s.Enter(ctx, "query")
	if again, _ := s.ThreadFromContext(ctx); again != th {
		t.Fatal("expected the same thread to be reused")
	}
	s.Exit(ctx, "query", inner)
	s.Exit(ctx, "handler", tok)

	other := NewMethodStats(Config{Source: &ticker{}})
	if _, ok := other.ThreadFromContext(ctx); ok {
		t.Fatal("threads must not leak between stats")
	}

	r := s.Aggregate()
	if r.Threads != 1 {
		t.Fatalf("expected 1 thread, got %d", r.Threads)
	}
	if rows := rowsByLabel(r); rows["handler"].Calls != 1 || rows["query"].Calls != 1 {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

type (
	lexer  struct{}
	parser struct{}
)

func TestTypeStatsLabels(t *testing.T) {
	s := NewTypeStats(Config{Source: &ticker{}, Unit: tickUnit})
	th := s.Thread()
	lex, parse := reflect.TypeOf(lexer{}), reflect.TypeOf(&parser{})

	tok := th.Enter(parse)
	inner := th.Enter(lex)
	th.Exit(lex, inner)
	th.Exit(parse, tok)

	var labels []string
	for _, row := range s.Aggregate().Rows {
		labels = append(labels, row.Label)
	}
	if diff := testutil.Diff(labels, []string{"parser", "lexer"}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestKeyFormatters(t *testing.T) {
	tests := []struct {
		key      string
		simple   string
		identity string
	}{
		{key: "com.android.tools.lint.checks.IconDetector", simple: "IconDetector", identity: "com.android.tools.lint.checks.IconDetector"},
		{key: "*bytes.Buffer", simple: "Buffer", identity: "*bytes.Buffer"},
		{key: "main", simple: "main", identity: "main"},
		{key: "trailing.", simple: "", identity: "trailing."},
	}
	for _, test := range tests {
		if got := SimpleName(test.key); got != test.simple {
			t.Fatalf("SimpleName(%q): expected %q, got %q", test.key, test.simple, got)
		}
		if got := DefaultKey(test.key); got != test.identity {
			t.Fatalf("DefaultKey(%q): expected %q, got %q", test.key, test.identity, got)
		}
	}
}

func TestReportJSON(t *testing.T) {
	clock := clockz.NewFakeClockAt(time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC))
	s := New[string](Config{Source: &ticker{}, Unit: measure.ModeTime.Unit(), Clock: clock, Title: "Detector stats"}, nil)
	th := s.Thread()
	tok := th.Enter("A")
	th.Exit("A", tok)
	th.Enter("B")

	b, err := s.ReportJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("error while parsing: %+v\n", err)
	}
	want := map[string]interface{}{
		"title":        "Detector stats",
		"unit":         "ms",
		"scale":        float64(1_000_000),
		"window_start": "2023-01-01T12:00:00Z",
		"threads":      float64(1),
		"rows": []interface{}{
			map[string]interface{}{"label": "A", "total": "1", "self": "1", "calls": "1"},
			map[string]interface{}{"label": "B", "total": "0", "self": "0", "calls": "1"},
		},
		"unbalanced": []interface{}{"B"},
	}
	if diff := testutil.Diff(got, want, cmpopts.IgnoreMapEntries(func(k string, _ interface{}) bool {
		return k == "window_id"
	})); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestDumpAndClear(t *testing.T) {
	s := newTickStats()
	th := s.Thread()
	tok := th.Enter("A")
	th.Exit("A", tok)

	if err := s.DumpAndClear(failingWriter{}); err == nil {
		t.Fatal("expected the write error to be returned")
	}
	if r := s.Aggregate(); len(r.Rows) != 0 {
		t.Fatalf("expected stats to be cleared even when the dump fails, got %+v", r.Rows)
	}
}
