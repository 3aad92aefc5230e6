package broadcast

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Result is the delivery accounting of one broadcast run.
// Total == Sent + Failed + Skipped always holds.
type Result struct {
	Total    int
	Sent     int
	Failed   int
	Skipped  int
	Duration time.Duration
	// Errors counts failures per key ("blocked", "retry_failed",
	// "api_error_<code>", "unexpected").
	Errors map[string]int
}

// Summary renders a one-line human readable report.
func (r Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sent %s of %s", humanize.Comma(int64(r.Sent)), humanize.Comma(int64(r.Total)))
	if r.Failed > 0 {
		fmt.Fprintf(&b, ", failed %s", humanize.Comma(int64(r.Failed)))
	}
	if r.Skipped > 0 {
		fmt.Fprintf(&b, ", skipped %s", humanize.Comma(int64(r.Skipped)))
	}
	fmt.Fprintf(&b, " in %s", r.Duration.Round(time.Millisecond))
	if len(r.Errors) > 0 {
		keys := make([]string, 0, len(r.Errors))
		for k := range r.Errors {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%d", k, r.Errors[k]))
		}
		b.WriteString(" (" + strings.Join(parts, ", ") + ")")
	}
	return b.String()
}

// Progress is a snapshot reported every ProgressEvery processed recipients.
type Progress struct {
	Processed int
	Total     int
	Sent      int
	Failed    int
	Skipped   int
}

// tally accumulates counters for a single run. It is never shared.
type tally struct {
	total     int
	processed int
	sent      int
	failed    int
	skipped   int
	errors    map[string]int
}

func newTally(total int) *tally {
	return &tally{total: total, errors: map[string]int{}}
}

func (t *tally) ok()   { t.sent++; t.processed++ }
func (t *tally) skip() { t.skipped++; t.processed++ }

func (t *tally) fail(key string) {
	t.failed++
	t.processed++
	t.errors[key]++
}

func (t *tally) progress() Progress {
	return Progress{Processed: t.processed, Total: t.total, Sent: t.sent, Failed: t.failed, Skipped: t.skipped}
}

func (t *tally) result(d time.Duration) Result {
	errs := make(map[string]int, len(t.errors))
	for k, v := range t.errors {
		errs[k] = v
	}
	return Result{
		Total:    t.total,
		Sent:     t.sent,
		Failed:   t.failed,
		Skipped:  t.skipped,
		Duration: d,
		Errors:   errs,
	}
}
