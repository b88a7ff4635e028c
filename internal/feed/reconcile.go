package feed

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/tidwall/gjson"
)

// CreatedAction is the last action reported for a bill with no history yet.
const CreatedAction = "[created]"

// Result is everything derived from one snapshot comparison.
type Result struct {
	Timeline       []Entry `json:"timeline"`
	LastActionDate string  `json:"last_action_date"`
	LastAction     string  `json:"last_action"`
	// FeedDates lists the distinct entry dates of this run only, in
	// timeline order.
	FeedDates  []string        `json:"feed_dates"`
	Violations []SequenceError `json:"violations,omitempty"`
	// Issued is the next unused type index per kind after this run. Store it
	// with the snapshot and hand it back as Snapshot.Issued next time.
	Issued map[Kind]int `json:"issued"`
}

// Err joins the append-only violations found during the run, or returns nil.
func (r Result) Err() error {
	if len(r.Violations) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Violations))
	for i := range r.Violations {
		errs = append(errs, &r.Violations[i])
	}
	return errors.Join(errs...)
}

// Reconciler compares snapshots. The zero value uses ReferenceOffset,
// ReferenceTimeOfDay and the wall clock.
type Reconciler struct {
	Zone      *time.Location
	TimeOfDay time.Duration
	Now       func() time.Time
}

// NewReconciler returns a Reconciler that stamps event dates at the given
// UTC offset and time of day.
func NewReconciler(offset, timeOfDay time.Duration) *Reconciler {
	return &Reconciler{
		Zone:      time.FixedZone("", int(offset/time.Second)),
		TimeOfDay: timeOfDay,
		Now:       time.Now,
	}
}

var defaultReconciler = &Reconciler{}

// Reconcile compares next against prev with the default settings.
func Reconcile(next, prev *Snapshot) Result {
	return defaultReconciler.Reconcile(next, prev)
}

// Reconcile diffs every tracked collection of next against prev, which may
// be nil for a bill seen for the first time, and builds the resulting
// timeline.
//
// Stable ids rely on the source only appending to each collection. Where a
// collection was rewritten the run still produces events from a content
// match, and the rewrite is reported in Result.Violations.
func (r *Reconciler) Reconcile(next, prev *Snapshot) Result {
	var result Result
	result.LastActionDate, result.LastAction = r.lastAction(next)

	added := make(map[Kind][]json.RawMessage, len(kinds))
	for _, ks := range kinds {
		var before []json.RawMessage
		if prev != nil {
			before = ks.records(prev)
		}
		records, err := Diff(before, ks.records(next))
		var seqErr *SequenceError
		if errors.As(err, &seqErr) {
			seqErr.Kind = ks.kind
			result.Violations = append(result.Violations, *seqErr)
		}
		added[ks.kind] = records
	}

	result.Timeline = r.Assemble(next.BillID, added, prev)
	result.FeedDates = DistinctDates(result.Timeline)
	result.Issued = make(map[Kind]int, len(kinds))
	for _, ks := range kinds {
		if n := nextTypeIndex(prev, ks) + len(added[ks.kind]); n > 0 {
			result.Issued[ks.kind] = n
		}
	}
	return result
}

func (r *Reconciler) lastAction(next *Snapshot) (date, action string) {
	if n := len(next.History); n > 0 {
		last := gjson.ParseBytes(next.History[n-1])
		return last.Get("date").String(), last.Get("action").String()
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return now().In(r.zone()).Format("2006-01-02"), CreatedAction
}

// DistinctDates returns the unique entry dates in first-occurrence order.
// Undated entries contribute nothing.
func DistinctDates(timeline []Entry) []string {
	seen := make(map[string]struct{}, len(timeline))
	dates := make([]string, 0)
	for _, entry := range timeline {
		if entry.Date == "" {
			continue
		}
		if _, ok := seen[entry.Date]; ok {
			continue
		}
		seen[entry.Date] = struct{}{}
		dates = append(dates, entry.Date)
	}
	return dates
}

// MergeFeedDates appends the dates of fresh that existing does not hold yet.
func MergeFeedDates(existing, fresh []string) []string {
	merged := make([]string, 0, len(existing)+len(fresh))
	seen := make(map[string]struct{}, len(existing)+len(fresh))
	for _, list := range [][]string{existing, fresh} {
		for _, date := range list {
			if date == "" {
				continue
			}
			if _, ok := seen[date]; ok {
				continue
			}
			seen[date] = struct{}{}
			merged = append(merged, date)
		}
	}
	return merged
}
