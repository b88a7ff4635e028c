package feed

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

const (
	// ReferenceOffset is the UTC offset used to turn an event date into a
	// timestamp. The source only reports calendar dates.
	ReferenceOffset = -6 * time.Hour
	// ReferenceTimeOfDay is added to the event date at ReferenceOffset.
	ReferenceTimeOfDay = time.Duration(0)
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// Entry is an Event placed on the bill timeline.
type Entry struct {
	Event
	EventIndex int        `json:"eventIndex"`
	ID         string     `json:"id"`
	BillID     string     `json:"bill_id"`
	Datetime   *time.Time `json:"datetime"`
	Time       string     `json:"time"`
	// ParentID is reserved for threading replies under an event.
	ParentID string `json:"parent_id"`
}

// Assemble classifies the added records of every kind and orders them into
// one timeline. Type indexes continue after the highest index already handed
// out for prev, so ids never repeat across runs.
func (r *Reconciler) Assemble(billID string, added map[Kind][]json.RawMessage, prev *Snapshot) []Entry {
	type pending struct {
		event   Event
		shortID string
		at      time.Time
		dated   bool
	}

	var work []pending
	for _, ks := range kinds {
		offset := nextTypeIndex(prev, ks)
		for i, record := range added[ks.kind] {
			event := Classify(ks.kind, record, i+offset)
			at, dated := parseDate(event.Date)
			work = append(work, pending{event: event, shortID: event.ShortID(), at: at, dated: dated})
		}
	}

	slices.SortStableFunc(work, func(a, b pending) int {
		switch {
		case a.dated && !b.dated:
			return -1
		case !a.dated && b.dated:
			return 1
		case a.dated && b.dated && !a.at.Equal(b.at):
			return a.at.Compare(b.at)
		}
		return strings.Compare(a.shortID, b.shortID)
	})

	timeline := make([]Entry, 0, len(work))
	for i, item := range work {
		timeline = append(timeline, Entry{
			Event:      item.event,
			EventIndex: i,
			ID:         billID + "_" + item.shortID,
			BillID:     billID,
			Datetime:   r.datetime(item.event.Date),
		})
	}
	return timeline
}

// nextTypeIndex is the first type index free for new records of a kind:
// past every record prev holds and past every index an earlier run issued.
// The two differ once a rewritten collection was matched by content.
func nextTypeIndex(prev *Snapshot, ks kindRule) int {
	if prev == nil {
		return 0
	}
	return max(len(ks.records(prev)), prev.Issued[ks.kind])
}

// datetime stamps the calendar day of date at the reconciler's zone and
// time of day. Any time of day carried by date is dropped.
func (r *Reconciler) datetime(date string) *time.Time {
	day, ok := parseDate(date)
	if !ok {
		return nil
	}
	at := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, r.zone()).Add(r.TimeOfDay)
	return &at
}

func (r *Reconciler) zone() *time.Location {
	if r.Zone != nil {
		return r.Zone
	}
	return time.FixedZone("", int(ReferenceOffset/time.Second))
}

func parseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if at, err := time.Parse(layout, value); err == nil {
			return at, true
		}
	}
	return time.Time{}, false
}
