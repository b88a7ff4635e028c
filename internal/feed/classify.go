package feed

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind names one of the tracked bill collections.
type Kind string

const (
	KindHistory   Kind = "history"
	KindCalendar  Kind = "calendar"
	KindAmendment Kind = "amendment"
	KindProgress  Kind = "progress"
	KindText      Kind = "text"
	KindVote      Kind = "vote"
)

// Event is one classified record that is new in the latest snapshot.
// Title, Description and Chamber are nil when the record lacks the field
// they are read from.
type Event struct {
	Type        Kind            `json:"eventType"`
	TypeIndex   int             `json:"typeIndex"`
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Chamber     *string         `json:"chamber"`
	Date        string          `json:"date"`
	Data        json.RawMessage `json:"data"`
}

// ShortID identifies the event among the events of its bill, e.g. "vo-3".
func (e Event) ShortID() string {
	return fmt.Sprintf("%s-%d", prefixOf(e.Type), e.TypeIndex)
}

type labels struct {
	title       *string
	description *string
	chamber     *string
}

type kindRule struct {
	kind     Kind
	prefix   string
	field    string
	records  func(*Snapshot) []json.RawMessage
	classify func(gjson.Result) labels
}

// kinds is iterated in this order everywhere a snapshot is walked.
var kinds = []kindRule{
	{
		kind:    KindHistory,
		prefix:  "hi",
		field:   "history",
		records: func(s *Snapshot) []json.RawMessage { return s.History },
		classify: func(r gjson.Result) labels {
			return labels{title: field(r, "action"), description: blank(), chamber: field(r, "chamber")}
		},
	},
	{
		kind:    KindCalendar,
		prefix:  "ca",
		field:   "calendar",
		records: func(s *Snapshot) []json.RawMessage { return s.Calendar },
		classify: func(r gjson.Result) labels {
			return labels{title: field(r, "type"), description: field(r, "description"), chamber: blank()}
		},
	},
	{
		kind:    KindAmendment,
		prefix:  "am",
		field:   "amendments",
		records: func(s *Snapshot) []json.RawMessage { return s.Amendments },
		classify: func(r gjson.Result) labels {
			return labels{title: field(r, "title"), description: field(r, "description"), chamber: field(r, "chamber")}
		},
	},
	{
		kind:    KindProgress,
		prefix:  "pr",
		field:   "progress",
		records: func(s *Snapshot) []json.RawMessage { return s.Progress },
		// TODO: resolve the chamber from the roll call or sponsor once person
		// lookups are available to the engine.
		classify: func(r gjson.Result) labels {
			return labels{title: progressLabel(r.Get("event")), description: blank(), chamber: blank()}
		},
	},
	{
		kind:    KindText,
		prefix:  "tx",
		field:   "texts",
		records: func(s *Snapshot) []json.RawMessage { return s.Texts },
		classify: func(r gjson.Result) labels {
			return labels{title: field(r, "type"), description: field(r, "url"), chamber: blank()}
		},
	},
	{
		kind:     KindVote,
		prefix:   "vo",
		field:    "votes",
		records:  func(s *Snapshot) []json.RawMessage { return s.Votes },
		classify: classifyVote,
	},
}

var progressLabels = map[int64]string{
	1:  "Introduced",
	2:  "Engrossed",
	3:  "Enrolled",
	4:  "Passed",
	5:  "Vetoed",
	6:  "Failed",
	7:  "Override",
	8:  "Chaptered",
	9:  "Refer",
	10: "Report Pass",
	11: "Report DNP",
	12: "Draft",
}

// Classify turns one raw record of the given kind into an Event. It never
// fails: fields missing from the record come back as nil.
func Classify(kind Kind, record json.RawMessage, typeIndex int) Event {
	parsed := gjson.ParseBytes(record)
	event := Event{
		Type:      kind,
		TypeIndex: typeIndex,
		Date:      parsed.Get("date").String(),
		Data:      record,
	}
	ks, ok := kindFor(kind)
	if !ok {
		return event
	}
	l := ks.classify(parsed)
	event.Title = l.title
	event.Description = l.description
	event.Chamber = l.chamber
	return event
}

// A passed flag other than "1" counts as failed; the source does not
// define any other value.
func classifyVote(r gjson.Result) labels {
	outcome := "(Failed)"
	if r.Get("passed").String() == "1" {
		outcome = "(Passed)"
	}
	title := strings.TrimSpace(r.Get("desc").String() + " " + outcome)
	description := fmt.Sprintf("yea: %s nay: %s nv: %s",
		r.Get("yea").String(),
		r.Get("nay").String(),
		r.Get("nv").String(),
	)
	return labels{title: &title, description: &description, chamber: field(r, "chamber")}
}

func progressLabel(code gjson.Result) *string {
	if !code.Exists() {
		return nil
	}
	label, ok := progressLabels[code.Int()]
	if !ok {
		return nil
	}
	return &label
}

func field(r gjson.Result, key string) *string {
	value := r.Get(key)
	if !value.Exists() || value.Type == gjson.Null {
		return nil
	}
	s := value.String()
	return &s
}

func blank() *string {
	s := ""
	return &s
}

func kindFor(kind Kind) (kindRule, bool) {
	for _, ks := range kinds {
		if ks.kind == kind {
			return ks, true
		}
	}
	return kindRule{}, false
}

func prefixOf(kind Kind) string {
	if ks, ok := kindFor(kind); ok {
		return ks.prefix
	}
	return string(kind)
}
