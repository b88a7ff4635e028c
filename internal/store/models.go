package store

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// BillRecord is the persisted state of one bill: the last reconciled
// snapshot plus bookkeeping.
type BillRecord struct {
	BillID         string
	ChangeHash     string
	Snapshot       json.RawMessage
	LastActionDate string
	LastAction     string
	FeedDates      []string
	Projects       []string
	CreatedOn      time.Time
	UpdatedOn      time.Time

	// TypeCounts holds, per event type, the next type index that has not
	// been handed out yet. It can run ahead of the snapshot's collection
	// lengths after a rewritten collection was matched by content.
	TypeCounts map[string]int
}

// FeedEntry is one persisted timeline event.
type FeedEntry struct {
	ID          string          `json:"id"`
	BillID      string          `json:"bill_id"`
	EventIndex  int             `json:"eventIndex"`
	EventType   string          `json:"eventType"`
	TypeIndex   int             `json:"typeIndex"`
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Chamber     *string         `json:"chamber"`
	Date        string          `json:"date"`
	Datetime    *time.Time      `json:"datetime"`
	Time        string          `json:"time"`
	Data        json.RawMessage `json:"data"`
	ParentID    string          `json:"parent_id"`
}

type Person struct {
	PeopleID string
	Data     json.RawMessage
}

type Body struct {
	BodyID string
	Data   json.RawMessage
}

// RollCallVote is one legislator's vote, denormalized with the person's
// details at the time of the save.
type RollCallVote struct {
	PeopleID    int64  `json:"people_id"`
	VoteID      int64  `json:"vote_id"`
	VoteText    string `json:"vote_text"`
	RepName     string `json:"rep_name"`
	RepPartyID  string `json:"rep_party_id"`
	RepDistrict string `json:"rep_district"`
	RepRoleType string `json:"rep_role_type"`
}

type RollCall struct {
	RollCallID string
	BillID     string
	Data       json.RawMessage
	Votes      []RollCallVote
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
