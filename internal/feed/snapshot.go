// Package feed detects what changed between two snapshots of a bill and
// projects the additions into an ordered timeline of feed events.
package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

// Snapshot is the full upstream record of one bill at one point in time.
// A nil sequence means the source did not send that collection at all.
type Snapshot struct {
	BillID     string
	ChangeHash string
	History    []json.RawMessage
	Progress   []json.RawMessage
	Calendar   []json.RawMessage
	Texts      []json.RawMessage
	Votes      []json.RawMessage
	Amendments []json.RawMessage
	// Extra keeps every other top-level field untouched so the snapshot can
	// be stored and served back verbatim.
	Extra map[string]json.RawMessage
	// Issued is the next unused type index per kind, as recorded by the run
	// that stored this snapshot. It is bookkeeping, not upstream data, and
	// is not part of the JSON form.
	Issued map[Kind]int
}

// The upstream bill payload has shipped both spellings of this key.
const misspelledAmendments = "ammendments"

var sequenceKeys = []string{"history", "progress", "calendar", "texts", "votes", "amendments", misspelledAmendments}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	out := Snapshot{Extra: make(map[string]json.RawMessage)}
	if raw, ok := fields["bill_id"]; ok {
		id, err := decodeID(raw)
		if err != nil {
			return fmt.Errorf("decode bill_id: %w", err)
		}
		out.BillID = id
	}
	if raw, ok := fields["change_hash"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &out.ChangeHash); err != nil {
			return fmt.Errorf("decode change_hash: %w", err)
		}
	}

	targets := map[string]*[]json.RawMessage{
		"history":  &out.History,
		"progress": &out.Progress,
		"calendar": &out.Calendar,
		"texts":    &out.Texts,
		"votes":    &out.Votes,
	}
	for key, target := range targets {
		seq, err := decodeSequence(fields, key)
		if err != nil {
			return err
		}
		*target = seq
	}

	amendments, err := decodeSequence(fields, "amendments")
	if err != nil {
		return err
	}
	if amendments == nil {
		if amendments, err = decodeSequence(fields, misspelledAmendments); err != nil {
			return err
		}
	}
	out.Amendments = amendments

	for key, raw := range fields {
		switch key {
		case "bill_id", "change_hash":
			continue
		}
		if isSequenceKey(key) {
			continue
		}
		out.Extra[key] = raw
	}

	*s = out
	return nil
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(s.Extra)+8)
	for key, raw := range s.Extra {
		fields[key] = raw
	}
	if n, err := strconv.ParseInt(s.BillID, 10, 64); err == nil {
		fields["bill_id"] = n
	} else {
		fields["bill_id"] = s.BillID
	}
	fields["change_hash"] = s.ChangeHash
	for _, ks := range kinds {
		if seq := ks.records(&s); seq != nil {
			fields[ks.field] = seq
		}
	}
	return json.Marshal(fields)
}

// Meta returns a top-level scalar field that is not one of the tracked
// collections, e.g. "title" or "state".
func (s *Snapshot) Meta(key string) gjson.Result {
	raw, ok := s.Extra[key]
	if !ok {
		return gjson.Result{}
	}
	return gjson.ParseBytes(raw)
}

func decodeSequence(fields map[string]json.RawMessage, key string) ([]json.RawMessage, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var seq []json.RawMessage
	if err := json.Unmarshal(raw, &seq); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if seq == nil {
		seq = []json.RawMessage{}
	}
	return seq, nil
}

func decodeID(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isSequenceKey(key string) bool {
	for _, k := range sequenceKeys {
		if k == key {
			return true
		}
	}
	return false
}
