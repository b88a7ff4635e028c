package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// ErrNotAppendOnly reports that a stored sequence is not a prefix of the
// incoming one: an entry was edited, removed or reordered upstream.
var ErrNotAppendOnly = errors.New("sequence is not append-only")

// SequenceError locates the first record where an incoming sequence stops
// matching the stored one.
type SequenceError struct {
	Kind  Kind `json:"kind"`
	Index int  `json:"index"`
}

func (e *SequenceError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("sequence rewritten at index %d", e.Index)
	}
	return fmt.Sprintf("%s sequence rewritten at index %d", e.Kind, e.Index)
}

func (e *SequenceError) Unwrap() error {
	return ErrNotAppendOnly
}

// Diff returns the records of next that are newly present relative to prev.
//
// Records are compared by JSON value, index by index. When prev is a prefix
// of next the result is the appended tail, which is empty for identical
// sequences. When it is not, Diff falls back to a content match (records of
// next with no equal record left in prev) and also returns a *SequenceError.
func Diff(prev, next []json.RawMessage) ([]json.RawMessage, error) {
	if next == nil {
		return nil, nil
	}
	if prev == nil {
		return next, nil
	}

	mismatch := -1
	for i := range prev {
		if i >= len(next) || !sameRecord(prev[i], next[i]) {
			mismatch = i
			break
		}
	}
	if mismatch < 0 {
		return next[len(prev):], nil
	}
	return contentDiff(prev, next), &SequenceError{Index: mismatch}
}

func contentDiff(prev, next []json.RawMessage) []json.RawMessage {
	remaining := make(map[string]int, len(prev))
	for _, record := range prev {
		remaining[canonical(record)]++
	}
	added := make([]json.RawMessage, 0)
	for _, record := range next {
		key := canonical(record)
		if remaining[key] > 0 {
			remaining[key]--
			continue
		}
		added = append(added, record)
	}
	return added
}

func sameRecord(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	va, errA := decodeValue(a)
	vb, errB := decodeValue(b)
	if errA != nil || errB != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

// canonical re-encodes a record so that key order and spacing do not affect
// equality. encoding/json writes map keys sorted.
func canonical(record json.RawMessage) string {
	value, err := decodeValue(record)
	if err != nil {
		return string(record)
	}
	out, err := json.Marshal(value)
	if err != nil {
		return string(record)
	}
	return string(out)
}

func decodeValue(raw json.RawMessage) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}
