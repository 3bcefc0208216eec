// Package buffer holds the volatile, most-recent-first message list that sits
// in front of the durable store.
//
// A Buffer is one shared sequence for every stream. Index 0 is the head (the
// newest entry); negative indices count from the tail, as in Redis list
// commands. Implementations make each primitive atomic on its own; composing
// them safely is the caller's job.
package buffer

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrIndexMismatch is returned by SetAt when the slot holds another id.
	ErrIndexMismatch = errors.New("buffer: entry at index does not match expected id")
	// ErrIndexOutOfRange is returned by SetAt for an index past either end.
	ErrIndexOutOfRange = errors.New("buffer: index out of range")
)

type Entry struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type Buffer interface {
	// Push inserts e at the head and returns the resulting length.
	Push(ctx context.Context, e Entry) (int64, error)
	Len(ctx context.Context) (int64, error)
	// Range returns entries between start and stop inclusive.
	Range(ctx context.Context, start, stop int64) ([]Entry, error)
	// Trim keeps only start..stop inclusive.
	Trim(ctx context.Context, start, stop int64) error
	// SetAt overwrites the slot at index if it still holds expectedID.
	SetAt(ctx context.Context, index int64, expectedID string, e Entry) error
}

func encodeEntry(e Entry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEntry(raw []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// normalize resolves Redis-style inclusive indices against length n.
func normalize(start, stop, n int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}
