package message

import (
	"context"
	"fmt"
	"sort"

	"chatbuffer/internal/buffer"
)

// Reader merges both tiers into one chronological list per stream.
type Reader struct {
	buf  buffer.Buffer
	repo Repository
}

func NewReader(buf buffer.Buffer, repo Repository) *Reader {
	return &Reader{buf: buf, repo: repo}
}

// List returns the stream oldest first. The buffer is read before the store:
// anything trimmed from the buffer after that read was persisted before it.
func (r *Reader) List(ctx context.Context, streamKey string, limit int, includeDeleted bool) ([]*Message, error) {
	entries, err := r.buf.Range(ctx, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to read buffer: %w", err)
	}

	seen := make(map[string]struct{})
	recent := make([]*Message, 0)
	for _, e := range entries {
		msg, err := fromEntry(e)
		if err != nil {
			return nil, err
		}
		if msg.StreamKey != streamKey {
			continue
		}
		seen[msg.ID] = struct{}{}
		if !includeDeleted && msg.IsDeleted() {
			continue
		}
		recent = append(recent, msg)
	}

	if limit > 0 && len(recent) >= limit {
		return reversed(recent[:limit]), nil
	}

	q := StoreQuery{IncludeDeleted: includeDeleted}
	if limit > 0 {
		// a window being compacted can be in both tiers for a moment
		q.Limit = limit - len(recent) + len(seen)
	}
	stored, err := r.repo.FindByStreamKey(ctx, streamKey, q)
	if err != nil {
		return nil, fmt.Errorf("failed to read durable store: %w", err)
	}

	out := make([]*Message, 0, len(stored)+len(recent))
	for _, msg := range stored {
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		out = append(out, msg)
	}
	out = append(out, reversed(recent)...)

	// rows compacted after the buffer scan can be newer than buffered ones
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func reversed(in []*Message) []*Message {
	out := make([]*Message, len(in))
	for i, m := range in {
		out[len(in)-1-i] = m
	}
	return out
}
