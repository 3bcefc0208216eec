package message

import (
	"context"

	"chatbuffer/internal/buffer"
)

type Location struct {
	Tier    Tier
	Index   int64
	Message *Message
}

// Locator resolves a message id to the tier that currently holds it.
type Locator struct {
	buf  buffer.Buffer
	repo Repository
}

func NewLocator(buf buffer.Buffer, repo Repository) *Locator {
	return &Locator{buf: buf, repo: repo}
}

// Locate scans the buffer first. Compaction persists before it trims, so an id
// missing from the scan is already in the durable store if it exists at all.
func (l *Locator) Locate(ctx context.Context, id string) (*Location, error) {
	entries, err := l.buf.Range(ctx, 0, -1)
	if err != nil {
		return nil, err
	}
	for i, e := range entries {
		if e.ID != id {
			continue
		}
		msg, err := fromEntry(e)
		if err != nil {
			return nil, err
		}
		return &Location{Tier: TierBuffer, Index: int64(i), Message: msg}, nil
	}

	msg, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Location{Tier: TierStore, Index: -1, Message: msg}, nil
}
