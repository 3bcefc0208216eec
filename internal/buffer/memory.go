package buffer

import (
	"context"
	"sync"
)

// MemoryBuffer is a process-local Buffer. Entries do not survive a restart.
type MemoryBuffer struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryBuffer() *MemoryBuffer {
	return &MemoryBuffer{}
}

func (m *MemoryBuffer) Push(_ context.Context, e Entry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, Entry{})
	copy(m.entries[1:], m.entries)
	m.entries[0] = cloneEntry(e)
	return int64(len(m.entries)), nil
}

func (m *MemoryBuffer) Len(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.entries)), nil
}

func (m *MemoryBuffer) Range(_ context.Context, start, stop int64) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	from, to, ok := normalize(start, stop, int64(len(m.entries)))
	if !ok {
		return []Entry{}, nil
	}
	out := make([]Entry, 0, to-from+1)
	for _, e := range m.entries[from : to+1] {
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

func (m *MemoryBuffer) Trim(_ context.Context, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from, to, ok := normalize(start, stop, int64(len(m.entries)))
	if !ok {
		m.entries = nil
		return nil
	}
	kept := make([]Entry, to-from+1)
	copy(kept, m.entries[from:to+1])
	m.entries = kept
	return nil
}

func (m *MemoryBuffer) SetAt(_ context.Context, index int64, expectedID string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.entries))
	if index < 0 {
		index += n
	}
	if index < 0 || index >= n {
		return ErrIndexOutOfRange
	}
	if m.entries[index].ID != expectedID {
		return ErrIndexMismatch
	}
	m.entries[index] = cloneEntry(e)
	return nil
}

func cloneEntry(e Entry) Entry {
	payload := make([]byte, len(e.Payload))
	copy(payload, e.Payload)
	return Entry{ID: e.ID, Payload: payload}
}
