package message

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatbuffer/internal/buffer"
	"chatbuffer/internal/metrics"
	"chatbuffer/internal/utils"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errStoreDown = errors.New("store down")

// fakeStore is an in-memory Repository with failure switches.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*Message
	inserts map[string]int

	failInsert atomic.Bool
	failUpdate atomic.Bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string]*Message),
		inserts: make(map[string]int),
	}
}

func (f *fakeStore) InsertMany(_ context.Context, messages []*Message) error {
	if f.failInsert.Load() {
		return errStoreDown
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range messages {
		cp := *m
		f.records[m.ID] = &cp
		f.inserts[m.ID]++
	}
	return nil
}

func (f *fakeStore) FindByID(_ context.Context, id string) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.records[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) FindByStreamKey(_ context.Context, streamKey string, q StoreQuery) ([]*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Message, 0)
	for _, m := range f.records {
		if m.StreamKey != streamKey {
			continue
		}
		if !q.IncludeDeleted && m.IsDeleted() {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

func (f *fakeStore) UpdateByID(_ context.Context, id string, fields map[string]interface{}) (*Message, error) {
	if f.failUpdate.Load() {
		return nil, errStoreDown
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.records[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	for k, v := range fields {
		switch k {
		case "text":
			m.Text = v.(string)
		case "deleted_for_me":
			m.DeletedForMe = v.(bool)
		case "deleted_for_all":
			m.DeletedForAll = v.(bool)
		case "updated_at":
			m.UpdatedAt = v.(time.Time)
		default:
			return nil, fmt.Errorf("unexpected field %q", k)
		}
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) LatestCreatedAt(_ context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest time.Time
	for _, m := range f.records {
		if m.CreatedAt.After(latest) {
			latest = m.CreatedAt
		}
	}
	return latest, nil
}

func (f *fakeStore) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.records))
	for id := range f.records {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (f *fakeStore) insertCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserts[id]
}

type harness struct {
	svc    Service
	writer *Writer
	buf    *buffer.MemoryBuffer
	store  *fakeStore
	bus    *utils.EventBus
}

type harnessOpts struct {
	maxSize int
	window  int
	retries int
	rate    float64
	// wrap decorates the fake store seen by the service and writer.
	wrap func(*fakeStore) Repository
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	if o.retries == 0 {
		o.retries = 1
	}

	logger := zap.NewNop()
	m := metrics.New(nil)
	buf := buffer.NewMemoryBuffer()
	store := newFakeStore()
	bus := utils.NewEventBus()
	var repo Repository = store
	if o.wrap != nil {
		repo = o.wrap(store)
	}

	compactor := NewCompactor(repo, CompactorConfig{
		Window:  o.window,
		Timeout: time.Second,
		Retries: o.retries,
	}, logger, m)
	writer := NewWriter(buf, compactor, repo, o.maxSize, logger, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = writer.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	svc := NewService(repo, buf, writer, bus, logger, m, Options{
		MaxCacheSize:     o.maxSize,
		CompactionWindow: o.window,
		RateLimit:        o.rate,
		RateBurst:        1,
		MaxMessageLength: 100,
	})

	return &harness{svc: svc, writer: writer, buf: buf, store: store, bus: bus}
}

func (h *harness) create(t *testing.T, stream, text string) *Message {
	t.Helper()
	msg, err := h.svc.CreateMessage(context.Background(), CreateMessageRequest{
		StreamKey: stream,
		UserID:    "u1",
		Text:      text,
	})
	require.NoError(t, err)
	return msg
}

func (h *harness) list(t *testing.T, stream string) []*Message {
	t.Helper()
	msgs, err := h.svc.ListMessages(context.Background(), ListMessagesRequest{StreamKey: stream})
	require.NoError(t, err)
	return msgs
}

func (h *harness) bufferIDs(t *testing.T) []string {
	t.Helper()
	entries, err := h.buf.Range(context.Background(), 0, -1)
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func texts(msgs []*Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Text)
	}
	return out
}

// settle waits until the writer has finished everything queued before it,
// including compactions triggered by earlier pushes. The sentinel id never
// matches, so nothing is written.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	_, err := h.writer.SetAt(context.Background(), 0, "\x00settle", func(*Message) {})
	require.ErrorIs(t, err, errRaceDetected)
}
