package message

import (
	"context"
	"testing"
	"time"

	"chatbuffer/internal/buffer"
	"chatbuffer/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// gatedBuffer holds every Push until release is closed.
type gatedBuffer struct {
	*buffer.MemoryBuffer
	entered chan struct{}
	release chan struct{}
}

func (b *gatedBuffer) Push(ctx context.Context, e buffer.Entry) (int64, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.MemoryBuffer.Push(ctx, e)
}

func startWriter(t *testing.T, buf buffer.Buffer) *Writer {
	t.Helper()
	store := newFakeStore()
	m := metrics.New(nil)
	compactor := NewCompactor(store, CompactorConfig{Window: 10}, zap.NewNop(), m)
	w := NewWriter(buf, compactor, store, 100, zap.NewNop(), m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func TestPushReportsOutcomeAfterCallerCancels(t *testing.T) {
	buf := &gatedBuffer{
		MemoryBuffer: buffer.NewMemoryBuffer(),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	w := startWriter(t, buf)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		msg *Message
		err error
	}
	results := make(chan result, 1)
	go func() {
		msg, _, err := w.Push(ctx, &Message{ID: "m1", StreamKey: "s1", UserID: "u1", Text: "hi"})
		results <- result{msg: msg, err: err}
	}()

	<-buf.entered
	cancel()
	close(buf.release)

	var res result
	select {
	case res = <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("push never returned")
	}
	require.NoError(t, res.err)
	require.NotNil(t, res.msg)
	assert.Equal(t, "m1", res.msg.ID)

	n, err := buf.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSubmitAfterStopReturnsWriterStopped(t *testing.T) {
	store := newFakeStore()
	m := metrics.New(nil)
	w := NewWriter(buffer.NewMemoryBuffer(), NewCompactor(store, CompactorConfig{}, zap.NewNop(), m), store, 10, zap.NewNop(), m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx))

	_, _, err := w.Push(context.Background(), &Message{ID: "m1"})
	assert.ErrorIs(t, err, ErrWriterStopped)
}
