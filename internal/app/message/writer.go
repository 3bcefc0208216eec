package message

import (
	"context"
	"errors"
	"time"

	"chatbuffer/internal/buffer"
	"chatbuffer/internal/metrics"

	"go.uber.org/zap"
)

type writeOp int

const (
	opPush writeOp = iota
	opSet
	opCompact
	opDrain
)

type writeRequest struct {
	op     writeOp
	msg    *Message
	index  int64
	id     string
	mutate func(*Message)
	reply  chan writeResult
}

type writeResult struct {
	msg    *Message
	length int64
	moved  int
	err    error
}

// Writer is the only goroutine that mutates the buffer. Push, SetAt and the
// compaction trim are applied in arrival order; readers go to the buffer
// directly.
type Writer struct {
	buf       buffer.Buffer
	compactor *Compactor
	repo      Repository
	maxSize   int64
	requests  chan writeRequest
	done      chan struct{}
	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics
	now       func() time.Time
	lastTS    time.Time
}

func NewWriter(buf buffer.Buffer, compactor *Compactor, repo Repository, maxSize int, logger *zap.Logger, m *metrics.Metrics) *Writer {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Writer{
		buf:       buf,
		compactor: compactor,
		repo:      repo,
		maxSize:   int64(maxSize),
		requests:  make(chan writeRequest),
		done:      make(chan struct{}),
		logger:    logger.Sugar(),
		metrics:   m,
		now:       time.Now,
	}
}

// Run serves write requests until ctx is cancelled.
func (w *Writer) Run(ctx context.Context) error {
	defer close(w.done)

	w.seedClock(ctx)
	if n, err := w.buf.Len(ctx); err == nil {
		w.metrics.BufferLength.Set(float64(n))
		w.logger.Infow("Buffer writer started", "buffer_length", n, "max_cache_size", w.maxSize)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Buffer writer stopped")
			return nil
		case req := <-w.requests:
			w.serve(ctx, req)
		}
	}
}

func (w *Writer) Push(ctx context.Context, msg *Message) (*Message, int64, error) {
	res, err := w.submit(ctx, writeRequest{op: opPush, msg: msg})
	if err != nil {
		return nil, 0, err
	}
	return res.msg, res.length, res.err
}

// SetAt applies mutate to the entry at index if it still holds id. A changed
// slot yields errRaceDetected and nothing is written.
func (w *Writer) SetAt(ctx context.Context, index int64, id string, mutate func(*Message)) (*Message, error) {
	res, err := w.submit(ctx, writeRequest{op: opSet, index: index, id: id, mutate: mutate})
	if err != nil {
		return nil, err
	}
	return res.msg, res.err
}

// Compact forces one compaction of the oldest window regardless of threshold.
func (w *Writer) Compact(ctx context.Context) (int, error) {
	res, err := w.submit(ctx, writeRequest{op: opCompact})
	if err != nil {
		return 0, err
	}
	return res.moved, res.err
}

// Drain compacts until the buffer is empty or a compaction fails.
func (w *Writer) Drain(ctx context.Context) (int, error) {
	res, err := w.submit(ctx, writeRequest{op: opDrain})
	if err != nil {
		return 0, err
	}
	return res.moved, res.err
}

func (w *Writer) submit(ctx context.Context, req writeRequest) (writeResult, error) {
	req.reply = make(chan writeResult, 1)

	select {
	case w.requests <- req:
	case <-ctx.Done():
		return writeResult{}, ctx.Err()
	case <-w.done:
		return writeResult{}, ErrWriterStopped
	}

	// once accepted the request is applied, so the caller waits for its
	// outcome even if ctx ends meanwhile
	select {
	case res := <-req.reply:
		return res, nil
	case <-w.done:
		select {
		case res := <-req.reply:
			return res, nil
		default:
			return writeResult{}, ErrWriterStopped
		}
	}
}

func (w *Writer) serve(ctx context.Context, req writeRequest) {
	switch req.op {
	case opPush:
		w.handlePush(ctx, req)
	case opSet:
		req.reply <- w.handleSet(ctx, req)
	case opCompact:
		req.reply <- w.compact(ctx, 0)
	case opDrain:
		req.reply <- w.drain(ctx)
	}
}

func (w *Writer) handlePush(ctx context.Context, req writeRequest) {
	msg := *req.msg
	ts := w.nextTimestamp()
	msg.CreatedAt = ts
	msg.UpdatedAt = ts

	entry, err := toEntry(&msg)
	if err != nil {
		req.reply <- writeResult{err: err}
		return
	}
	length, err := w.buf.Push(ctx, entry)
	if err != nil {
		req.reply <- writeResult{err: err}
		return
	}
	w.metrics.Pushes.Inc()
	w.metrics.BufferLength.Set(float64(length))

	// the caller has its message; compaction is a side effect of the push
	req.reply <- writeResult{msg: &msg, length: length}

	if length > w.maxSize {
		w.compactOverflow(ctx, length)
	}
}

func (w *Writer) compactOverflow(ctx context.Context, length int64) {
	moved, err := w.compactor.Compact(ctx, w.buf, length, 1)
	if err != nil {
		w.logger.Warnw("Overflow compaction failed, buffer keeps growing",
			"buffer_length", length,
			"max_cache_size", w.maxSize,
			"error", err,
		)
		return
	}
	w.metrics.BufferLength.Set(float64(length - int64(moved)))
}

func (w *Writer) handleSet(ctx context.Context, req writeRequest) writeResult {
	entries, err := w.buf.Range(ctx, req.index, req.index)
	if err != nil {
		return writeResult{err: err}
	}
	if len(entries) != 1 || entries[0].ID != req.id {
		return writeResult{err: errRaceDetected}
	}

	msg, err := fromEntry(entries[0])
	if err != nil {
		return writeResult{err: err}
	}
	req.mutate(msg)
	msg.ID = req.id
	if now := w.clock(); now.After(msg.UpdatedAt) {
		msg.UpdatedAt = now
	}

	entry, err := toEntry(msg)
	if err != nil {
		return writeResult{err: err}
	}
	if err := w.buf.SetAt(ctx, req.index, req.id, entry); err != nil {
		if errors.Is(err, buffer.ErrIndexMismatch) || errors.Is(err, buffer.ErrIndexOutOfRange) {
			return writeResult{err: errRaceDetected}
		}
		return writeResult{err: err}
	}
	return writeResult{msg: msg}
}

func (w *Writer) compact(ctx context.Context, keepHead int64) writeResult {
	length, err := w.buf.Len(ctx)
	if err != nil {
		return writeResult{err: err}
	}
	moved, err := w.compactor.Compact(ctx, w.buf, length, keepHead)
	if err != nil {
		return writeResult{length: length, err: err}
	}
	remaining := length - int64(moved)
	w.metrics.BufferLength.Set(float64(remaining))
	return writeResult{length: remaining, moved: moved}
}

func (w *Writer) drain(ctx context.Context) writeResult {
	total := 0
	for {
		res := w.compact(ctx, 0)
		total += res.moved
		if res.err != nil {
			return writeResult{length: res.length, moved: total, err: res.err}
		}
		if res.moved == 0 || res.length == 0 {
			return writeResult{moved: total}
		}
	}
}

// nextTimestamp returns a strictly increasing UTC time at microsecond
// precision, which is what the durable store keeps.
func (w *Writer) nextTimestamp() time.Time {
	ts := w.clock()
	if !ts.After(w.lastTS) {
		ts = w.lastTS.Add(time.Microsecond)
	}
	w.lastTS = ts
	return ts
}

func (w *Writer) clock() time.Time {
	return w.now().UTC().Truncate(time.Microsecond)
}

func (w *Writer) seedClock(ctx context.Context) {
	if head, err := w.buf.Range(ctx, 0, 0); err == nil && len(head) == 1 {
		if msg, err := fromEntry(head[0]); err == nil && msg.CreatedAt.After(w.lastTS) {
			w.lastTS = msg.CreatedAt
		}
	}
	if w.repo == nil {
		return
	}
	latest, err := w.repo.LatestCreatedAt(ctx)
	if err != nil {
		w.logger.Warnw("Failed to read latest stored timestamp", "error", err)
		return
	}
	if latest.After(w.lastTS) {
		w.lastTS = latest
	}
}
