package message

import (
	"context"
	"fmt"
	"time"

	"chatbuffer/internal/buffer"
	"chatbuffer/internal/metrics"

	"go.uber.org/zap"
)

type CompactorConfig struct {
	Window     int
	Timeout    time.Duration
	Retries    int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Compactor moves the oldest buffer window into the durable store. It is only
// ever called from the Writer goroutine, so the buffer cannot change between
// reading the window and trimming it.
type Compactor struct {
	repo    Repository
	cfg     CompactorConfig
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewCompactor(repo Repository, cfg CompactorConfig, logger *zap.Logger, m *metrics.Metrics) *Compactor {
	if cfg.Window < 1 {
		cfg.Window = 1
	}
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = cfg.MinBackoff
	}
	return &Compactor{
		repo:    repo,
		cfg:     cfg,
		logger:  logger.Sugar(),
		metrics: m,
		sleep:   sleepCtx,
	}
}

// Compact relocates up to Window of the oldest entries, never touching the
// keepHead newest ones. length must be the buffer length observed by the
// caller. Returns how many entries were moved.
func (c *Compactor) Compact(ctx context.Context, buf buffer.Buffer, length, keepHead int64) (int, error) {
	eligible := length - keepHead
	if eligible <= 0 {
		return 0, nil
	}
	window := int64(c.cfg.Window)
	if window > eligible {
		window = eligible
	}
	start := length - window

	began := time.Now()
	defer func() {
		c.metrics.CompactionDuration.Observe(time.Since(began).Seconds())
	}()

	entries, err := buf.Range(ctx, start, length-1)
	if err != nil {
		c.metrics.Compactions.WithLabelValues("read_failed").Inc()
		return 0, fmt.Errorf("failed to read compaction window: %w", err)
	}
	if int64(len(entries)) != window {
		c.metrics.Compactions.WithLabelValues("read_failed").Inc()
		return 0, fmt.Errorf("failed to read compaction window: expected %d entries, got %d", window, len(entries))
	}

	// tail of the window is the oldest entry
	batch := make([]*Message, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		msg, err := fromEntry(entries[i])
		if err != nil {
			c.metrics.Compactions.WithLabelValues("read_failed").Inc()
			return 0, err
		}
		batch = append(batch, msg)
	}

	if err := c.persist(ctx, batch); err != nil {
		c.metrics.Compactions.WithLabelValues("persist_failed").Inc()
		c.logger.Errorw("Compaction aborted, buffer left untouched",
			"window", window,
			"buffer_length", length,
			"error", err,
		)
		return 0, &PersistenceError{Op: "insert_many", Err: err}
	}

	if err := trimTo(ctx, buf, start); err != nil {
		// persisted but not trimmed; the upsert makes the next run harmless
		c.metrics.Compactions.WithLabelValues("trim_failed").Inc()
		c.logger.Errorw("Compaction persisted window but trim failed",
			"window", window,
			"error", err,
		)
		return 0, err
	}

	c.metrics.Compactions.WithLabelValues("ok").Inc()
	c.metrics.CompactedMessages.Add(float64(window))
	c.logger.Infow("Buffer compacted",
		"moved", window,
		"remaining", start,
		"oldest_id", batch[0].ID,
		"newest_id", batch[len(batch)-1].ID,
	)
	return int(window), nil
}

func (c *Compactor) persist(ctx context.Context, batch []*Message) error {
	backoff := c.cfg.MinBackoff
	var lastErr error

	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		lastErr = c.repo.InsertMany(attemptCtx, batch)
		cancel()
		if lastErr == nil {
			return nil
		}

		c.logger.Warnw("Compaction persist attempt failed",
			"attempt", attempt,
			"max_attempts", c.cfg.Retries,
			"batch_size", len(batch),
			"error", lastErr,
		)
		if attempt == c.cfg.Retries {
			break
		}
		if err := c.sleep(ctx, backoff); err != nil {
			return fmt.Errorf("%w (retry interrupted: %v)", lastErr, err)
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
	return lastErr
}

// trimTo keeps the newest keep entries.
func trimTo(ctx context.Context, buf buffer.Buffer, keep int64) error {
	if keep <= 0 {
		return buf.Trim(ctx, 1, 0)
	}
	return buf.Trim(ctx, 0, keep-1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
