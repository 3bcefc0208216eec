package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatbuffer/internal/buffer"
	"chatbuffer/internal/metrics"
	"chatbuffer/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxRaceRetries = 5

const (
	EventMessageCreated = "message_created"
	EventMessageUpdated = "message_updated"
	EventMessageDeleted = "message_deleted"
)

type Service interface {
	CreateMessage(ctx context.Context, req CreateMessageRequest) (*Message, error)
	ListMessages(ctx context.Context, req ListMessagesRequest) ([]*Message, error)
	GetMessageByID(ctx context.Context, id string) (*Message, error)
	UpdateMessage(ctx context.Context, req UpdateMessageRequest) (*Message, error)
	DeleteMessage(ctx context.Context, req DeleteMessageRequest) (*Message, error)
	Compact(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*BufferStats, error)
}

type Options struct {
	MaxCacheSize     int
	CompactionWindow int
	RateLimit        float64
	RateBurst        int
	MaxMessageLength int
}

type service struct {
	repo      Repository
	buf       buffer.Buffer
	writer    *Writer
	locator   *Locator
	reader    *Reader
	validator *Validator
	limiter   *limiterPool
	eventBus  *utils.EventBus
	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics
	opts      Options
	newID     func() string
	now       func() time.Time
}

func NewService(
	repo Repository,
	buf buffer.Buffer,
	writer *Writer,
	eventBus *utils.EventBus,
	logger *zap.Logger,
	m *metrics.Metrics,
	opts Options,
) Service {
	return &service{
		repo:      repo,
		buf:       buf,
		writer:    writer,
		locator:   NewLocator(buf, repo),
		reader:    NewReader(buf, repo),
		validator: NewValidator(opts.MaxMessageLength),
		limiter:   newLimiterPool(opts.RateLimit, opts.RateBurst),
		eventBus:  eventBus,
		logger:    logger.Sugar(),
		metrics:   m,
		opts:      opts,
		newID:     newMessageID,
		now:       time.Now,
	}
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *service) CreateMessage(ctx context.Context, req CreateMessageRequest) (*Message, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	if !s.limiter.Allow(req.UserID) {
		s.metrics.RateLimitedMessages.Inc()
		return nil, ErrRateLimited
	}

	msg, length, err := s.writer.Push(ctx, newMessage(s.newID(), req))
	if err != nil {
		return nil, fmt.Errorf("failed to buffer message: %w", err)
	}

	s.logger.Debugw("Message buffered",
		"message_id", msg.ID,
		"stream_key", msg.StreamKey,
		"buffer_length", length,
	)
	s.publish(EventMessageCreated, msg)
	return msg, nil
}

func (s *service) ListMessages(ctx context.Context, req ListMessagesRequest) ([]*Message, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	return s.reader.List(ctx, req.StreamKey, req.Limit, req.IncludeDeleted)
}

func (s *service) GetMessageByID(ctx context.Context, id string) (*Message, error) {
	if id == "" {
		return nil, ErrMessageNotFound
	}
	loc, err := s.locator.Locate(ctx, id)
	if err != nil {
		return nil, err
	}
	return loc.Message, nil
}

func (s *service) UpdateMessage(ctx context.Context, req UpdateMessageRequest) (*Message, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	msg, err := s.mutate(ctx, req.MessageID, func(m *Message) {
		m.Text = req.Text
	})
	if err != nil {
		return nil, err
	}
	s.publish(EventMessageUpdated, msg)
	return msg, nil
}

func (s *service) DeleteMessage(ctx context.Context, req DeleteMessageRequest) (*Message, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	msg, err := s.mutate(ctx, req.MessageID, func(m *Message) {
		if req.ForAll {
			m.DeletedForAll = true
		} else {
			m.DeletedForMe = true
		}
	})
	if err != nil {
		return nil, err
	}
	s.publish(EventMessageDeleted, msg)
	return msg, nil
}

func (s *service) Compact(ctx context.Context) (int, error) {
	return s.writer.Compact(ctx)
}

func (s *service) Stats(ctx context.Context) (*BufferStats, error) {
	n, err := s.buf.Len(ctx)
	if err != nil {
		return nil, err
	}
	stats := &BufferStats{
		Length:           n,
		MaxCacheSize:     s.opts.MaxCacheSize,
		CompactionWindow: s.opts.CompactionWindow,
	}
	if s.eventBus != nil {
		stats.DroppedEvents = s.eventBus.Dropped()
	}
	return stats, nil
}

// mutate locates id and applies fn in whichever tier holds it. A buffer slot
// that moved between the scan and the write sends us back to the locator.
func (s *service) mutate(ctx context.Context, id string, fn func(*Message)) (*Message, error) {
	for attempt := 1; attempt <= maxRaceRetries; attempt++ {
		loc, err := s.locator.Locate(ctx, id)
		if err != nil {
			if errors.Is(err, ErrMessageNotFound) {
				return nil, ErrMessageNotFound
			}
			return nil, fmt.Errorf("failed to locate message: %w", err)
		}

		if loc.Tier == TierStore {
			return s.updateStored(ctx, loc.Message, fn)
		}

		msg, err := s.writer.SetAt(ctx, loc.Index, id, fn)
		if errors.Is(err, errRaceDetected) {
			s.metrics.RaceRetries.Inc()
			s.logger.Debugw("Buffer slot moved, relocating", "message_id", id, "index", loc.Index, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update buffered message: %w", err)
		}
		return msg, nil
	}
	return nil, fmt.Errorf("failed to update message %s after %d attempts: %w", id, maxRaceRetries, errRaceDetected)
}

func (s *service) updateStored(ctx context.Context, current *Message, fn func(*Message)) (*Message, error) {
	updated := *current
	fn(&updated)

	fields := map[string]interface{}{
		"text":            updated.Text,
		"deleted_for_me":  updated.DeletedForMe,
		"deleted_for_all": updated.DeletedForAll,
		"updated_at":      s.now().UTC().Truncate(time.Microsecond),
	}
	msg, err := s.repo.UpdateByID(ctx, current.ID, fields)
	if errors.Is(err, ErrMessageNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "update", Err: err}
	}
	return msg, nil
}

func (s *service) publish(event string, msg *Message) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.Publish(event, msg.StreamKey, msg)
}
