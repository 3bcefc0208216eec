package message

import (
	"encoding/json"
	"fmt"
	"time"

	"chatbuffer/internal/buffer"
)

type Tier string

const (
	TierBuffer Tier = "buffer"
	TierStore  Tier = "store"
)

type Message struct {
	ID            string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	StreamKey     string    `json:"stream_key" gorm:"not null;index:idx_messages_stream_created,priority:1"`
	UserID        string    `json:"user_id" gorm:"not null"`
	Text          string    `json:"text" gorm:"type:text;not null"`
	ThreadID      *string   `json:"thread_id,omitempty" gorm:"index"`
	DeletedForMe  bool      `json:"deleted_for_me" gorm:"not null"`
	DeletedForAll bool      `json:"deleted_for_all" gorm:"not null"`
	CreatedAt     time.Time `json:"created_at" gorm:"not null;index:idx_messages_stream_created,priority:2"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) IsDeleted() bool {
	return m.DeletedForMe || m.DeletedForAll
}

type CreateMessageRequest struct {
	StreamKey string  `json:"stream_key" validate:"required,max=255"`
	UserID    string  `json:"user_id" validate:"required,max=64"`
	Text      string  `json:"text" validate:"notblank"`
	ThreadID  *string `json:"thread_id,omitempty" validate:"omitempty,min=1,max=64"`
}

type UpdateMessageRequest struct {
	MessageID string `json:"message_id" validate:"required,max=64"`
	Text      string `json:"text" validate:"notblank"`
}

type DeleteMessageRequest struct {
	MessageID string `json:"message_id" validate:"required,max=64"`
	ForAll    bool   `json:"for_all"`
}

type ListMessagesRequest struct {
	StreamKey      string `json:"stream_key" validate:"required,max=255"`
	Limit          int    `json:"limit" validate:"gte=0,lte=1000"`
	IncludeDeleted bool   `json:"include_deleted"`
}

type MessageListResponse struct {
	Messages []*Message `json:"messages"`
}

type BufferStats struct {
	Length           int64  `json:"length"`
	MaxCacheSize     int    `json:"max_cache_size"`
	CompactionWindow int    `json:"compaction_window"`
	DroppedEvents    uint64 `json:"dropped_events"`
}

type ErrorResponse struct {
	Error  string       `json:"error"`
	Fields []FieldError `json:"fields,omitempty"`
}

// newMessage is the single constructor both ingress paths go through.
// Timestamps are assigned later by the buffer writer.
func newMessage(id string, req CreateMessageRequest) *Message {
	return &Message{
		ID:        id,
		StreamKey: req.StreamKey,
		UserID:    req.UserID,
		Text:      req.Text,
		ThreadID:  req.ThreadID,
	}
}

func toEntry(m *Message) (buffer.Entry, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return buffer.Entry{}, fmt.Errorf("failed to encode message %s: %w", m.ID, err)
	}
	return buffer.Entry{ID: m.ID, Payload: payload}, nil
}

func fromEntry(e buffer.Entry) (*Message, error) {
	var m Message
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return nil, fmt.Errorf("failed to decode buffered message %s: %w", e.ID, err)
	}
	return &m, nil
}
