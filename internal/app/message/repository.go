package message

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StoreQuery struct {
	// Limit keeps only the most recent N records; 0 means all.
	Limit          int
	IncludeDeleted bool
}

// Repository is the durable store for compacted messages.
type Repository interface {
	InsertMany(ctx context.Context, messages []*Message) error
	FindByID(ctx context.Context, id string) (*Message, error)
	// FindByStreamKey returns records in chronological order.
	FindByStreamKey(ctx context.Context, streamKey string, q StoreQuery) ([]*Message, error)
	UpdateByID(ctx context.Context, id string, fields map[string]interface{}) (*Message, error)
	LatestCreatedAt(ctx context.Context) (time.Time, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// InsertMany upserts by id, so re-running a compaction window is harmless and
// the buffer copy of a message always wins.
func (r *repository) InsertMany(ctx context.Context, messages []*Message) error {
	if len(messages) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"text", "deleted_for_me", "deleted_for_all", "updated_at"}),
		}).
		Create(&messages).Error
}

func (r *repository) FindByID(ctx context.Context, id string) (*Message, error) {
	var message Message
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *repository) FindByStreamKey(ctx context.Context, streamKey string, q StoreQuery) ([]*Message, error) {
	var messages []*Message

	tx := r.db.WithContext(ctx).
		Model(&Message{}).
		Where("stream_key = ?", streamKey)
	if !q.IncludeDeleted {
		tx = tx.Where("deleted_for_me = ? AND deleted_for_all = ?", false, false)
	}

	if q.Limit > 0 {
		err := tx.Order("created_at DESC").Order("id DESC").Limit(q.Limit).Find(&messages).Error
		if err != nil {
			return nil, err
		}
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
		return messages, nil
	}

	if err := tx.Order("created_at ASC").Order("id ASC").Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *repository) UpdateByID(ctx context.Context, id string, fields map[string]interface{}) (*Message, error) {
	var message Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Message{}).Where("id = ?", id).Updates(fields)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrMessageNotFound
		}
		return tx.Where("id = ?", id).First(&message).Error
	})
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *repository) LatestCreatedAt(ctx context.Context) (time.Time, error) {
	var message Message
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(1).
		Find(&message).Error
	if err != nil {
		return time.Time{}, err
	}
	return message.CreatedAt, nil
}
