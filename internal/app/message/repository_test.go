package message

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepository(t *testing.T) (Repository, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&Message{}))
	return NewRepository(db), db
}

func seedMessages(t *testing.T, repo Repository, stream string, n int, base time.Time) []*Message {
	t.Helper()
	out := make([]*Message, 0, n)
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * time.Millisecond)
		out = append(out, &Message{
			ID:        fmt.Sprintf("%s-%02d", stream, i),
			StreamKey: stream,
			UserID:    "u1",
			Text:      fmt.Sprintf("m%d", i),
			CreatedAt: ts,
			UpdatedAt: ts,
		})
	}
	require.NoError(t, repo.InsertMany(context.Background(), out))
	return out
}

func TestRepositoryInsertManyUpserts(t *testing.T) {
	repo, db := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := seedMessages(t, repo, "s1", 3, base)

	msgs[1].Text = "edited"
	msgs[1].DeletedForMe = true
	require.NoError(t, repo.InsertMany(ctx, msgs))

	var count int64
	require.NoError(t, db.Model(&Message{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)

	got, err := repo.FindByID(ctx, msgs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Text)
	assert.True(t, got.DeletedForMe)
	assert.True(t, got.CreatedAt.Equal(msgs[1].CreatedAt))

	assert.NoError(t, repo.InsertMany(ctx, nil))
}

func TestRepositoryFindByStreamKey(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seedMessages(t, repo, "s1", 5, base)
	seedMessages(t, repo, "s2", 2, base)

	_, err := repo.UpdateByID(ctx, "s1-02", map[string]interface{}{"deleted_for_all": true})
	require.NoError(t, err)

	all, err := repo.FindByStreamKey(ctx, "s1", StoreQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"m0", "m1", "m3", "m4"}, texts(all))

	withDeleted, err := repo.FindByStreamKey(ctx, "s1", StoreQuery{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4"}, texts(withDeleted))

	recent, err := repo.FindByStreamKey(ctx, "s1", StoreQuery{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m4"}, texts(recent))

	none, err := repo.FindByStreamKey(ctx, "missing", StoreQuery{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepositoryUpdateByID(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seedMessages(t, repo, "s1", 1, base)

	later := base.Add(time.Hour)
	got, err := repo.UpdateByID(ctx, "s1-00", map[string]interface{}{
		"text":       "changed",
		"updated_at": later,
	})
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Text)
	assert.True(t, got.UpdatedAt.Equal(later))
	assert.True(t, got.CreatedAt.Equal(base))

	_, err = repo.UpdateByID(ctx, "nope", map[string]interface{}{"text": "x"})
	assert.ErrorIs(t, err, ErrMessageNotFound)

	_, err = repo.FindByID(ctx, "nope")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestRepositoryLatestCreatedAt(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	latest, err := repo.LatestCreatedAt(ctx)
	require.NoError(t, err)
	assert.True(t, latest.IsZero())

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seedMessages(t, repo, "s1", 4, base)

	latest, err = repo.LatestCreatedAt(ctx)
	require.NoError(t, err)
	assert.True(t, latest.Equal(base.Add(3*time.Millisecond)))
}
