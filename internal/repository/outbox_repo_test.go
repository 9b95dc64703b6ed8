package repository_test

import (
	"context"
	"testing"
	"time"

	"viplinks/internal/model"
	"viplinks/internal/repository"
	"viplinks/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedEvent(t *testing.T, db *gorm.DB, status string, sentAt *time.Time) *model.OutboxMessage {
	t.Helper()
	msg := &model.OutboxMessage{
		MessageKey: "d-1",
		Topic:      "delivery-events",
		EventType:  "delivery.completed",
		Payload:    `{"delivery_id":"d-1"}`,
		Status:     status,
		SentAt:     sentAt,
	}
	require.NoError(t, repository.NewOutboxRepository(db).Create(context.Background(), nil, msg))
	return msg
}

func TestOutboxRepository_ListByStatus(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewOutboxRepository(db)
	ctx := context.Background()

	p1 := seedEvent(t, db, model.OutboxStatusPending, nil)
	f1 := seedEvent(t, db, model.OutboxStatusFailed, nil)
	p2 := seedEvent(t, db, model.OutboxStatusPending, nil)

	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, p1.ID, pending[0].ID)
	assert.Equal(t, p2.ID, pending[1].ID)

	failed, err := repo.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, f1.ID, failed[0].ID)
}

func TestOutboxRepository_MarkSentOnlyFromPending(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewOutboxRepository(db)
	ctx := context.Background()

	pending := seedEvent(t, db, model.OutboxStatusPending, nil)
	failed := seedEvent(t, db, model.OutboxStatusFailed, nil)

	require.NoError(t, repo.MarkSent(ctx, pending.ID, now))
	require.NoError(t, repo.MarkSent(ctx, failed.ID, now))

	var got model.OutboxMessage
	require.NoError(t, db.First(&got, pending.ID).Error)
	assert.Equal(t, model.OutboxStatusSent, got.Status)
	require.NotNil(t, got.SentAt)
	assert.True(t, got.SentAt.Equal(now))

	require.NoError(t, db.First(&got, failed.ID).Error)
	assert.Equal(t, model.OutboxStatusFailed, got.Status)
}

func TestOutboxRepository_Requeue(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewOutboxRepository(db)
	ctx := context.Background()

	failed := seedEvent(t, db, model.OutboxStatusFailed, nil)
	require.NoError(t, db.Model(failed).Update("retry_count", 3).Error)
	sentAt := now.Add(-time.Hour)
	sent := seedEvent(t, db, model.OutboxStatusSent, &sentAt)

	requeued, err := repo.Requeue(ctx, []int64{failed.ID, sent.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued)

	var got model.OutboxMessage
	require.NoError(t, db.First(&got, failed.ID).Error)
	assert.Equal(t, model.OutboxStatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount)

	// 已投递的事件不会被重新投递
	require.NoError(t, db.First(&got, sent.ID).Error)
	assert.Equal(t, model.OutboxStatusSent, got.Status)

	requeued, err = repo.Requeue(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, requeued)
}

func TestOutboxRepository_DeleteSentBefore(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewOutboxRepository(db)
	ctx := context.Background()

	old1 := now.Add(-48 * time.Hour)
	old2 := now.Add(-36 * time.Hour)
	recent := now.Add(-time.Hour)
	seedEvent(t, db, model.OutboxStatusSent, &old1)
	seedEvent(t, db, model.OutboxStatusSent, &old2)
	keptRecent := seedEvent(t, db, model.OutboxStatusSent, &recent)
	keptFailed := seedEvent(t, db, model.OutboxStatusFailed, nil)
	keptPending := seedEvent(t, db, model.OutboxStatusPending, nil)

	before := now.Add(-24 * time.Hour)

	// 按批次删除
	deleted, err := repo.DeleteSentBefore(ctx, before, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = repo.DeleteSentBefore(ctx, before, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = repo.DeleteSentBefore(ctx, before, 10)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	var ids []int64
	require.NoError(t, db.Model(&model.OutboxMessage{}).Order("id ASC").Pluck("id", &ids).Error)
	assert.Equal(t, []int64{keptRecent.ID, keptFailed.ID, keptPending.ID}, ids)
}
