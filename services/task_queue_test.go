package services

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"qbanksync/models"
	"qbanksync/testutil"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	Value string `json:"value"`
}

// exerciseQueue runs the contract every TaskQueue implementation shares.
func exerciseQueue(t *testing.T, q TaskQueue) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	laterID, err := q.Enqueue(ctx, "later", samplePayload{Value: "b"}, base.Add(time.Hour))
	require.NoError(t, err)
	soonID, err := q.Enqueue(ctx, "soon", samplePayload{Value: "a"}, base)
	require.NoError(t, err)
	assert.NotEqual(t, laterID, soonID)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	task, err := q.ClaimDue(ctx, base.Add(-time.Second))
	require.NoError(t, err)
	assert.Nil(t, task)

	task, err = q.ClaimDue(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, soonID, task.ID)
	assert.Equal(t, "soon", task.Type)
	assert.JSONEq(t, `{"value":"a"}`, string(task.Payload))
	assert.Equal(t, 1, task.Attempts)

	again, err := q.ClaimDue(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, again, "a claimed task is not handed out twice")
	require.NoError(t, q.Complete(ctx, task))

	task, err = q.ClaimDue(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, laterID, task.ID)
	require.NoError(t, q.Fail(ctx, task, errors.New("boom")))

	pending, err = q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	task, err = q.ClaimDue(ctx, base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, task, "failed tasks are not retried")
}

func TestDBTaskQueue(t *testing.T) {
	db := testutil.DB(t)
	q := NewDBTaskQueue(db)
	exerciseQueue(t, q)

	var rows []models.AdhocTask
	require.NoError(t, db.Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, models.TaskStatusFailed, rows[0].Status)
	assert.Equal(t, "boom", rows[0].LastError)
	assert.Equal(t, models.TaskStatusDone, rows[1].Status)
}

func TestRedisTaskQueue(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis queue tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	key := "qbanksync:test:" + uuid.NewString()
	q := NewRedisTaskQueue(client, key)
	t.Cleanup(func() {
		client.Del(context.Background(), key, q.bodiesKey(), q.failedKey())
	})
	exerciseQueue(t, q)

	reasons, err := client.HVals(context.Background(), q.failedKey()).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"boom"}, reasons)
}
