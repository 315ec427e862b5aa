package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/site_structure_server/internal/model"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, cleanup
}

func TestNewQueue(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	assert.Equal(t, "test_queue", NewQueue(client, "test_queue").queueName)
	assert.Equal(t, DefaultQueueName, NewQueue(client, "").queueName)
}

func TestQueue_PushPop(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, "test_queue")
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, &JobMessage{JobID: 1, CompanyID: 10, Domain: "a.com", Priority: 5}))
	require.NoError(t, q.Push(ctx, &JobMessage{JobID: 2, CompanyID: 20, Domain: "b.com", Priority: 1}))

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// first in, first out
	msg, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, int64(1), msg.JobID)
	assert.Equal(t, "a.com", msg.Domain)

	msg, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, int64(2), msg.JobID)
	assert.Equal(t, 1, msg.Priority)
}

func TestQueue_PopTimeout(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	msg, err := NewQueue(client, "empty").Pop(context.Background(), 100*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestQueue_PopMalformed(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, client.LPush(ctx, "bad", "not json").Err())

	_, err := NewQueue(client, "bad").Pop(ctx, time.Second)
	assert.Error(t, err)
}

func TestQueue_PushTrims(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, "capped")
	ctx := context.Background()
	for i := 0; i < maxPending+5; i++ {
		require.NoError(t, q.Push(ctx, &JobMessage{JobID: int64(i)}))
	}

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(maxPending), n)

	// the oldest were dropped
	msg, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(5), msg.JobID)
}

func TestQueue_NotifyAndWait(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, "")
	ctx := context.Background()

	woke, err := q.Wait(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, woke)

	require.NoError(t, q.NotifyEnqueued(ctx, &model.AnalysisJob{ID: 3, CompanyID: 4, Domain: "c.com", Priority: 1}))

	woke, err = q.Wait(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, woke)
}
