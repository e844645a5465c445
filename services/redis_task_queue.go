package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisTaskQueue keeps task ids in a sorted set scored by run time and task
// bodies in a hash next to it.
type RedisTaskQueue struct {
	redis *redis.Client
	key   string
}

func NewRedisTaskQueue(client *redis.Client, key string) *RedisTaskQueue {
	return &RedisTaskQueue{redis: client, key: key}
}

func (q *RedisTaskQueue) bodiesKey() string { return q.key + ":bodies" }
func (q *RedisTaskQueue) failedKey() string { return q.key + ":failed" }

func (q *RedisTaskQueue) Enqueue(ctx context.Context, taskType string, payload interface{}, runAt time.Time) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task payload: %v", err)
	}
	task := Task{
		ID:      uuid.NewString(),
		Type:    taskType,
		Payload: raw,
		RunAt:   runAt.UTC(),
	}
	body, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task: %v", err)
	}

	_, err = q.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.bodiesKey(), task.ID, body)
		pipe.ZAdd(ctx, q.key, redis.Z{Score: float64(runAt.UnixMilli()), Member: task.ID})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to store in Redis: %v", err)
	}
	return task.ID, nil
}

func (q *RedisTaskQueue) ClaimDue(ctx context.Context, now time.Time) (*Task, error) {
	for {
		ids, err := q.redis.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(now.UnixMilli(), 10),
			Count: 1,
		}).Result()
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, nil
		}

		// Whoever removes the id from the set owns the task.
		removed, err := q.redis.ZRem(ctx, q.key, ids[0]).Result()
		if err != nil {
			return nil, err
		}
		if removed == 0 {
			continue
		}

		body, err := q.redis.HGet(ctx, q.bodiesKey(), ids[0]).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var task Task
		if err := json.Unmarshal([]byte(body), &task); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task %s: %v", ids[0], err)
		}
		task.Attempts++
		return &task, nil
	}
}

func (q *RedisTaskQueue) Complete(ctx context.Context, task *Task) error {
	return q.redis.HDel(ctx, q.bodiesKey(), task.ID).Err()
}

func (q *RedisTaskQueue) Fail(ctx context.Context, task *Task, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := q.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, q.bodiesKey(), task.ID)
		pipe.HSet(ctx, q.failedKey(), task.ID, msg)
		return nil
	})
	return err
}

func (q *RedisTaskQueue) Pending(ctx context.Context) (int64, error) {
	return q.redis.ZCard(ctx, q.key).Result()
}
