// Package queue 入队通知队列，用于唤醒空闲 worker。
// 任务以数据库为准，通知丢失只会多等一个轮询周期
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/qs3c/site_structure_server/internal/model"
)

const (
	DefaultQueueName = "site_structure:jobs"

	// maxPending 列表长度上限，避免无人消费时堆积
	maxPending = 1000
)

type Queue struct {
	client    *redis.Client
	queueName string
}

type JobMessage struct {
	JobID     int64  `json:"job_id"`
	CompanyID int64  `json:"company_id"`
	Domain    string `json:"domain"`
	Priority  int    `json:"priority"`
}

func NewQueue(client *redis.Client, queueName string) *Queue {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &Queue{
		client:    client,
		queueName: queueName,
	}
}

// Push 推送消息，超出 maxPending 时丢弃最旧的
func (q *Queue) Push(ctx context.Context, msg *JobMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.queueName, data)
	pipe.LTrim(ctx, q.queueName, 0, maxPending-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Pop 阻塞获取消息，超时返回 nil, nil
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*JobMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var msg JobMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return &msg, nil
}

func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}

// NotifyEnqueued 通知有任务入队
func (q *Queue) NotifyEnqueued(ctx context.Context, job *model.AnalysisJob) error {
	return q.Push(ctx, &JobMessage{
		JobID:     job.ID,
		CompanyID: job.CompanyID,
		Domain:    job.Domain,
		Priority:  job.Priority,
	})
}

// Wait 阻塞等待通知或超时，返回是否收到通知
func (q *Queue) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	msg, err := q.Pop(ctx, timeout)
	if err != nil {
		return false, err
	}
	return msg != nil, nil
}
