package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelStructureProgress = "structure_progress"

	MessageTypeProgress = "structure_progress"
)

// ProgressMessage 分析进度消息，转发给 WebSocket 客户端
type ProgressMessage struct {
	Type      string `json:"type"`
	CompanyID int64  `json:"company_id"`
	JobID     int64  `json:"job_id"`
	Domain    string `json:"domain"`
	Status    string `json:"status"`
	Step      string `json:"step"`
	Progress  int    `json:"progress"`
	Attempt   int    `json:"attempt,omitempty"`
	Pages     int    `json:"pages,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// 分析步骤
const (
	StepDiscovering = "discovering"
	StepRanking     = "ranking"
	StepValidating  = "validating"
	StepStoring     = "storing"
	StepDone        = "done"
)

// StepProgress 各步骤对应的进度百分比
var StepProgress = map[string]int{
	StepDiscovering: 20,
	StepRanking:     50,
	StepValidating:  70,
	StepStoring:     90,
	StepDone:        100,
}

// StepMessages 各步骤的默认提示
var StepMessages = map[string]string{
	StepDiscovering: "Discovering pages",
	StepRanking:     "Ranking pages",
	StepValidating:  "Checking page liveness",
	StepStoring:     "Saving website structure",
	StepDone:        "Analysis complete",
}

// Publisher 进度发布者
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishProgress 发布进度，未设置进度和消息时按步骤补全
func (p *Publisher) PublishProgress(ctx context.Context, msg *ProgressMessage) error {
	msg.Type = MessageTypeProgress

	if msg.Progress == 0 && msg.Step != "" {
		if progress, ok := StepProgress[msg.Step]; ok {
			msg.Progress = progress
		}
	}
	if msg.Message == "" && msg.Step != "" {
		if message, ok := StepMessages[msg.Step]; ok {
			msg.Message = message
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}

	return p.client.Publish(ctx, ChannelStructureProgress, data).Err()
}

// Subscriber 进度订阅者
type Subscriber struct {
	client *redis.Client
}

func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅进度并对每条消息调用 handler，直到 ctx 结束。
// ready 非空时在订阅生效后关闭
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ProgressMessage), ready chan<- struct{}) error {
	pubsub := s.client.Subscribe(ctx, ChannelStructureProgress)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", ChannelStructureProgress, err)
	}
	if ready != nil {
		close(ready)
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var progressMsg ProgressMessage
			if err := json.Unmarshal([]byte(msg.Payload), &progressMsg); err != nil {
				continue // 跳过无法解析的消息
			}

			handler(&progressMsg)
		}
	}
}
