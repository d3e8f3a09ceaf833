package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ReloadMessage 规则变更广播消息
type ReloadMessage struct {
	InstanceID string    `json:"instance_id"`
	Reason     string    `json:"reason"`
	RuleID     int64     `json:"rule_id,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

// ReloadNotifier 通过Redis发布订阅在多个实例间广播规则重载
type ReloadNotifier struct {
	client     redis.UniversalClient
	channel    string
	instanceID string
	logger     *zap.Logger
}

// NewReloadNotifier 创建广播器，每个进程生成唯一实例ID用于忽略自己发出的消息
func NewReloadNotifier(client redis.UniversalClient, channel string, logger *zap.Logger) *ReloadNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReloadNotifier{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		logger:     logger,
	}
}

// InstanceID 当前实例ID
func (n *ReloadNotifier) InstanceID() string {
	return n.instanceID
}

// Publish 广播一次重载
func (n *ReloadNotifier) Publish(ctx context.Context, reason string, ruleID int64) error {
	payload, err := json.Marshal(ReloadMessage{
		InstanceID: n.instanceID,
		Reason:     reason,
		RuleID:     ruleID,
		SentAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("序列化重载消息失败: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("发布重载消息失败: %w", err)
	}
	return nil
}

// Listen 订阅频道直到ctx取消，收到其他实例的消息时调用handler
func (n *ReloadNotifier) Listen(ctx context.Context, handler func(ctx context.Context, msg ReloadMessage)) error {
	pubsub := n.client.Subscribe(ctx, n.channel)
	defer pubsub.Close()

	// 等待订阅确认，连接失败在这里返回
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("订阅频道%s失败: %w", n.channel, err)
	}
	n.logger.Info("Subscribed to rule reload channel", zap.String("channel", n.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := DecodeReloadMessage(m.Payload)
			if err != nil {
				n.logger.Warn("Ignoring malformed reload message", zap.Error(err))
				continue
			}
			if msg.InstanceID == n.instanceID {
				continue
			}
			n.logger.Info("Reload requested by peer",
				zap.String("peer", msg.InstanceID),
				zap.String("reason", msg.Reason))
			handler(ctx, msg)
		}
	}
}

// DecodeReloadMessage 解析广播消息
func DecodeReloadMessage(payload string) (ReloadMessage, error) {
	var msg ReloadMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return msg, fmt.Errorf("解析重载消息失败: %w", err)
	}
	if msg.InstanceID == "" {
		return msg, fmt.Errorf("重载消息缺少instance_id")
	}
	return msg, nil
}
