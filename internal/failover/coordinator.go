package failover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/Xushengqwer/user_event_consumer/internal/constants"
	"github.com/Xushengqwer/user_event_consumer/internal/metrics"
	"github.com/Xushengqwer/user_event_consumer/internal/models"
)

// Publisher 是死信发布所需的生产者能力，由 kafka.EventProducer 实现
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, payload any) error
}

// Notifier 发送运维告警，由 WebhookNotifier 实现
type Notifier interface {
	Notify(ctx context.Context, dc models.DeliveryContext) error
}

// DeadLetterTopic 返回源主题对应的死信主题名
func DeadLetterTopic(topic string) string {
	return topic + constants.DeadLetterTopicSuffix
}

// Coordinator 在消息处理失败时同时执行 死信发布 与 webhook 告警，两者互不影响。
type Coordinator struct {
	logger    *zap.Logger
	publisher Publisher
	notifier  Notifier
	service   string
	now       func() time.Time
}

func NewCoordinator(logger *zap.Logger, publisher Publisher, notifier Notifier) *Coordinator {
	return &Coordinator{
		logger:    logger,
		publisher: publisher,
		notifier:  notifier,
		service:   constants.ServiceName,
		now:       time.Now,
	}
}

// HandleFailure 不返回错误: 故障转移本身的任何失败 (包括 panic) 只记录日志。
func (c *Coordinator) HandleFailure(ctx context.Context, dc models.DeliveryContext) {
	var wg conc.WaitGroup
	wg.Go(func() { c.publishDeadLetter(ctx, dc) })
	wg.Go(func() { c.notify(ctx, dc) })

	if recovered := wg.WaitAndRecover(); recovered != nil {
		c.logger.Error("故障转移过程中发生 panic，已恢复",
			zap.String("topic", dc.Topic),
			zap.Int32("partition", dc.Partition),
			zap.String("offset", dc.Offset),
			zap.Error(recovered.AsError()),
		)
	}
}

func (c *Coordinator) publishDeadLetter(ctx context.Context, dc models.DeliveryContext) {
	topic := DeadLetterTopic(dc.Topic)
	record := c.newDeadLetterRecord(dc)

	if err := c.publisher.Publish(ctx, topic, record.DLQEventID, record); err != nil {
		metrics.DeadLetterTotal.WithLabelValues(metrics.StatusFailed).Inc()
		c.logger.Error("发送死信消息失败，消息仅保留在日志中",
			zap.String("死信主题(dlq_topic)", topic),
			zap.String("dlq_event_id", record.DLQEventID),
			zap.String("原始主题(original_topic)", dc.Topic),
			zap.Int32("partition", dc.Partition),
			zap.String("offset", dc.Offset),
			zap.ByteString("failed_message", record.FailedMessage),
			zap.Error(err),
		)
		return
	}

	metrics.DeadLetterTotal.WithLabelValues(metrics.StatusPublished).Inc()
	c.logger.Info("失败消息已发送到死信主题",
		zap.String("死信主题(dlq_topic)", topic),
		zap.String("dlq_event_id", record.DLQEventID),
		zap.String("offset", dc.Offset),
	)
}

func (c *Coordinator) notify(ctx context.Context, dc models.DeliveryContext) {
	err := c.notifier.Notify(ctx, dc)
	switch {
	case err == nil:
		metrics.WebhookNotificationsTotal.WithLabelValues(metrics.StatusSent).Inc()
	case errors.Is(err, ErrNotifierDisabled):
		metrics.WebhookNotificationsTotal.WithLabelValues(metrics.StatusSkipped).Inc()
		c.logger.Warn("failover webhook 未启用或未配置 URL，跳过告警",
			zap.String("topic", dc.Topic),
			zap.String("offset", dc.Offset),
		)
	default:
		metrics.WebhookNotificationsTotal.WithLabelValues(metrics.StatusFailed).Inc()
		c.logger.Error("发送 failover webhook 告警失败",
			zap.String("topic", dc.Topic),
			zap.Int32("partition", dc.Partition),
			zap.String("offset", dc.Offset),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) newDeadLetterRecord(dc models.DeliveryContext) models.DeadLetterRecord {
	id := uuid.NewString()
	var stack string
	if dc.Err != nil {
		stack = fmt.Sprintf("%+v", dc.Err)
	}
	return models.DeadLetterRecord{
		DLQEventID:        id,
		OriginalTopic:     dc.Topic,
		Partition:         dc.Partition,
		Offset:            dc.Offset,
		FailedMessage:     failedMessage(dc.Message),
		ErrorMessage:      dc.ErrorMessage(),
		ErrorStack:        stack,
		Timestamp:         FormatTimestamp(c.now()),
		ProcessingService: c.service,
	}
}

// failedMessage 保证死信记录中的 failedMessage 始终是合法 JSON
func failedMessage(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(raw) {
		return raw
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}
