package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Xushengqwer/user_event_consumer/internal/metrics"
	"github.com/Xushengqwer/user_event_consumer/internal/models"
)

// OffsetCommitter 提交 (topic, partition, offset) 元组，offset 为下一条待消费消息的位置。
type OffsetCommitter interface {
	Commit(ctx context.Context, offsets []models.TopicPartitionOffset) error
}

// FailureHandler 处理无法成功处理的消息 (死信 + 告警)。实现不得返回错误，也不得 panic 到调用方。
type FailureHandler interface {
	HandleFailure(ctx context.Context, dc models.DeliveryContext)
}

// ConsumerGateway 驱动 处理 -> 提交 -> (失败时) 故障转移 流程。
type ConsumerGateway struct {
	logger            *zap.Logger
	processor         MessageProcessor
	failover          FailureHandler
	processingTimeout time.Duration
}

// NewConsumerGateway 创建消费网关。processingTimeout 为 0 时不对单条消息设置 deadline。
func NewConsumerGateway(logger *zap.Logger, processor MessageProcessor, failover FailureHandler, processingTimeout time.Duration) *ConsumerGateway {
	return &ConsumerGateway{
		logger:            logger,
		processor:         processor,
		failover:          failover,
		processingTimeout: processingTimeout,
	}
}

// HandleDelivery 处理一条投递:
//   - 处理成功: 提交 offset+1；提交失败返回 *CommitError (致命，不重试)。
//   - 处理失败: 交给 FailureHandler，不提交偏移量，返回 nil 让分区继续消费下一条消息。
func (g *ConsumerGateway) HandleDelivery(ctx context.Context, dc models.DeliveryContext, committer OffsetCommitter) error {
	metrics.MessagesConsumedTotal.WithLabelValues(dc.Topic).Inc()
	fields := []zap.Field{
		zap.String("主题(topic)", dc.Topic),
		zap.Int32("分区(partition)", dc.Partition),
		zap.String("偏移量(offset)", dc.Offset),
	}

	processErr := g.process(ctx, dc.Message)
	if processErr == nil {
		return g.commit(ctx, dc, committer, fields)
	}

	// 会话在处理过程中被取消 (重平衡或关闭)，消息不提交也不进入死信，由新的分区持有者重新投递
	if ctx.Err() != nil && errors.Is(processErr, context.Canceled) {
		g.logger.Warn("消费网关: 会话已取消，放弃当前消息等待重新投递", append(fields, zap.Error(processErr))...)
		return nil
	}

	kind := metrics.KindHandler
	var vErr *ValidationError
	if errors.As(processErr, &vErr) {
		kind = metrics.KindValidation
	}
	metrics.ProcessingFailuresTotal.WithLabelValues(dc.Topic, kind).Inc()
	g.logger.Error("消费网关: 消息处理失败，转入故障转移流程，不提交偏移量",
		append(fields, zap.String("失败类型(kind)", kind), zap.Error(processErr))...)

	// 故障转移必须执行完毕，不受会话取消影响；其耗时由生产者超时和 webhook 超时约束
	g.failover.HandleFailure(context.WithoutCancel(ctx), dc.WithError(processErr))
	return nil
}

func (g *ConsumerGateway) process(ctx context.Context, raw json.RawMessage) error {
	if g.processingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.processingTimeout)
		defer cancel()
	}
	return g.processor.Process(ctx, raw)
}

func (g *ConsumerGateway) commit(ctx context.Context, dc models.DeliveryContext, committer OffsetCommitter, fields []zap.Field) error {
	next, err := NextOffset(dc.Offset)
	if err == nil {
		err = committer.Commit(ctx, []models.TopicPartitionOffset{{
			Topic:     dc.Topic,
			Partition: dc.Partition,
			Offset:    next,
		}})
	}
	if err != nil {
		metrics.CommitFailuresTotal.WithLabelValues(dc.Topic).Inc()
		if next == "" {
			next = dc.Offset
		}
		commitErr := &CommitError{Topic: dc.Topic, Partition: dc.Partition, Offset: next, Err: err}
		g.logger.Error("消费网关: 消息已处理成功但提交偏移量失败 (不重试)", append(fields, zap.Error(commitErr))...)
		return commitErr
	}

	metrics.OffsetsCommittedTotal.WithLabelValues(dc.Topic).Inc()
	g.logger.Info("消费网关: 消息处理成功，偏移量已提交", append(fields, zap.String("提交偏移量(committed_offset)", next))...)
	return nil
}

// NextOffset 返回 offset+1 的十进制字符串
func NextOffset(offset string) (string, error) {
	n, err := strconv.ParseInt(offset, 10, 64)
	if err != nil {
		return "", fmt.Errorf("无效的偏移量 %q: %w", offset, err)
	}
	if n < 0 || n == math.MaxInt64 {
		return "", fmt.Errorf("偏移量超出范围: %s", offset)
	}
	return strconv.FormatInt(n+1, 10), nil
}
