package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Xushengqwer/user_event_consumer/internal/config"
	"github.com/Xushengqwer/user_event_consumer/internal/constants"
	"github.com/Xushengqwer/user_event_consumer/internal/metrics"
	"github.com/Xushengqwer/user_event_consumer/internal/models"
)

// DeliveryHandler 处理单条投递，返回非 nil 错误表示致命错误 (例如提交偏移量失败)
type DeliveryHandler interface {
	HandleDelivery(ctx context.Context, dc models.DeliveryContext, committer OffsetCommitter) error
}

// DeliveryConsumerGroupHandler 实现了 sarama.ConsumerGroupHandler 接口。
// Sarama 为每个分配到的分区启动一个 ConsumeClaim goroutine，分区内的消息严格按顺序逐条交给 DeliveryHandler。
type DeliveryConsumerGroupHandler struct {
	logger    *zap.Logger
	gateway   DeliveryHandler
	ready     chan struct{}
	readyOnce sync.Once
	fatal     chan error
}

// NewDeliveryConsumerGroupHandler 创建一个新的 DeliveryConsumerGroupHandler 实例。
func NewDeliveryConsumerGroupHandler(logger *zap.Logger, gateway DeliveryHandler) *DeliveryConsumerGroupHandler {
	return &DeliveryConsumerGroupHandler{
		logger:  logger,
		gateway: gateway,
		ready:   make(chan struct{}),
		fatal:   make(chan error, 1),
	}
}

// Ready 在第一次会话 Setup 完成后关闭
func (h *DeliveryConsumerGroupHandler) Ready() <-chan struct{} { return h.ready }

// Fatal 传递导致消费必须停止的错误 (CommitError)
func (h *DeliveryConsumerGroupHandler) Fatal() <-chan error { return h.fatal }

// Setup 在消费者会话开始时被调用。重平衡后会再次调用。
func (h *DeliveryConsumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka 消费者组: 会话 Setup 已启动",
		zap.Any("声明的分区(claims)", session.Claims()),
		zap.String("成员ID(member_id)", session.MemberID()),
		zap.Int32("代数(generation_id)", session.GenerationID()),
	)
	h.readyOnce.Do(func() { close(h.ready) })
	return nil
}

// Cleanup 在消费者会话结束时被调用。
func (h *DeliveryConsumerGroupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka 消费者组: 会话 Cleanup 已启动",
		zap.String("成员ID(member_id)", session.MemberID()),
	)
	return nil
}

// ConsumeClaim 是核心的消息处理循环。当前消息的 处理+提交 或 完整故障转移 结束之前不会读取下一条消息。
func (h *DeliveryConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	h.logger.Info("Kafka 消费者组: ConsumeClaim 已启动",
		zap.String("主题(topic)", claim.Topic()),
		zap.Int32("分区(partition)", claim.Partition()),
		zap.Int64("初始偏移量(initial_offset)", claim.InitialOffset()),
	)

	committer := &sessionCommitter{session: session}
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				h.logger.Info("Kafka 消费者组: 消息通道已关闭，退出 ConsumeClaim。",
					zap.String("主题(topic)", claim.Topic()),
					zap.Int32("分区(partition)", claim.Partition()),
				)
				return nil
			}

			h.logger.Debug("Kafka 消费者组: 收到消息",
				zap.String("主题(topic)", message.Topic),
				zap.Int32("分区(partition)", message.Partition),
				zap.Int64("偏移量(offset)", message.Offset),
			)

			dc := models.DeliveryContext{
				Topic:     message.Topic,
				Partition: message.Partition,
				Offset:    strconv.FormatInt(message.Offset, 10),
				Message:   json.RawMessage(message.Value),
			}
			if err := h.gateway.HandleDelivery(session.Context(), dc, committer); err != nil {
				h.reportFatal(err)
				return err
			}

		case <-session.Context().Done():
			h.logger.Info("Kafka 消费者组: 会话上下文已完成，退出 ConsumeClaim。",
				zap.String("主题(topic)", claim.Topic()),
				zap.Int32("分区(partition)", claim.Partition()),
			)
			return nil
		}
	}
}

func (h *DeliveryConsumerGroupHandler) reportFatal(err error) {
	select {
	case h.fatal <- err:
	default:
		// 已有致命错误在等待处理
	}
}

// sessionCommitter 通过 ConsumerGroupSession 同步提交偏移量 (自动提交必须关闭)。
type sessionCommitter struct {
	session sarama.ConsumerGroupSession
}

func (c *sessionCommitter) Commit(_ context.Context, offsets []models.TopicPartitionOffset) error {
	parsed := make([]int64, len(offsets))
	for i, o := range offsets {
		n, err := strconv.ParseInt(o.Offset, 10, 64)
		if err != nil {
			return fmt.Errorf("无效的提交偏移量 %q: %w", o.Offset, err)
		}
		parsed[i] = n
	}
	for i, o := range offsets {
		c.session.MarkOffset(o.Topic, o.Partition, parsed[i], "")
	}
	// Commit 本身不返回错误，broker 拒绝提交时错误会出现在 ConsumerGroup.Errors() 中，由 runConsumerGroup 转为 CommitError
	c.session.Commit()
	return nil
}

// StartConsumerGroup 创建消费者组并阻塞消费，直到 ctx 被取消 (返回 nil) 或出现致命错误 (返回该错误)。
func StartConsumerGroup(
	ctx context.Context,
	kafkaCfg config.KafkaConfig,
	saramaConfig *sarama.Config,
	logger *zap.Logger,
	gateway DeliveryHandler,
) error {
	if saramaConfig.Consumer.Offsets.AutoCommit.Enable {
		logger.Warn("Sarama 配置指示消费者启用了自动提交，失败消息的偏移量可能被提前提交。")
	}
	if !saramaConfig.Version.IsAtLeast(sarama.V0_10_2_0) {
		return fmt.Errorf("配置中的 Kafka 版本 %s 不支持消费者组 (需要 >= 0.10.2.0)", saramaConfig.Version)
	}

	consumerGroup, err := sarama.NewConsumerGroup(kafkaCfg.Brokers, kafkaCfg.ConsumerGroupID, saramaConfig)
	if err != nil {
		logger.Error("创建 Kafka 消费者组客户端失败",
			zap.Strings("brokers", kafkaCfg.Brokers),
			zap.String("组ID(group_id)", kafkaCfg.ConsumerGroupID),
			zap.Error(err),
		)
		return fmt.Errorf("创建消费者组客户端失败: %w", err)
	}
	logger.Info("Kafka 消费者组客户端创建成功",
		zap.Strings("brokers", kafkaCfg.Brokers),
		zap.String("组ID(group_id)", kafkaCfg.ConsumerGroupID),
	)
	defer func() {
		if err := consumerGroup.Close(); err != nil {
			logger.Error("关闭 Kafka 消费者组客户端失败", zap.Error(err))
		} else {
			logger.Info("Kafka 消费者组客户端已成功关闭。")
		}
	}()

	handler := NewDeliveryConsumerGroupHandler(logger, gateway)
	return runConsumerGroup(ctx, consumerGroup, kafkaCfg.Topics.Subscribe, handler, logger)
}

// offsetCommitErrors 是 broker 拒绝 OffsetCommit 时返回的错误码，且 sarama 不会自行重试。
// 代数/成员相关错误 (ErrIllegalGeneration、ErrUnknownMemberId、ErrRebalanceInProgress) 只在重平衡期间出现，
// 未提交的消息会被新的分区持有者重新投递，因此只记录日志。
var offsetCommitErrors = []sarama.KError{
	sarama.ErrOffsetMetadataTooLarge,
	sarama.ErrInvalidCommitOffsetSize,
	sarama.ErrFencedInstancedId,
	sarama.ErrGroupAuthorizationFailed,
	sarama.ErrTopicAuthorizationFailed,
}

// asCommitError 判断 ConsumerGroup.Errors() 中的错误是否为偏移量提交失败
func asCommitError(err error) (*CommitError, bool) {
	var consumerErr *sarama.ConsumerError
	if !errors.As(err, &consumerErr) {
		return nil, false
	}
	for _, kerr := range offsetCommitErrors {
		if errors.Is(consumerErr.Err, kerr) {
			return &CommitError{Topic: consumerErr.Topic, Partition: consumerErr.Partition, Offset: "unknown", Err: consumerErr.Err}, true
		}
	}
	return nil, false
}

// groupConsumer 是 runConsumerGroup 用到的 sarama.ConsumerGroup 子集
type groupConsumer interface {
	Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error
	Errors() <-chan error
}

func runConsumerGroup(
	parent context.Context,
	consumerGroup groupConsumer,
	topics []string,
	handler *DeliveryConsumerGroupHandler,
	logger *zap.Logger,
) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Errors() 通道在 consumerGroup.Close() 之后关闭，协程随之退出
	go func() {
		for err := range consumerGroup.Errors() {
			if commitErr, ok := asCommitError(err); ok {
				metrics.CommitFailuresTotal.WithLabelValues(commitErr.Topic).Inc()
				logger.Error("Broker 拒绝提交偏移量",
					zap.String("主题(topic)", commitErr.Topic),
					zap.Int32("分区(partition)", commitErr.Partition),
					zap.Error(commitErr.Err),
				)
				handler.reportFatal(commitErr)
				continue
			}
			logger.Error("Kafka 消费者组报告错误", zap.Error(err))
		}
	}()

	consumeDone := make(chan struct{})
	go func() {
		defer close(consumeDone)
		logger.Info("启动 Kafka 消费者组消费...", zap.Strings("订阅主题(topics)", topics))
		for {
			// 重平衡后 Consume 会返回，需要重新进入
			if err := consumerGroup.Consume(ctx, topics, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					logger.Info("Kafka 消费者组 Consume 循环退出 (ErrClosedConsumerGroup)。")
					return
				}
				logger.Error("Kafka 消费者组 Consume 过程中发生错误", zap.Error(err), zap.Strings("订阅主题(topics)", topics))
				select {
				case <-time.After(constants.KafkaConsumeRetryInterval):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	var fatalErr error
	select {
	case <-ctx.Done():
		logger.Info("上下文已取消，正在关闭消费者组...")
	case fatalErr = <-handler.Fatal():
		logger.Error("Kafka 消费者组遇到致命错误，停止消费", zap.Error(fatalErr))
	case <-consumeDone:
	}

	cancel()
	<-consumeDone

	logger.Info("Kafka 消费者组处理流程已完成关闭。")
	return fatalErr
}
