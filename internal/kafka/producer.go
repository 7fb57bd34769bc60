package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// EventProducer 定义了向 Kafka 发送消息的接口。
// 普通业务输出和死信重新发布共用同一个实例，实现必须支持多个分区的并发调用。
type EventProducer interface {
	// Publish 将 payload 序列化为 JSON 后同步发送到 topic，key 为空时不设置消息 Key。
	// 发送未完成时返回 *PublishError。此层不做重试。
	Publish(ctx context.Context, topic, key string, payload any) error

	// Close 关闭生产者并释放资源。
	Close() error
}

// kafkaProducer 实现了 EventProducer 接口，使用 Sarama 同步生产者。
type kafkaProducer struct {
	producer sarama.SyncProducer
	logger   *zap.Logger
}

// NewKafkaProducer 在启动阶段建立到 broker 的连接，并在整个进程生命周期内复用。
func NewKafkaProducer(brokers []string, saramaCfg *sarama.Config, logger *zap.Logger) (EventProducer, error) {
	// 对于同步生产者，Return.Successes 和 Return.Errors 必须都设置为 true。
	if !saramaCfg.Producer.Return.Successes || !saramaCfg.Producer.Return.Errors {
		logger.Error("Kafka生产者配置错误: 对于同步生产者, Return.Successes 和 Return.Errors 必须都为 true")
		return nil, fmt.Errorf("kafka生产者配置错误: 同步生产者需要 Return.Successes=true 和 Return.Errors=true")
	}

	producer, err := sarama.NewSyncProducer(brokers, saramaCfg)
	if err != nil {
		logger.Error("创建 Kafka 同步生产者失败",
			zap.Strings("brokers", brokers),
			zap.Error(err),
		)
		return nil, fmt.Errorf("创建 Kafka 同步生产者失败: %w", err)
	}
	logger.Info("Kafka 同步生产者创建成功", zap.Strings("brokers", brokers))

	return newKafkaProducer(producer, logger), nil
}

func newKafkaProducer(producer sarama.SyncProducer, logger *zap.Logger) *kafkaProducer {
	return &kafkaProducer{
		producer: producer,
		logger:   logger,
	}
}

// Publish 实现 EventProducer 接口。
func (p *kafkaProducer) Publish(ctx context.Context, topic, key string, payload any) error {
	if topic == "" {
		return &PublishError{Topic: topic, Err: fmt.Errorf("主题不能为空")}
	}
	if err := ctx.Err(); err != nil {
		return &PublishError{Topic: topic, Err: err}
	}

	value, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("Publish: 序列化消息失败", zap.String("主题(topic)", topic), zap.Error(err))
		return &PublishError{Topic: topic, Err: fmt.Errorf("序列化消息失败: %w", err)}
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	p.logger.Debug("准备发送消息到 Kafka",
		zap.String("主题(topic)", topic),
		zap.String("消息键(key)", key),
	)

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("Publish: 发送消息到 Kafka 失败",
			zap.String("主题(topic)", topic),
			zap.String("消息键(key)", key),
			zap.Error(err),
		)
		return &PublishError{Topic: topic, Err: err}
	}

	p.logger.Info("成功发送消息到 Kafka",
		zap.String("主题(topic)", topic),
		zap.String("消息键(key)", key),
		zap.Int32("分区(partition)", partition),
		zap.Int64("偏移量(offset)", offset),
	)
	return nil
}

// Close 实现 EventProducer 接口，关闭同步生产者。
func (p *kafkaProducer) Close() error {
	if p.producer != nil {
		p.logger.Info("正在关闭 Kafka 同步生产者...")
		if err := p.producer.Close(); err != nil {
			p.logger.Error("关闭 Kafka 同步生产者失败", zap.Error(err))
			return err
		}
		p.logger.Info("Kafka 同步生产者已成功关闭。")
	}
	return nil
}
