package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/Xushengqwer/go-common/core"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Xushengqwer/user_event_consumer/internal/config"
	"github.com/Xushengqwer/user_event_consumer/internal/constants"
	"github.com/Xushengqwer/user_event_consumer/internal/kafka"
)

// 测试数据: 每 invalidEvery 条消息中有一条故意缺少 email 字段，每 duplicateEvery 条复用上一条的邮箱，
// 用于验证 校验失败 与 业务失败 两条死信路径。
const (
	invalidEvery   = 4
	duplicateEvery = 5
)

func main() {
	var configFile string
	var numMessages int
	var topic string

	flag.StringVar(&configFile, "config", "internal/config/config.development.yaml", "指定配置文件的路径")
	flag.IntVar(&numMessages, "n", 20, "要发送的测试消息数量")
	flag.StringVar(&topic, "topic", "", "目标主题，默认使用 kafka.topics.subscribe 的第一个主题")
	flag.Parse()

	var appCfg config.AppConfig
	if err := core.LoadConfig(configFile, &appCfg); err != nil {
		log.Fatalf("致命错误: 加载配置文件 '%s' 失败: %v", configFile, err)
	}

	zapLogger, loggerErr := core.NewZapLogger(appCfg.ZapConfig)
	if loggerErr != nil {
		log.Fatalf("致命错误: 初始化 ZapLogger 失败: %v", loggerErr)
	}
	logger := zapLogger.Logger()
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("测试生产者启动，配置文件加载成功。")

	saramaCfg, err := kafka.GetSaramaConfig(appCfg.Kafka, constants.ServiceName+"_test_producer", logger)
	if err != nil {
		logger.Fatal("创建 Kafka Sarama 配置失败", zap.Error(err))
	}

	producer, err := kafka.NewKafkaProducer(appCfg.Kafka.Brokers, saramaCfg, logger)
	if err != nil {
		logger.Fatal("创建 Kafka 生产者失败", zap.Strings("brokers", appCfg.Kafka.Brokers), zap.Error(err))
	}
	defer func() {
		logger.Info("正在关闭 Kafka 生产者...")
		if err := producer.Close(); err != nil {
			logger.Error("关闭 Kafka 生产者失败", zap.Error(err))
		}
	}()

	if topic == "" {
		if len(appCfg.Kafka.Topics.Subscribe) > 0 {
			topic = appCfg.Kafka.Topics.Subscribe[0]
		} else {
			topic = constants.DefaultRegistrationTopic
		}
	}
	logger.Info("将向主题发送消息", zap.String("topic", topic), zap.Int("count", numMessages))

	runID := uuid.NewString()[:8]
	lastEmail := ""
	for i := 1; i <= numMessages; i++ {
		event := map[string]any{
			"email":    fmt.Sprintf("user%d.%s@example.com", i, runID),
			"nickname": fmt.Sprintf("测试用户%d", i),
		}
		switch {
		case i%invalidEvery == 0:
			delete(event, "email")
		case i%duplicateEvery == 0 && lastEmail != "":
			event["email"] = lastEmail
		}
		if email, ok := event["email"].(string); ok {
			lastEmail = email
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		key := fmt.Sprintf("registration_%s_%d", runID, i)
		err := producer.Publish(ctx, topic, key, event)
		cancel()
		if err != nil {
			logger.Error("发送消息到 Kafka 失败", zap.String("topic", topic), zap.String("key", key), zap.Error(err))
			continue
		}
		logger.Info("成功发送注册事件", zap.String("topic", topic), zap.String("key", key), zap.Any("event", event))
		time.Sleep(200 * time.Millisecond)
	}

	logger.Info("所有测试消息已发送完毕。")
}
