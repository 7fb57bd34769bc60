package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Xushengqwer/user_event_consumer/internal/config"
)

// zapToSaramaAdapter 将 zap.Logger 适配为 sarama.StdLogger 接口
type zapToSaramaAdapter struct {
	logger *zap.Logger
}

// NewZapToSaramaAdapter 创建一个新的适配器实例，logger 为 nil 时返回 nil (Sarama 保持默认 logger)
func NewZapToSaramaAdapter(logger *zap.Logger) sarama.StdLogger {
	if logger == nil {
		return nil
	}
	return &zapToSaramaAdapter{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (a *zapToSaramaAdapter) Print(v ...interface{}) {
	a.logger.Info("Sarama", zap.String("internal_log", fmt.Sprint(v...)))
}

func (a *zapToSaramaAdapter) Printf(format string, v ...interface{}) {
	a.logger.Info("Sarama", zap.String("internal_log", fmt.Sprintf(format, v...)))
}

func (a *zapToSaramaAdapter) Println(v ...interface{}) {
	a.logger.Info("Sarama", zap.String("internal_log", fmt.Sprintln(v...)))
}

// GetSaramaConfig 将 config.KafkaConfig 转换为 sarama.Config。
// 生产者与消费者共用同一份配置: 同步生产者所需的 Return.Successes/Errors 在这里统一打开，
// 消费者固定为手动提交偏移量。
func GetSaramaConfig(cfg config.KafkaConfig, clientID string, zapLogger *zap.Logger) (*sarama.Config, error) {
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}
	if adapter := NewZapToSaramaAdapter(zapLogger); adapter != nil {
		sarama.Logger = adapter
	}

	saramaCfg := sarama.NewConfig()

	// --- Kafka 版本设置 ---
	if cfg.Version == "" {
		zapLogger.Error("Kafka配置错误: kafka.version 未指定", zap.String("advice", "Sarama 需要明确的版本以确保兼容性"))
		return nil, fmt.Errorf("kafka.version 未在配置中指定，Sarama 需要明确的版本以确保兼容性")
	}
	version, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		zapLogger.Error("Kafka配置错误: 无效的 kafka.version", zap.String("configured_version", cfg.Version), zap.Error(err))
		return nil, fmt.Errorf("无效的 Kafka 版本配置 '%s': %w", cfg.Version, err)
	}
	saramaCfg.Version = version

	// --- 生产者配置 ---
	switch cfg.Producer.RequiredAcks {
	case "no_response":
		saramaCfg.Producer.RequiredAcks = sarama.NoResponse
	case "wait_for_local":
		saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	case "wait_for_all", "":
		saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	default:
		zapLogger.Warn("生产者 RequiredAcks 配置无效",
			zap.String("configured_acks", cfg.Producer.RequiredAcks),
			zap.String("using_default", "WaitForAll"))
		saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	}
	if cfg.Producer.TimeoutMs > 0 {
		saramaCfg.Producer.Timeout = cfg.Producer.TimeoutMs * time.Millisecond
	}
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Return.Errors = true
	if cfg.Producer.MaxMessageBytes > 0 {
		saramaCfg.Producer.MaxMessageBytes = cfg.Producer.MaxMessageBytes
	}
	// 死信主题 "<topic>.deadletter" 通常不会预先创建，是否允许 broker 自动创建由配置决定
	saramaCfg.Metadata.AllowAutoTopicCreation = cfg.AllowAutoTopicCreation

	// 幂等生产者要求 acks=all 且 Kafka >= 0.11，且每个连接只允许一个未完成请求
	if saramaCfg.Producer.RequiredAcks == sarama.WaitForAll && saramaCfg.Version.IsAtLeast(sarama.V0_11_0_0) {
		saramaCfg.Producer.Idempotent = true
		saramaCfg.Net.MaxOpenRequests = 1
	}

	// --- 消费者配置 ---
	switch cfg.Consumer.Offsets.Initial {
	case "latest":
		saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	case "earliest", "":
		saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		zapLogger.Warn("消费者 Offsets.Initial 配置无效，将使用 'earliest'",
			zap.String("configured_initial_offset", cfg.Consumer.Offsets.Initial))
		saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}

	saramaCfg.Consumer.Offsets.AutoCommit.Enable = cfg.Consumer.Offsets.AutoCommitEnable
	if cfg.Consumer.Offsets.AutoCommitEnable {
		if cfg.Consumer.Offsets.AutoCommitIntervalMs > 0 {
			saramaCfg.Consumer.Offsets.AutoCommit.Interval = cfg.Consumer.Offsets.AutoCommitIntervalMs * time.Millisecond
		}
		zapLogger.Warn("消费者偏移量自动提交已启用",
			zap.Duration("interval", saramaCfg.Consumer.Offsets.AutoCommit.Interval),
			zap.String("recommendation", "处理失败的消息可能在未处理的情况下被提交，必须禁用自动提交。"))
	}
	saramaCfg.Consumer.Return.Errors = true

	if cfg.Consumer.SessionTimeoutMs > 0 {
		saramaCfg.Consumer.Group.Session.Timeout = cfg.Consumer.SessionTimeoutMs * time.Millisecond
	}
	if cfg.Consumer.HeartbeatIntervalMs > 0 {
		saramaCfg.Consumer.Group.Heartbeat.Interval = cfg.Consumer.HeartbeatIntervalMs * time.Millisecond
	} else if cfg.Consumer.SessionTimeoutMs > 0 {
		saramaCfg.Consumer.Group.Heartbeat.Interval = saramaCfg.Consumer.Group.Session.Timeout / 3
	}

	// 重平衡策略交由 Sarama 处理，这里只选择 Sticky
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}

	// --- 网络与安全配置 (SASL/TLS) ---
	if cfg.EnableSASL {
		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.SASL.User = cfg.SASLUser
		saramaCfg.Net.SASL.Password = cfg.SASLPassword
		switch cfg.SASLMechanism {
		case "PLAIN", "":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		default:
			// SCRAM 需要额外提供 SCRAMClientGeneratorFunc，目前未接入
			zapLogger.Error("不支持的 SASL 机制", zap.String("configured_mechanism", cfg.SASLMechanism))
			return nil, fmt.Errorf("不支持的 SASL 机制: '%s'", cfg.SASLMechanism)
		}
	}

	if cfg.EnableTLS {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			zapLogger.Error("TLS 配置失败", zap.Error(err))
			return nil, err
		}
		saramaCfg.Net.TLS.Enable = true
		saramaCfg.Net.TLS.Config = tlsConfig
	}

	if clientID == "" {
		clientID = "sarama-user-event-client"
	}
	saramaCfg.ClientID = clientID

	if err := saramaCfg.Validate(); err != nil {
		return nil, fmt.Errorf("sarama 配置校验失败: %w", err)
	}

	zapLogger.Info("Sarama 配置已生成",
		zap.String("version", version.String()),
		zap.String("client_id", saramaCfg.ClientID),
		zap.Bool("auto_commit", saramaCfg.Consumer.Offsets.AutoCommit.Enable),
		zap.Bool("allow_auto_topic_creation", saramaCfg.Metadata.AllowAutoTopicCreation),
		zap.Bool("idempotent", saramaCfg.Producer.Idempotent),
	)
	return saramaCfg, nil
}

func buildTLSConfig(cfg config.KafkaConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.TLSInsecureSkipVerify,
	}
	if cfg.TLSCaFile != "" {
		caCert, err := os.ReadFile(cfg.TLSCaFile)
		if err != nil {
			return nil, fmt.Errorf("读取 CA 证书文件失败 %s: %w", cfg.TLSCaFile, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("无法将 CA 证书添加到证书池 (文件: %s)", cfg.TLSCaFile)
		}
		tlsConfig.RootCAs = caCertPool
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return nil, fmt.Errorf("TLS 客户端认证配置错误: TLSCertFile 和 TLSKeyFile 必须同时提供或同时不提供")
	}
	if cfg.TLSCertFile != "" {
		clientCert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("加载客户端证书和密钥失败: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}
	return tlsConfig, nil
}
