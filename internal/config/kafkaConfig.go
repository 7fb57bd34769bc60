package config

import "time"

// KafkaConfig 包含了 Kafka 相关的配置
type KafkaConfig struct {
	Brokers                []string       `mapstructure:"brokers" validate:"min=1,dive,required"` // Kafka Broker 地址列表
	Version                string         `mapstructure:"version" validate:"required"`            // Kafka 版本，例如 "2.8.1" (Sarama 需要)
	Topics                 KafkaTopics    `mapstructure:"topics"`                                 // 主题配置
	ConsumerGroupID        string         `mapstructure:"consumer_group_id" validate:"required"`  // 消费者组 ID
	AllowAutoTopicCreation bool           `mapstructure:"allow_auto_topic_creation"`              // 生产者发送到不存在的主题时是否允许自动创建 (例如 .deadletter 主题)
	Producer               ProducerConfig `mapstructure:"producer"`                               // 生产者特定配置
	Consumer               ConsumerConfig `mapstructure:"consumer"`                               // 消费者特定配置
	EnableSASL             bool           `mapstructure:"enable_sasl"`                            // 是否启用 SASL 认证
	SASLUser               string         `mapstructure:"sasl_user"`                              // SASL 用户名
	SASLPassword           string         `mapstructure:"sasl_password"`                          // SASL 密码
	SASLMechanism          string         `mapstructure:"sasl_mechanism"`                         // SASL 机制，目前仅支持 "PLAIN"
	EnableTLS              bool           `mapstructure:"enable_tls"`                             // 是否启用 TLS 加密
	TLSCaFile              string         `mapstructure:"tls_ca_file"`                            // CA 证书文件路径 (可选)
	TLSCertFile            string         `mapstructure:"tls_cert_file"`                          // 客户端证书文件路径 (可选, 用于双向TLS)
	TLSKeyFile             string         `mapstructure:"tls_key_file"`                           // 客户端私钥文件路径 (可选, 用于双向TLS)
	TLSInsecureSkipVerify  bool           `mapstructure:"tls_insecure_skip_verify"`               // 是否跳过服务器证书链和主机名验证 (不推荐用于生产)
}

// KafkaTopics 定义了服务需要用到的 Kafka 主题名称
type KafkaTopics struct {
	// Subscribe 是消费者订阅的业务事件主题，死信主题由其派生为 "<topic>.deadletter"，无需配置。
	Subscribe []string `mapstructure:"subscribe" validate:"min=1,dive,required"`
}

// ProducerConfig 包含生产者的特定配置
type ProducerConfig struct {
	RequiredAcks    string        `mapstructure:"required_acks"`     // "no_response", "wait_for_local", "wait_for_all"
	TimeoutMs       time.Duration `mapstructure:"timeout_ms"`        // 生产者请求超时 (毫秒)
	MaxMessageBytes int           `mapstructure:"max_message_bytes"` // 生产者能发送的最大消息大小
}

// ConsumerConfig 包含消费者的特定配置
type ConsumerConfig struct {
	SessionTimeoutMs    time.Duration `mapstructure:"session_timeout_ms"`    // 消费者会话超时 (毫秒)
	HeartbeatIntervalMs time.Duration `mapstructure:"heartbeat_interval_ms"` // 消费者心跳间隔 (毫秒)
	ProcessingTimeoutMs time.Duration `mapstructure:"processing_timeout_ms"` // 单条消息业务处理的超时 (毫秒)，0 表示不限制
	Offsets             OffsetsConfig `mapstructure:"offsets"`
}

// OffsetsConfig 包含消费者偏移量相关的配置
type OffsetsConfig struct {
	AutoCommitEnable     bool          `mapstructure:"auto_commit_enable"`      // 是否自动提交偏移量 (必须为 false，处理成功后才手动提交)
	AutoCommitIntervalMs time.Duration `mapstructure:"auto_commit_interval_ms"` // 如果自动提交启用，提交间隔 (毫秒)
	Initial              string        `mapstructure:"initial"`                 // "earliest", "latest"
}

// ProcessingTimeout 返回单条消息的处理超时时间，0 表示不设置 deadline
func (c ConsumerConfig) ProcessingTimeout() time.Duration {
	if c.ProcessingTimeoutMs <= 0 {
		return 0
	}
	return c.ProcessingTimeoutMs * time.Millisecond
}
