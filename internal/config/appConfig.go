package config

import "github.com/Xushengqwer/go-common/config"

// AppConfig 是整个应用的配置结构体
type AppConfig struct {
	ZapConfig config.ZapConfig `mapstructure:"zapConfig" json:"zapConfig" yaml:"zapConfig"`
	Kafka     KafkaConfig      `mapstructure:"kafka"`
	Failover  FailoverConfig   `mapstructure:"failover"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
}

// DatabaseConfig 用户注册处理器使用的 PostgreSQL 配置。DSN 为空时不连接数据库。
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// MetricsConfig Prometheus 指标暴露地址，为空则不启动 HTTP 监听
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}
