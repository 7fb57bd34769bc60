package config

import "time"

// FailoverConfig 消息处理失败时的告警配置，启动时加载一次，运行期间只读。
type FailoverConfig struct {
	WebhookEnabled   bool          `mapstructure:"webhook_enabled"`
	WebhookURL       string        `mapstructure:"webhook_url" validate:"required_if=WebhookEnabled true,omitempty,url"`
	WebhookTimeoutMs time.Duration `mapstructure:"webhook_timeout_ms"` // Webhook HTTP 请求超时 (毫秒)，<=0 时使用默认 5 秒
}

// WebhookTimeout 返回 webhook 请求的超时时间
func (c FailoverConfig) WebhookTimeout() time.Duration {
	if c.WebhookTimeoutMs <= 0 {
		return 5 * time.Second
	}
	return c.WebhookTimeoutMs * time.Millisecond
}
