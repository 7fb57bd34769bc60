package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *AppConfig {
	return &AppConfig{
		Kafka: KafkaConfig{
			Brokers:         []string{"localhost:9092"},
			Version:         "2.8.1",
			ConsumerGroupID: "user-service",
			Topics:          KafkaTopics{Subscribe: []string{"user.registration.event"}},
		},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr []string
	}{
		{
			name:   "valid without webhook",
			mutate: func(*AppConfig) {},
		},
		{
			name: "webhook disabled without url",
			mutate: func(c *AppConfig) {
				c.Failover.WebhookEnabled = false
				c.Failover.WebhookURL = ""
			},
		},
		{
			name: "webhook enabled with url",
			mutate: func(c *AppConfig) {
				c.Failover.WebhookEnabled = true
				c.Failover.WebhookURL = "http://ops/hook"
			},
		},
		{
			name: "webhook enabled without url",
			mutate: func(c *AppConfig) {
				c.Failover.WebhookEnabled = true
			},
			wantErr: []string{"Failover.WebhookURL 不能为空"},
		},
		{
			name: "webhook enabled with malformed url",
			mutate: func(c *AppConfig) {
				c.Failover.WebhookEnabled = true
				c.Failover.WebhookURL = "ops hook"
			},
			wantErr: []string{"Failover.WebhookURL 必须是合法的 URL"},
		},
		{
			name: "missing brokers and group",
			mutate: func(c *AppConfig) {
				c.Kafka.Brokers = nil
				c.Kafka.ConsumerGroupID = ""
			},
			wantErr: []string{"Kafka.Brokers", "Kafka.ConsumerGroupID 不能为空"},
		},
		{
			name: "auto commit rejected",
			mutate: func(c *AppConfig) {
				c.Kafka.Consumer.Offsets.AutoCommitEnable = true
			},
			wantErr: []string{"auto_commit_enable 必须为 false"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestTimeoutDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "5s", FailoverConfig{}.WebhookTimeout().String())
	assert.Equal(t, "250ms", FailoverConfig{WebhookTimeoutMs: 250}.WebhookTimeout().String())
	assert.Zero(t, ConsumerConfig{}.ProcessingTimeout())
	assert.Equal(t, "2s", ConsumerConfig{ProcessingTimeoutMs: 2000}.ProcessingTimeout().String())
}
