package kafka

import (
	"fmt"
	"strings"

	"github.com/Xushengqwer/user_event_consumer/internal/models"
)

// ValidationError 表示消息体不满足期望的命令结构，Violations 包含所有不满足约束的字段。
type ValidationError struct {
	Violations []models.FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return "Validation failed: " + strings.Join(parts, "; ")
}

// CommitError 表示 broker 拒绝或未能完成偏移量提交。对本服务而言是致命错误，不在此层重试。
type CommitError struct {
	Topic     string
	Partition int32
	Offset    string
	Err       error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("提交偏移量失败 (topic=%s, partition=%d, offset=%s): %v", e.Topic, e.Partition, e.Offset, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// PublishError 包装了 Sarama 生产者发送失败的底层错误
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("发送消息到 Kafka 主题 '%s' 失败: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
