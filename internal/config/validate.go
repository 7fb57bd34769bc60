package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 检查启动配置。所有不满足的字段会合并到同一个错误中返回。
func Validate(cfg *AppConfig) error {
	var problems []string

	// 日志配置由 go-common 自行处理，这里只校验本服务的配置段
	sections := []struct {
		name  string
		value any
	}{
		{"Kafka", cfg.Kafka},
		{"Failover", cfg.Failover},
	}
	for _, sec := range sections {
		err := validate.Struct(sec.value)
		if err == nil {
			continue
		}
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("校验配置失败: %w", err)
		}
		for _, fe := range fieldErrs {
			problems = append(problems, describe(sec.name, fe))
		}
	}

	// 只有在处理成功之后手动提交偏移量，"处理成功才前进" 的语义才成立
	if cfg.Kafka.Consumer.Offsets.AutoCommitEnable {
		problems = append(problems, "kafka.consumer.offsets.auto_commit_enable 必须为 false")
	}

	if len(problems) > 0 {
		return fmt.Errorf("配置无效: %s", strings.Join(problems, "; "))
	}
	return nil
}

func describe(section string, fe validator.FieldError) string {
	// Namespace 形如 "KafkaConfig.Brokers"，将结构体名替换为配置段名
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = section + field[i:]
	}
	switch fe.Tag() {
	case "required", "required_if":
		return field + " 不能为空"
	case "url":
		return field + " 必须是合法的 URL"
	case "min":
		return fmt.Sprintf("%s 至少需要 %s 项", field, fe.Param())
	default:
		return fmt.Sprintf("%s 不满足约束 %s", field, fe.Tag())
	}
}
