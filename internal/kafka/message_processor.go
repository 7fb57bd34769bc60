package kafka

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/Xushengqwer/user_event_consumer/internal/models"
)

// MessageProcessor 将原始消息体校验、转换为业务命令并调用业务处理器。
type MessageProcessor interface {
	// Process 在消息体不满足命令结构时返回 *ValidationError；
	// 业务处理器返回的错误原样返回，此层不做重试也不吞掉错误。
	Process(ctx context.Context, raw json.RawMessage) error
}

// RegistrationHandler 是用户注册事件的业务处理器
type RegistrationHandler interface {
	Handle(ctx context.Context, cmd models.UserRegistrationCommand) error
}

type registrationProcessor struct {
	logger  *zap.Logger
	handler RegistrationHandler
}

// NewRegistrationProcessor 创建处理 user.registration.event 消息的 MessageProcessor
func NewRegistrationProcessor(logger *zap.Logger, handler RegistrationHandler) MessageProcessor {
	return &registrationProcessor{
		logger:  logger,
		handler: handler,
	}
}

func (p *registrationProcessor) Process(ctx context.Context, raw json.RawMessage) error {
	cmd, violations := models.DecodeUserRegistration(raw)
	if len(violations) > 0 {
		err := &ValidationError{Violations: violations}
		p.logger.Warn("Process: 消息体校验失败", zap.Error(err))
		return err
	}

	p.logger.Debug("Process: 消息体校验通过，调用业务处理器", zap.String("email", cmd.Email))
	return p.handler.Handle(ctx, cmd)
}
