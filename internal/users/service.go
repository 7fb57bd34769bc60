package users

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Xushengqwer/user_event_consumer/internal/models"
)

// EmailAlreadyRegisteredMessage 邮箱冲突时对外展示的提示文案
const EmailAlreadyRegisteredMessage = "This email is already registered. Please use another email."

// ErrEmailAlreadyRegistered 邮箱已被注册 (冲突)，该消息会进入死信主题
var ErrEmailAlreadyRegistered = errors.New("email already registered")

// User 对应 users 表中的一行
type User struct {
	ID        int64
	Email     string
	Nickname  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository 用户持久化接口
type Repository interface {
	IsEmailRegistered(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, email, nickname string) (User, error)
}

// Service 处理用户注册事件
type Service struct {
	repo   Repository
	logger *zap.Logger
}

func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// SignUp 注册新用户，邮箱已存在时返回 ErrEmailAlreadyRegistered。
func (s *Service) SignUp(ctx context.Context, email, nickname string) (User, error) {
	exists, err := s.repo.IsEmailRegistered(ctx, email)
	if err != nil {
		return User{}, errors.Wrap(err, "检查邮箱是否已注册失败")
	}
	if exists {
		s.logger.Warn(EmailAlreadyRegisteredMessage, zap.String("email", email))
		return User{}, errors.WithStack(ErrEmailAlreadyRegistered)
	}

	user, err := s.repo.Create(ctx, email, nickname)
	if err != nil {
		if errors.Is(err, ErrEmailAlreadyRegistered) {
			s.logger.Warn(EmailAlreadyRegisteredMessage, zap.String("email", email))
			return User{}, err
		}
		return User{}, errors.Wrap(err, "保存用户失败")
	}

	s.logger.Info("用户注册成功",
		zap.Int64("user_id", user.ID),
		zap.String("email", user.Email),
		zap.String("nickname", user.Nickname),
	)
	return user, nil
}

// Handle 实现 kafka.RegistrationHandler
func (s *Service) Handle(ctx context.Context, cmd models.UserRegistrationCommand) error {
	_, err := s.SignUp(ctx, cmd.Email, cmd.Nickname)
	return err
}

// LoggingHandler 在未配置数据库时使用，只记录注册事件
type LoggingHandler struct {
	logger *zap.Logger
}

func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

func (h *LoggingHandler) Handle(_ context.Context, cmd models.UserRegistrationCommand) error {
	h.logger.Info("收到用户注册事件 (未配置数据库，仅记录日志)",
		zap.String("email", cmd.Email),
		zap.String("nickname", cmd.Nickname),
	)
	return nil
}
