package users

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Xushengqwer/user_event_consumer/internal/models"
)

type memoryRepository struct {
	users     map[string]User
	lookupErr error
	createErr error
	nextID    int64
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{users: map[string]User{}}
}

func (r *memoryRepository) IsEmailRegistered(_ context.Context, email string) (bool, error) {
	if r.lookupErr != nil {
		return false, r.lookupErr
	}
	_, ok := r.users[email]
	return ok, nil
}

func (r *memoryRepository) Create(_ context.Context, email, nickname string) (User, error) {
	if r.createErr != nil {
		return User{}, r.createErr
	}
	r.nextID++
	now := time.Now()
	u := User{ID: r.nextID, Email: email, Nickname: nickname, CreatedAt: now, UpdatedAt: now}
	r.users[email] = u
	return u, nil
}

func TestServiceSignUp(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepository()
	svc := NewService(repo, zaptest.NewLogger(t))

	user, err := svc.SignUp(context.Background(), "a@b.com", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, "a@b.com", user.Email)
	assert.Equal(t, "alice", user.Nickname)
	assert.Contains(t, repo.users, "a@b.com")
}

func TestServiceSignUpRejectsDuplicateEmail(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepository()
	svc := NewService(repo, zaptest.NewLogger(t))
	_, err := svc.SignUp(context.Background(), "a@b.com", "alice")
	require.NoError(t, err)

	_, err = svc.SignUp(context.Background(), "a@b.com", "bob")
	require.ErrorIs(t, err, ErrEmailAlreadyRegistered)
	assert.Equal(t, "email already registered", err.Error())
	assert.Contains(t, fmt.Sprintf("%+v", err), "TestServiceSignUpRejectsDuplicateEmail", "error should carry a stack trace")
	assert.Equal(t, "alice", repo.users["a@b.com"].Nickname)
}

func TestServiceSignUpLogsConflictMessage(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	repo := newMemoryRepository()
	repo.users["a@b.com"] = User{ID: 1, Email: "a@b.com", Nickname: "alice"}

	_, err := NewService(repo, zap.New(core)).SignUp(context.Background(), "a@b.com", "bob")
	require.ErrorIs(t, err, ErrEmailAlreadyRegistered)

	entries := logs.FilterMessage("This email is already registered. Please use another email.").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "a@b.com", entries[0].ContextMap()["email"])
}

func TestServiceSignUpRepositoryFailures(t *testing.T) {
	t.Parallel()

	dbDown := errors.New("db down")

	repo := newMemoryRepository()
	repo.lookupErr = dbDown
	_, err := NewService(repo, zaptest.NewLogger(t)).SignUp(context.Background(), "a@b.com", "alice")
	assert.ErrorIs(t, err, dbDown)

	repo = newMemoryRepository()
	repo.createErr = dbDown
	_, err = NewService(repo, zaptest.NewLogger(t)).SignUp(context.Background(), "a@b.com", "alice")
	assert.ErrorIs(t, err, dbDown)
	assert.Empty(t, repo.users)

	// 并发注册时由唯一约束兜底，仓储层直接返回冲突错误
	repo = newMemoryRepository()
	repo.createErr = errors.WithStack(ErrEmailAlreadyRegistered)
	_, err = NewService(repo, zaptest.NewLogger(t)).SignUp(context.Background(), "a@b.com", "alice")
	assert.ErrorIs(t, err, ErrEmailAlreadyRegistered)
	assert.Equal(t, ErrEmailAlreadyRegistered.Error(), err.Error())
}

func TestServiceHandle(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepository()
	svc := NewService(repo, zaptest.NewLogger(t))

	require.NoError(t, svc.Handle(context.Background(), models.UserRegistrationCommand{Email: "a@b.com", Nickname: "alice"}))
	assert.ErrorIs(t, svc.Handle(context.Background(), models.UserRegistrationCommand{Email: "a@b.com", Nickname: "x"}), ErrEmailAlreadyRegistered)
}

func TestLoggingHandler(t *testing.T) {
	t.Parallel()

	h := NewLoggingHandler(zaptest.NewLogger(t))
	assert.NoError(t, h.Handle(context.Background(), models.UserRegistrationCommand{Email: "a@b.com", Nickname: "alice"}))
}
