package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/Xushengqwer/user_event_consumer/internal/config"
	"github.com/Xushengqwer/user_event_consumer/internal/users"
)

const uniqueViolation = "23505"

// DBTX 是 *pgxpool.Pool 与 pgx.Tx 共有的查询能力
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect 建立连接池并 Ping 验证连通性
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "解析数据库 DSN 失败")
	}
	poolCfg.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "创建数据库连接池失败")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "数据库 Ping 失败")
	}
	return pool, nil
}

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id         BIGSERIAL PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE,
	nickname   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Repository 基于 PostgreSQL 的 users.Repository 实现
type Repository struct {
	db DBTX
}

func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

// EnsureSchema 创建 users 表 (若不存在)
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, createUsersTable); err != nil {
		return errors.Wrap(err, "创建 users 表失败")
	}
	return nil
}

func (r *Repository) IsEmailRegistered(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "查询邮箱失败")
	}
	return exists, nil
}

func (r *Repository) Create(ctx context.Context, email, nickname string) (users.User, error) {
	u := users.User{Email: email, Nickname: nickname}
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (email, nickname) VALUES ($1, $2) RETURNING id, created_at, updated_at`,
		email, nickname,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return users.User{}, errors.WithStack(users.ErrEmailAlreadyRegistered)
		}
		return users.User{}, errors.Wrap(err, "插入用户失败")
	}
	return u, nil
}
