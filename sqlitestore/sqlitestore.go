// Package sqlitestore SQLite 会话后端（modernc.org/sqlite，纯 Go）。
// 记录以 JSON 文本保存，过期时间以毫秒时间戳单独存列，便于查询和清理。
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/haiyiyun/sessionstore"
)

// DefaultTTL cookie 没有过期时间时使用的存活时间
const DefaultTTL = 24 * time.Hour

//go:embed schema.sql
var schemaSQL string

// Store SQLite 后端
type Store struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// Option 配置选项
type Option func(*Store)

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open 打开（必要时创建）数据库文件并初始化表结构
func Open(ctx context.Context, dsn string, options ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	s, err := New(ctx, db, options...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New 使用已打开的数据库
func New(ctx context.Context, db *sql.DB, options ...Option) (*Store, error) {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &Store{
		db:     db,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

func (s *Store) expiresAt(rec *sessionstore.Record) (int64, error) {
	now := s.now()
	ttl, err := rec.TTL(now, s.ttl)
	if err != nil {
		return 0, err
	}
	return now.Add(ttl).UnixMilli(), nil
}

// Get 读取未过期的会话，找不到返回 (nil, nil)
func (s *Store) Get(ctx context.Context, sid string) (*sessionstore.Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT sess FROM sessions WHERE sid = ? AND expires > ?",
		sid, s.now().UnixMilli(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get %s: %w", sid, err)
	}

	var rec sessionstore.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("sqlitestore: decode %s: %w", sid, err)
	}
	return &rec, nil
}

// Set 插入或覆盖会话
func (s *Store) Set(ctx context.Context, sid string, rec *sessionstore.Record) error {
	if rec == nil {
		return errors.New("sqlitestore: cannot store nil session")
	}

	expires, err := s.expiresAt(rec)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sqlitestore: encode %s: %w", sid, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (sid, sess, expires) VALUES (?, ?, ?)
		 ON CONFLICT(sid) DO UPDATE SET sess = excluded.sess, expires = excluded.expires`,
		sid, string(data), expires,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: set %s: %w", sid, err)
	}
	return nil
}

// Destroy 删除会话
func (s *Store) Destroy(ctx context.Context, sid string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE sid = ?", sid); err != nil {
		return fmt.Errorf("sqlitestore: destroy %s: %w", sid, err)
	}
	return nil
}

// Touch 只更新过期时间列
func (s *Store) Touch(ctx context.Context, sid string, rec *sessionstore.Record) error {
	expires, err := s.expiresAt(rec)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET expires = ? WHERE sid = ?", expires, sid,
	); err != nil {
		return fmt.Errorf("sqlitestore: touch %s: %w", sid, err)
	}
	return nil
}

// IDs 未过期的会话ID，按ID排序
func (s *Store) IDs(ctx context.Context) (ids []string, retErr error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT sid FROM sessions WHERE expires > ? ORDER BY sid", s.now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil && retErr == nil {
			retErr = err
		}
	}()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlitestore: list: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Len 未过期的会话数量
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE expires > ?", s.now().UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: count: %w", err)
	}
	return n, nil
}

// Prune 删除已过期的行，返回删除数量
func (s *Store) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires <= ?", s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Debug("pruned expired sessions", zap.Int64("count", n))
	}
	return n, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}
