// Package redisstore Redis 会话后端。记录以 JSON 保存在带前缀的键下，
// 存活时间取自 cookie 的过期时间。
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/haiyiyun/sessionstore"
)

const (
	DefaultPrefix = "sess:"
	DefaultTTL    = 24 * time.Hour

	scanCount = 100
)

// Store Redis 后端
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger

	mu       sync.RWMutex
	notifier sessionstore.Notifier
}

// Option 配置选项
type Option func(*Store)

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithTTL cookie 没有过期时间时使用的存活时间
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
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

// New 创建 Redis 后端，client 由调用方创建和配置
func New(client redis.UniversalClient, options ...Option) *Store {
	s := &Store{
		client: client,
		prefix: DefaultPrefix,
		ttl:    DefaultTTL,
		logger: zap.NewNop(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *Store) key(sid string) string {
	return s.prefix + sid
}

// SetNotifier 接收编排器的事件中心
func (s *Store) SetNotifier(n sessionstore.Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

func (s *Store) emit(event string, args ...any) {
	s.mu.RLock()
	n := s.notifier
	s.mu.RUnlock()
	if n != nil {
		n.Emit(event, args...)
	}
}

// Get 读取会话，找不到返回 (nil, nil)
func (s *Store) Get(ctx context.Context, sid string) (*sessionstore.Record, error) {
	data, err := s.client.Get(ctx, s.key(sid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get %s: %w", sid, err)
	}

	var rec sessionstore.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("redisstore: decode %s: %w", sid, err)
	}
	return &rec, nil
}

// Set 保存会话；cookie 已过期时直接删除
func (s *Store) Set(ctx context.Context, sid string, rec *sessionstore.Record) error {
	if rec == nil {
		return errors.New("redisstore: cannot store nil session")
	}

	ttl, err := rec.TTL(time.Now(), s.ttl)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return s.Destroy(ctx, sid)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redisstore: encode %s: %w", sid, err)
	}

	if err := s.client.Set(ctx, s.key(sid), data, ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: set %s: %w", sid, err)
	}
	return nil
}

// Destroy 删除会话，不存在不算错误
func (s *Store) Destroy(ctx context.Context, sid string) error {
	if err := s.client.Del(ctx, s.key(sid)).Err(); err != nil {
		return fmt.Errorf("redisstore: destroy %s: %w", sid, err)
	}
	return nil
}

// Touch 只刷新键的存活时间
func (s *Store) Touch(ctx context.Context, sid string, rec *sessionstore.Record) error {
	ttl, err := rec.TTL(time.Now(), s.ttl)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return s.Destroy(ctx, sid)
	}

	if err := s.client.Expire(ctx, s.key(sid), ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: touch %s: %w", sid, err)
	}
	return nil
}

// IDs 当前保存的会话ID（SCAN，不阻塞 Redis）
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(s.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redisstore: scan: %w", err)
	}
	return ids, nil
}

// Len 会话数量
func (s *Store) Len(ctx context.Context) (int, error) {
	ids, err := s.IDs(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Clear 删除前缀下的全部会话
func (s *Store) Clear(ctx context.Context) error {
	ids, err := s.IDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redisstore: clear: %w", err)
	}
	return nil
}

// Watch 定期 PING，连接状态变化时发布 connect / disconnect，
// PING 失败同时发布 error。ctx 结束时返回 nil，interval 必须为正。
func (s *Store) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("redisstore: watch interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var connected *bool
	for {
		err := s.client.Ping(ctx).Err()
		if ctx.Err() != nil {
			return nil
		}

		up := err == nil
		if connected == nil || *connected != up {
			if up {
				s.logger.Info("redis session store connected")
				s.emit(sessionstore.EventConnect)
			} else {
				s.logger.Warn("redis session store disconnected", zap.Error(err))
				s.emit(sessionstore.EventDisconnect)
			}
		}
		if err != nil {
			s.emit(sessionstore.EventError, fmt.Errorf("redisstore: ping: %w", err))
		}
		connected = &up

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Close 关闭 Redis 客户端
func (s *Store) Close() error {
	return s.client.Close()
}
