// Package cachestore 基于 github.com/haiyiyun/cache 的会话后端，
// 本地缓存、Redis 缓存或两级 HYYCache 都可以。记录用 gob 编码，时间保持结构化。
package cachestore

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/haiyiyun/cache"
	"go.uber.org/zap"

	"github.com/haiyiyun/sessionstore"
)

const (
	DefaultPrefix = "sess:"
	DefaultTTL    = 24 * time.Hour
)

func init() {
	// 注册 interface 字段里可能出现的类型
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
	gob.Register(time.Time{})
}

// entry 缓存中的编码形式。gob 不编码零值，指向 0 的指针也会丢，
// 所以单独记录 originalMaxAge 是否存在。
type entry struct {
	Values    map[string]any
	Cookie    *sessionstore.RawCookie
	HasCookie bool
	HasMaxAge bool
}

func encode(rec *sessionstore.Record) ([]byte, error) {
	e := entry{Values: rec.Values, Cookie: rec.Cookie, HasCookie: rec.Cookie != nil}
	if rec.Cookie != nil && rec.Cookie.OriginalMaxAge != nil {
		e.HasMaxAge = true
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*sessionstore.Record, error) {
	var e entry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return nil, err
	}
	rec := &sessionstore.Record{Values: e.Values, Cookie: e.Cookie}
	if rec.Values == nil {
		rec.Values = make(map[string]any)
	}
	// 全零值的 cookie 结构体不会被编码
	if rec.Cookie == nil && e.HasCookie {
		rec.Cookie = &sessionstore.RawCookie{}
	}
	if e.HasMaxAge && rec.Cookie != nil && rec.Cookie.OriginalMaxAge == nil {
		var zero int64
		rec.Cookie.OriginalMaxAge = &zero
	}
	return rec, nil
}

// Store 缓存适配器
type Store struct {
	cache  cache.Cache
	prefix string
	ttl    time.Duration
	logger *zap.Logger
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

// New 创建缓存后端
func New(c cache.Cache, options ...Option) *Store {
	s := &Store{
		cache:  c,
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

// Get 读取会话，找不到返回 (nil, nil)
func (s *Store) Get(_ context.Context, sid string) (*sessionstore.Record, error) {
	var data []byte
	found, err := s.cache.Get(s.key(sid), &data)
	if err != nil {
		return nil, fmt.Errorf("cachestore: get %s: %w", sid, err)
	}
	// 空数据按不存在处理
	if !found || len(data) == 0 {
		return nil, nil
	}

	rec, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("cachestore: decode %s: %w", sid, err)
	}
	return rec, nil
}

// Set 保存会话，存活时间取自 cookie 的过期时间
func (s *Store) Set(ctx context.Context, sid string, rec *sessionstore.Record) error {
	if rec == nil {
		return errors.New("cachestore: cannot store nil session")
	}

	ttl, err := rec.TTL(time.Now(), s.ttl)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		s.logger.Debug("session already expired, deleting", zap.String("sid", sid))
		return s.Destroy(ctx, sid)
	}

	data, err := encode(rec)
	if err != nil {
		return fmt.Errorf("cachestore: encode %s: %w", sid, err)
	}

	if err := s.cache.Set(s.key(sid), data, ttl); err != nil {
		return fmt.Errorf("cachestore: set %s: %w", sid, err)
	}
	return nil
}

// Destroy 删除会话
func (s *Store) Destroy(_ context.Context, sid string) error {
	s.cache.Delete(s.key(sid))
	return nil
}

// Touch 缓存没有单独的续期操作，按新的 cookie 重写已有记录
func (s *Store) Touch(ctx context.Context, sid string, rec *sessionstore.Record) error {
	current, err := s.Get(ctx, sid)
	if err != nil || current == nil {
		return err
	}
	if rec != nil && rec.Cookie != nil {
		current.Cookie = rec.Cookie
	}
	return s.Set(ctx, sid, current)
}
