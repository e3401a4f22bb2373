// Package sessionstore 会话存储编排层：在最小化的 CRUD 后端之上提供会话重建、
// 重新生成和事件通知。后端（内存、缓存、Redis、SQLite）可替换。
package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haiyiyun/sessionstore/internal/emitter"
)

// GenerateFunc 为请求生成新会话。Store 显式传入，不依赖外层作用域。
type GenerateFunc func(s *Store, req *Request) error

// Store 会话存储编排器。自身不持有会话数据，可在多个请求间共享。
type Store struct {
	backend       Backend
	events        *emitter.Emitter
	logger        *zap.Logger
	generator     GenerateFunc
	idFunc        func() string
	cookieOptions CookieOptions
	closed        atomic.Bool
}

// New 创建编排器。后端实现了 Notifiable 时会拿到事件中心。
func New(backend Backend, options ...Option) (*Store, error) {
	if backend == nil {
		return nil, ErrNoBackend
	}

	s := &Store{
		backend:       backend,
		events:        emitter.New(),
		logger:        zap.NewNop(),
		generator:     DefaultGenerate,
		idFunc:        newSessionID,
		cookieOptions: DefaultCookieOptions(),
	}

	for _, opt := range options {
		opt(s)
	}

	if n, ok := backend.(Notifiable); ok {
		n.SetNotifier(s)
	}
	return s, nil
}

// Backend 底层后端
func (s *Store) Backend() Backend {
	return s.backend
}

// Regenerate 删除请求当前的会话，然后为请求生成新会话。
// 删除失败不影响生成，但删除的错误仍会返回给调用方。
func (s *Store) Regenerate(ctx context.Context, req *Request) error {
	if req == nil {
		return ErrNilRequest
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}

	oldID := req.SessionID
	destroyErr := s.backend.Destroy(ctx, oldID)
	if destroyErr != nil {
		s.logger.Warn("destroy during regenerate failed",
			zap.String("sid", oldID), zap.Error(destroyErr))
		destroyErr = fmt.Errorf("destroy session %s: %w", oldID, destroyErr)
	}

	genErr := s.Generate(req)
	if genErr != nil {
		genErr = fmt.Errorf("generate session: %w", genErr)
	} else {
		s.logger.Debug("session regenerated",
			zap.String("old_sid", oldID), zap.String("sid", req.SessionID))
	}

	return errors.Join(destroyErr, genErr)
}

// Load 按 sid 加载会话。
// 三种结果互斥：(nil, err) 后端出错；(nil, nil) 会话不存在；(sess, nil) 找到。
func (s *Store) Load(ctx context.Context, sid string) (*Session, error) {
	rec, err := s.Get(ctx, sid)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	req := &Request{SessionID: sid, SessionStore: s}
	sess, err := s.CreateSession(req, rec)
	if err != nil {
		s.logger.Warn("malformed session record", zap.String("sid", sid), zap.Error(err))
		return nil, err
	}
	return sess, nil
}

// CreateSession 由原始记录重建会话并挂到 req.Session 上。
// 顺序不能变：先取出 expires 和 originalMaxAge，重建 cookie 后再覆盖回去，
// 保证 OriginalMaxAge 与记录中的值一致。
func (s *Store) CreateSession(req *Request, rec *Record) (*Session, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	if rec == nil || rec.Cookie == nil {
		return nil, fmt.Errorf("%w: missing cookie", ErrMalformedRecord)
	}

	expires := rec.Cookie.Expires
	orig := copyInt64(rec.Cookie.OriginalMaxAge)

	cookie := NewCookie(rec.Cookie)

	switch v := expires.(type) {
	case nil, time.Time, *time.Time:
	case string:
		if v != "" {
			t, err := parseExpires(v)
			if err != nil {
				return nil, err
			}
			cookie.Expires = &t
		}
	default:
		return nil, fmt.Errorf("%w: expires has type %T", ErrMalformedRecord, expires)
	}

	cookie.OriginalMaxAge = orig

	req.Session = newSession(req, rec.Values, cookie)
	return req.Session, nil
}

// Generate 为请求生成新会话（不写入后端）
func (s *Store) Generate(req *Request) error {
	if req == nil {
		return ErrNilRequest
	}
	return s.generator(s, req)
}

// DefaultGenerate 默认生成器：新ID、空数据、按配置创建 cookie
func DefaultGenerate(s *Store, req *Request) error {
	id := s.idFunc()
	if id == "" {
		return errors.New("empty session id")
	}

	req.SessionID = id
	req.SessionStore = s
	req.Session = newSession(req, nil, NewCookieFromOptions(s.cookieOptions))
	return nil
}

func newSessionID() string {
	return uuid.New().String()
}

// Get 读取原始记录，找不到返回 (nil, nil)
func (s *Store) Get(ctx context.Context, sid string) (*Record, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	return s.backend.Get(ctx, sid)
}

// Set 保存原始记录
func (s *Store) Set(ctx context.Context, sid string, rec *Record) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := s.backend.Set(ctx, sid, rec); err != nil {
		s.logger.Error("save session failed", zap.String("sid", sid), zap.Error(err))
		return err
	}
	return nil
}

// Destroy 删除记录
func (s *Store) Destroy(ctx context.Context, sid string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.backend.Destroy(ctx, sid)
}

// Touch 刷新过期时间，后端不支持 Touch 时退化为 Set
func (s *Store) Touch(ctx context.Context, sid string, rec *Record) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if t, ok := s.backend.(Toucher); ok {
		return t.Touch(ctx, sid, rec)
	}
	return s.Set(ctx, sid, rec)
}

// Close 关闭后端（如果后端需要关闭）。之后的读写和重复 Close 都返回 ErrStoreClosed。
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrStoreClosed
	}
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
