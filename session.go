package sessionstore

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Request 会话所属的请求。Store 挂上 SessionID 和 SessionStore，重建后挂上 Session。
type Request struct {
	SessionID    string
	SessionStore *Store
	Session      *Session
}

// Session 绑定在请求上的会话，只在该请求内使用，不可跨请求复用
type Session struct {
	req    *Request
	id     string
	values map[string]any

	Cookie *Cookie
}

func newSession(req *Request, values map[string]any, cookie *Cookie) *Session {
	s := &Session{
		req:    req,
		id:     req.SessionID,
		values: make(map[string]any, len(values)),
		Cookie: cookie,
	}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// ID 会话ID
func (s *Session) ID() string {
	return s.id
}

// Request 所属请求
func (s *Session) Request() *Request {
	return s.req
}

func (s *Session) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

func (s *Session) Set(key string, value any) {
	s.values[key] = value
}

func (s *Session) Delete(key string) {
	delete(s.values, key)
}

// Keys 应用字段名，已排序
func (s *Session) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ExpireAt cookie 过期时间，浏览器会话级 cookie 返回零值
func (s *Session) ExpireAt() time.Time {
	if s.Cookie == nil || s.Cookie.Expires == nil {
		return time.Time{}
	}
	return *s.Cookie.Expires
}

// ResetMaxAge 按 OriginalMaxAge 重新计算过期时间
func (s *Session) ResetMaxAge() {
	if s.Cookie == nil || s.Cookie.OriginalMaxAge == nil {
		return
	}
	exp := time.Now().Add(time.Duration(*s.Cookie.OriginalMaxAge) * time.Millisecond)
	s.Cookie.Expires = &exp
}

// Record 转成后端保存的形式
func (s *Session) Record() *Record {
	rec := &Record{Values: make(map[string]any, len(s.values))}
	for k, v := range s.values {
		rec.Values[k] = v
	}
	if s.Cookie != nil {
		rec.Cookie = s.Cookie.Raw()
	} else {
		rec.Cookie = &RawCookie{}
	}
	return rec
}

// Save 写回后端
func (s *Session) Save(ctx context.Context) error {
	store, err := s.store()
	if err != nil {
		return err
	}
	return store.Set(ctx, s.id, s.Record())
}

// Touch 刷新过期时间；后端支持 Touch 时只刷新过期时间，否则整条重写
func (s *Session) Touch(ctx context.Context) error {
	store, err := s.store()
	if err != nil {
		return err
	}
	s.ResetMaxAge()
	return store.Touch(ctx, s.id, s.Record())
}

// Reload 从后端重新加载数据，原地更新
func (s *Session) Reload(ctx context.Context) error {
	store, err := s.store()
	if err != nil {
		return err
	}

	rec, err := store.Get(ctx, s.id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, s.id)
	}

	fresh, err := store.CreateSession(s.req, rec)
	if err != nil {
		return err
	}
	s.values = fresh.values
	s.Cookie = fresh.Cookie
	s.req.Session = s
	return nil
}

// Destroy 删除后端记录并从请求上摘掉会话
func (s *Session) Destroy(ctx context.Context) error {
	store, err := s.store()
	if err != nil {
		return err
	}
	if s.req.Session == s {
		s.req.Session = nil
	}
	return store.Destroy(ctx, s.id)
}

// Regenerate 换一个新会话，旧记录删除
func (s *Session) Regenerate(ctx context.Context) error {
	store, err := s.store()
	if err != nil {
		return err
	}
	return store.Regenerate(ctx, s.req)
}

func (s *Session) store() (*Store, error) {
	if s.req == nil || s.req.SessionStore == nil {
		return nil, ErrNoStore
	}
	return s.req.SessionStore, nil
}
