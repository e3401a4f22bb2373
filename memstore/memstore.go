// Package memstore 进程内会话后端。记录以 JSON 文本保存，读出时 expires 是文本时间，
// 与外部存储的行为一致。只适合单实例和测试。
package memstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/haiyiyun/sessionstore"
)

// Store 内存后端
type Store struct {
	mu       sync.RWMutex
	sessions map[string][]byte
	now      func() time.Time
	logger   *zap.Logger
}

// Option 配置选项
type Option func(*Store)

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

// New 创建内存后端
func New(options ...Option) *Store {
	s := &Store{
		sessions: make(map[string][]byte),
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Get 读取会话，过期的记录顺手删除并按不存在处理
func (s *Store) Get(_ context.Context, sid string) (*sessionstore.Record, error) {
	s.mu.RLock()
	data, ok := s.sessions[sid]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	rec, err := decode(data)
	if err != nil {
		return nil, err
	}

	if rec.Expired(s.now()) {
		s.mu.Lock()
		// 期间可能已被 Set 覆盖
		if current, ok := s.sessions[sid]; ok && bytes.Equal(current, data) {
			delete(s.sessions, sid)
		}
		s.mu.Unlock()
		s.logger.Debug("expired session dropped", zap.String("sid", sid))
		return nil, nil
	}
	return rec, nil
}

// Set 保存会话
func (s *Store) Set(_ context.Context, sid string, rec *sessionstore.Record) error {
	if sid == "" {
		return fmt.Errorf("memstore: cannot store session with empty ID")
	}
	if rec == nil {
		return fmt.Errorf("memstore: cannot store nil session")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("memstore: encode session %s: %w", sid, err)
	}

	s.mu.Lock()
	s.sessions[sid] = data
	s.mu.Unlock()
	return nil
}

// Destroy 删除会话，不存在不算错误
func (s *Store) Destroy(_ context.Context, sid string) error {
	s.mu.Lock()
	delete(s.sessions, sid)
	s.mu.Unlock()
	return nil
}

// Touch 只替换已保存记录的 cookie，不存在时什么也不做
func (s *Store) Touch(ctx context.Context, sid string, rec *sessionstore.Record) error {
	current, err := s.Get(ctx, sid)
	if err != nil || current == nil {
		return err
	}
	if rec != nil {
		current.Cookie = rec.Cookie
	}
	return s.Set(ctx, sid, current)
}

// IDs 当前未过期的会话ID，已排序
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// All 全部未过期的会话
func (s *Store) All(ctx context.Context) (map[string]*sessionstore.Record, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make(map[string]*sessionstore.Record, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out[id] = rec
		}
	}
	return out, nil
}

// Len 保存的记录数（包括尚未清理的过期记录）
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Clear 清空
func (s *Store) Clear() {
	s.mu.Lock()
	s.sessions = make(map[string][]byte)
	s.mu.Unlock()
}

func decode(data []byte) (*sessionstore.Record, error) {
	var rec sessionstore.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("memstore: decode session: %w", err)
	}
	return &rec, nil
}
