package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Backend 可插拔的会话持久化后端。
// Get 找不到会话时返回 (nil, nil)，这不是错误。
type Backend interface {
	Get(ctx context.Context, sid string) (*Record, error)
	Set(ctx context.Context, sid string, rec *Record) error
	Destroy(ctx context.Context, sid string) error
}

// Toucher 可选：只刷新过期时间，不重写数据
type Toucher interface {
	Touch(ctx context.Context, sid string, rec *Record) error
}

// Lister 可选：列出当前保存的会话ID
type Lister interface {
	IDs(ctx context.Context) ([]string, error)
}

const cookieField = "cookie"

// Record 后端保存的原始会话记录：应用字段 + cookie 子记录。
// JSON 形式是扁平的 {<应用字段>, "cookie": {...}}。
type Record struct {
	Values map[string]any
	Cookie *RawCookie
}

// MarshalJSON 展开应用字段，cookie 作为同级字段
func (r Record) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(r.Values)+1)
	for k, v := range r.Values {
		if k == cookieField {
			continue
		}
		fields[k] = v
	}
	fields[cookieField] = r.Cookie
	return json.Marshal(fields)
}

// UnmarshalJSON 拆出 cookie 子记录，其余都是应用字段
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	r.Values = make(map[string]any, len(fields))
	r.Cookie = nil
	for k, raw := range fields {
		if k == cookieField {
			if string(raw) == "null" {
				continue
			}
			var c RawCookie
			if err := json.Unmarshal(raw, &c); err != nil {
				return fmt.Errorf("decode cookie: %w", err)
			}
			r.Cookie = &c
			continue
		}

		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode field %q: %w", k, err)
		}
		r.Values[k] = v
	}
	return nil
}

// TTL 记录剩余的存活时间：有 expires 时取 expires-now（至少一秒），否则用 fallback。
// expires 已过期时返回 0，无法解析时返回错误。
func (r *Record) TTL(now time.Time, fallback time.Duration) (time.Duration, error) {
	if r == nil || r.Cookie == nil {
		return fallback, nil
	}

	expires, ok, err := r.Cookie.ExpiresAt()
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback, nil
	}

	ttl := expires.Sub(now)
	switch {
	case ttl <= 0:
		return 0, nil
	case ttl < time.Second:
		return time.Second, nil
	}
	return ttl, nil
}

// Expired 记录的 cookie 是否已经过期；没有 expires 的记录永不过期
func (r *Record) Expired(now time.Time) bool {
	if r == nil || r.Cookie == nil {
		return false
	}
	expires, ok, err := r.Cookie.ExpiresAt()
	if err != nil || !ok {
		return false
	}
	return !expires.After(now)
}
