package sessionstore

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RawCookie 持久化的 cookie 子记录。
// Expires 可能是 nil、文本时间（经过 JSON 等文本序列化）、time.Time 或 *time.Time。
// OriginalMaxAge 单位为毫秒，nil 表示没有配置 max-age。
type RawCookie struct {
	Expires        any    `json:"expires"`
	OriginalMaxAge *int64 `json:"originalMaxAge"`
	Path           string `json:"path,omitempty"`
	Domain         string `json:"domain,omitempty"`
	HTTPOnly       bool   `json:"httpOnly"`
	Secure         bool   `json:"secure"`
	SameSite       string `json:"sameSite,omitempty"`
}

// ExpiresAt 解析 Expires。ok 为 false 表示浏览器会话级 cookie。
func (c *RawCookie) ExpiresAt() (t time.Time, ok bool, err error) {
	if c == nil {
		return time.Time{}, false, nil
	}

	switch v := c.Expires.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return v, !v.IsZero(), nil
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false, nil
		}
		return *v, true, nil
	case string:
		if v == "" {
			return time.Time{}, false, nil
		}
		t, err := parseExpires(v)
		if err != nil {
			return time.Time{}, false, err
		}
		return t, true, nil
	default:
		return time.Time{}, false, fmt.Errorf("%w: expires has type %T", ErrMalformedRecord, c.Expires)
	}
}

// parseExpires 文本时间：RFC 3339（可带毫秒），兼容 HTTP 日期格式
func parseExpires(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t, nil
	}
	if t, herr := http.ParseTime(s); herr == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: expires %q: %v", ErrMalformedRecord, s, err)
}

// CookieOptions 新会话的 cookie 配置
type CookieOptions struct {
	Path     string
	Domain   string
	HTTPOnly bool
	Secure   bool
	SameSite http.SameSite
	MaxAge   time.Duration // 0 表示浏览器会话级 cookie
}

// DefaultCookieOptions 默认配置：根路径、HttpOnly、无 max-age
func DefaultCookieOptions() CookieOptions {
	return CookieOptions{
		Path:     "/",
		HTTPOnly: true,
	}
}

// Cookie 会话的 cookie 元数据
type Cookie struct {
	Expires        *time.Time // nil 表示浏览器会话级 cookie
	OriginalMaxAge *int64     // 毫秒
	Path           string
	Domain         string
	HTTPOnly       bool
	Secure         bool
	SameSite       http.SameSite
}

// NewCookie 从原始 cookie 子记录重建元数据。
// 只接受结构化的 Expires，并据此推算 OriginalMaxAge；文本时间由调用方处理。
func NewCookie(raw *RawCookie) *Cookie {
	c := &Cookie{Path: "/", HTTPOnly: true}
	if raw == nil {
		return c
	}

	if raw.Path != "" {
		c.Path = raw.Path
	}
	c.Domain = raw.Domain
	c.HTTPOnly = raw.HTTPOnly
	c.Secure = raw.Secure
	c.SameSite = parseSameSite(raw.SameSite)
	c.OriginalMaxAge = copyInt64(raw.OriginalMaxAge)

	switch v := raw.Expires.(type) {
	case time.Time:
		if !v.IsZero() {
			c.setExpires(v)
		}
	case *time.Time:
		if v != nil && !v.IsZero() {
			c.setExpires(*v)
		}
	}
	return c
}

// NewCookieFromOptions 按配置创建新 cookie
func NewCookieFromOptions(o CookieOptions) *Cookie {
	if o.Path == "" {
		o.Path = "/"
	}

	c := &Cookie{
		Path:     o.Path,
		Domain:   o.Domain,
		HTTPOnly: o.HTTPOnly,
		Secure:   o.Secure,
		SameSite: o.SameSite,
	}
	if o.MaxAge > 0 {
		c.SetMaxAge(o.MaxAge)
	}
	return c
}

// setExpires 设置过期时间，OriginalMaxAge 改为剩余时间
func (c *Cookie) setExpires(t time.Time) {
	c.Expires = &t
	ms := time.Until(t).Milliseconds()
	c.OriginalMaxAge = &ms
}

// SetMaxAge 从现在起 d 后过期
func (c *Cookie) SetMaxAge(d time.Duration) {
	exp := time.Now().Add(d)
	c.Expires = &exp
	ms := d.Milliseconds()
	c.OriginalMaxAge = &ms
}

// MaxAge 剩余存活时间；浏览器会话级 cookie 返回 false
func (c *Cookie) MaxAge() (time.Duration, bool) {
	if c.Expires == nil {
		return 0, false
	}
	return time.Until(*c.Expires), true
}

// Raw 转成持久化形式
func (c *Cookie) Raw() *RawCookie {
	raw := &RawCookie{
		OriginalMaxAge: copyInt64(c.OriginalMaxAge),
		Path:           c.Path,
		Domain:         c.Domain,
		HTTPOnly:       c.HTTPOnly,
		Secure:         c.Secure,
		SameSite:       sameSiteString(c.SameSite),
	}
	if c.Expires != nil {
		raw.Expires = *c.Expires
	}
	return raw
}

// HTTPCookie 转成 net/http 的 cookie，发送由调用方负责
func (c *Cookie) HTTPCookie(name, value string) *http.Cookie {
	hc := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.Path,
		Domain:   c.Domain,
		HttpOnly: c.HTTPOnly,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	}
	if c.Expires != nil {
		hc.Expires = *c.Expires
	}
	return hc
}

func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(s) {
	case "lax":
		return http.SameSiteLaxMode
	case "strict", "true":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	}
	return http.SameSiteDefaultMode
}

func sameSiteString(s http.SameSite) string {
	switch s {
	case http.SameSiteLaxMode:
		return "lax"
	case http.SameSiteStrictMode:
		return "strict"
	case http.SameSiteNoneMode:
		return "none"
	}
	return ""
}

func copyInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
