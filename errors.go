package sessionstore

import "errors"

var (
	// ErrMalformedRecord 后端返回的会话记录缺少 cookie 或字段类型不对
	ErrMalformedRecord = errors.New("malformed session record")

	// ErrSessionNotFound Reload 时后端已没有该会话
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoBackend 创建 Store 时没有提供后端
	ErrNoBackend = errors.New("no session backend")

	// ErrNoStore 会话所属的请求没有绑定 Store
	ErrNoStore = errors.New("request has no session store")

	// ErrNilRequest 请求为 nil
	ErrNilRequest = errors.New("nil request")

	// ErrStoreClosed 后端已关闭
	ErrStoreClosed = errors.New("session store is closed")
)
