package sessionstore

import (
	"crypto/rand"
	"encoding/base64"
)

// DefaultRandomIDSize 随机会话ID的字节数（256 位）
const DefaultRandomIDSize = 32

// RandomIDFunc 返回基于 crypto/rand 的会话ID生成函数，可配合 WithIDFunc 使用。
// 随机源失败时返回空串，生成器会据此报错。
func RandomIDFunc(size int) func() string {
	if size <= 0 {
		size = DefaultRandomIDSize
	}
	return func() string {
		b := make([]byte, size)
		if _, err := rand.Read(b); err != nil {
			return ""
		}
		return base64.RawURLEncoding.EncodeToString(b)
	}
}
