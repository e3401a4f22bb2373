package sessionstore

import "go.uber.org/zap"

// 配置选项
type Option func(*Store)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGenerator 替换新会话的生成逻辑
func WithGenerator(fn GenerateFunc) Option {
	return func(s *Store) {
		if fn != nil {
			s.generator = fn
		}
	}
}

// WithIDFunc 替换会话ID生成函数，默认 uuid
func WithIDFunc(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.idFunc = fn
		}
	}
}

func WithCookieOptions(o CookieOptions) Option {
	return func(s *Store) {
		s.cookieOptions = o
	}
}
