package sessionstore

import (
	"go.uber.org/zap"

	"github.com/haiyiyun/sessionstore/internal/emitter"
)

// 后端约定的事件名
const (
	EventError      = "error"
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

type (
	Listener   = emitter.Listener
	ListenerID = emitter.ListenerID
)

// Notifier 后端用来报告异步状况（如连接断开）的发布端
type Notifier interface {
	Emit(event string, args ...any) bool
}

// Notifiable 需要发布事件的后端实现此接口，New 时注入 Notifier
type Notifiable interface {
	SetNotifier(n Notifier)
}

// On 注册监听器
func (s *Store) On(event string, fn Listener) ListenerID {
	return s.events.On(event, fn)
}

// Once 注册只触发一次的监听器
func (s *Store) Once(event string, fn Listener) ListenerID {
	return s.events.Once(event, fn)
}

// Off 注销监听器
func (s *Store) Off(event string, id ListenerID) bool {
	return s.events.Off(event, id)
}

// RemoveAllListeners 注销某事件的全部监听器
func (s *Store) RemoveAllListeners(event string) {
	s.events.RemoveAll(event)
}

// EventNames 当前有监听器的事件名
func (s *Store) EventNames() []string {
	return s.events.EventNames()
}

// ListenerCount 某事件当前的监听器数量
func (s *Store) ListenerCount(event string) int {
	return s.events.ListenerCount(event)
}

// Emit 同步投递事件。没人监听的 error 事件写入日志，不会丢失。
func (s *Store) Emit(event string, args ...any) bool {
	if s.events.Emit(event, args...) {
		return true
	}
	if event == EventError {
		s.logger.Error("unhandled session store error", zap.Any("args", args))
	}
	return false
}
