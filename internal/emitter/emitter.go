// Package emitter 同步事件分发：单生产者、多消费者，按注册顺序投递。
package emitter

import (
	"sort"
	"sync"
)

// Listener 事件监听函数
type Listener func(args ...any)

// ListenerID 注册时返回的句柄，用于注销（函数值不可比较）
type ListenerID uint64

type entry struct {
	id   ListenerID
	fn   Listener
	once bool
}

// Emitter 事件中心，可被多个 goroutine 共享
type Emitter struct {
	mu        sync.Mutex
	nextID    ListenerID
	listeners map[string][]entry
}

// New 创建事件中心
func New() *Emitter {
	return &Emitter{listeners: make(map[string][]entry)}
}

// On 注册监听器。fn 为 nil 时忽略并返回 0。
func (e *Emitter) On(event string, fn Listener) ListenerID {
	return e.add(event, fn, false)
}

// Once 注册只触发一次的监听器
func (e *Emitter) Once(event string, fn Listener) ListenerID {
	return e.add(event, fn, true)
}

func (e *Emitter) add(event string, fn Listener, once bool) ListenerID {
	if fn == nil {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	e.listeners[event] = append(e.listeners[event], entry{id: e.nextID, fn: fn, once: once})
	return e.nextID
}

// Off 注销监听器，返回是否找到
func (e *Emitter) Off(event string, id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.listeners[event]
	for i, l := range list {
		if l.id != id {
			continue
		}
		rest := make([]entry, 0, len(list)-1)
		rest = append(rest, list[:i]...)
		rest = append(rest, list[i+1:]...)
		e.setLocked(event, rest)
		return true
	}
	return false
}

// RemoveAll 注销某事件的全部监听器
func (e *Emitter) RemoveAll(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, event)
}

// Emit 同步投递事件：按注册顺序调用发射时已注册的全部监听器，全部返回后 Emit 才返回。
// 没有监听器时返回 false。
func (e *Emitter) Emit(event string, args ...any) bool {
	e.mu.Lock()
	list := e.listeners[event]
	if len(list) == 0 {
		e.mu.Unlock()
		return false
	}

	// 快照，监听器内部可以安全地 On/Off
	snapshot := make([]entry, len(list))
	copy(snapshot, list)

	kept := list[:0:0]
	for _, l := range list {
		if !l.once {
			kept = append(kept, l)
		}
	}
	if len(kept) != len(list) {
		e.setLocked(event, kept)
	}
	e.mu.Unlock()

	for _, l := range snapshot {
		l.fn(args...)
	}
	return true
}

// ListenerCount 当前注册的监听器数量
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}

// EventNames 有监听器的事件名，按字母排序
func (e *Emitter) EventNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.listeners))
	for name := range e.listeners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Emitter) setLocked(event string, list []entry) {
	if len(list) == 0 {
		delete(e.listeners, event)
		return
	}
	e.listeners[event] = list
}
