package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	VariantDefault     = "default"
	VariantDestructive = "destructive"

	DefaultDuration = 5 * time.Second
	// 关闭后保留一小段时间再移除，便于界面做退出动画
	RemoveDelay = 300 * time.Millisecond
)

type Notice struct {
	ID          string
	Title       string
	Description string
	Variant     string
	// 0 表示使用默认时长，负数表示不自动关闭
	Duration time.Duration
	Open     bool
}

// Bus 是应用内的通知中心，由应用根部创建并向下传递
type Bus struct {
	mu          sync.Mutex
	notices     []Notice
	subscribers map[int]func([]Notice)
	nextSub     int
	timers      map[*time.Timer]struct{}
	removeDelay time.Duration
	closed      bool

	// 同一时刻只有一个 goroutine 负责投递
	delivering bool
	dirty      bool
	fresh      []int
}

func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[int]func([]Notice)),
		timers:      make(map[*time.Timer]struct{}),
		removeDelay: RemoveDelay,
	}
}

// Publish 发布一条通知并返回其ID。总线关闭后返回空字符串。
func (b *Bus) Publish(n Notice) string {
	if n.Variant == "" {
		n.Variant = VariantDefault
	}
	if n.Duration == 0 {
		n.Duration = DefaultDuration
	}
	n.ID = uuid.NewString()
	n.Open = true

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ""
	}
	b.notices = append(b.notices, n)
	if n.Duration > 0 {
		id := n.ID
		b.afterLocked(n.Duration, func() { b.close(id) })
	}
	b.mu.Unlock()

	b.broadcast()
	return n.ID
}

// Dismiss 关闭指定通知，id 为空时关闭全部
func (b *Bus) Dismiss(id string) {
	b.close(id)
}

func (b *Bus) close(id string) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	changed := false
	for i := range b.notices {
		if (id == "" || b.notices[i].ID == id) && b.notices[i].Open {
			b.notices[i].Open = false
			changed = true
			nid := b.notices[i].ID
			b.afterLocked(b.removeDelay, func() { b.remove(nid) })
		}
	}
	b.mu.Unlock()

	if changed {
		b.broadcast()
	}
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	kept := b.notices[:0]
	for _, n := range b.notices {
		if n.ID != id {
			kept = append(kept, n)
		}
	}
	b.notices = kept
	b.mu.Unlock()

	b.broadcast()
}

// 调用方需持有锁
func (b *Bus) afterLocked(d time.Duration, fn func()) {
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		b.mu.Lock()
		delete(b.timers, t)
		b.mu.Unlock()
		fn()
	})
	b.timers[t] = struct{}{}
}

// Subscribe 注册监听，返回取消函数。注册后会收到当前列表。
// 回调不会被并发调用，收到的列表按变化先后排列；连续的变化可能合并成一次，
// 但最新状态一定会送达。回调里可以调用 Bus 的其他方法。
func (b *Bus) Subscribe(fn func([]Notice)) func() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextSub
	b.nextSub++
	b.subscribers[id] = fn
	b.fresh = append(b.fresh, id)
	b.mu.Unlock()

	b.dispatch()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
}

// Active 返回仍处于打开状态的通知
func (b *Bus) Active() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Notice
	for _, n := range b.notices {
		if n.Open {
			out = append(out, n)
		}
	}
	return out
}

// Close 停止所有定时器并丢弃订阅
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for t := range b.timers {
		t.Stop()
	}
	b.timers = nil
	b.subscribers = nil
	b.notices = nil
}

func (b *Bus) snapshotLocked() []Notice {
	out := make([]Notice, len(b.notices))
	copy(out, b.notices)
	return out
}

func (b *Bus) broadcast() {
	b.mu.Lock()
	b.dirty = true
	b.mu.Unlock()

	b.dispatch()
}

// dispatch 由触发变化的 goroutine 执行；已有 goroutine 在投递时只做标记，
// 由它在下一轮取最新快照继续投递。
func (b *Bus) dispatch() {
	b.mu.Lock()
	if b.delivering {
		b.mu.Unlock()
		return
	}
	b.delivering = true

	for !b.closed && (b.dirty || len(b.fresh) > 0) {
		snapshot := b.snapshotLocked()
		var targets []func([]Notice)
		if b.dirty {
			for _, fn := range b.subscribers {
				targets = append(targets, fn)
			}
		} else {
			for _, id := range b.fresh {
				if fn, ok := b.subscribers[id]; ok {
					targets = append(targets, fn)
				}
			}
		}
		b.dirty = false
		b.fresh = nil
		b.mu.Unlock()

		for _, fn := range targets {
			fn(snapshot)
		}

		b.mu.Lock()
	}

	b.delivering = false
	b.mu.Unlock()
}
