package chatclient

import (
	"sync"

	"mindful-backend/internal/model"
)

// Transcript 当前会话的消息列表。
// 任意时刻至多有一条未完成的 assistant 消息，且只能是最后一条。
type Transcript struct {
	mu   sync.RWMutex
	msgs []model.Message

	open bool
	// 打开前的内容长度，丢弃时回退到这里
	openBase int
	// 未完成消息是否由本轮新建
	openCreated bool
}

func NewTranscript(msgs ...model.Message) *Transcript {
	t := &Transcript{}
	t.Replace(msgs)
	return t
}

// Append 追加一条完整消息，同时结束未完成的消息
func (t *Transcript) Append(m model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.open = false
	t.msgs = append(t.msgs, m)
}

// OpenAssistant 追加一条空的 assistant 占位消息
func (t *Transcript) OpenAssistant() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open {
		return
	}
	t.msgs = append(t.msgs, model.Message{Role: model.RoleAssistant})
	t.open = true
	t.openBase = 0
	t.openCreated = true
}

// AppendChunk 最后一条是 assistant 时拼接到其内容后面，否则新建一条 assistant 消息
func (t *Transcript) AppendChunk(chunk string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.msgs); n > 0 && t.msgs[n-1].Role == model.RoleAssistant {
		if !t.open {
			t.open = true
			t.openBase = len(t.msgs[n-1].Content)
			t.openCreated = false
		}
		t.msgs[n-1].Content += chunk
		return
	}

	t.msgs = append(t.msgs, model.Message{Role: model.RoleAssistant, Content: chunk})
	t.open = true
	t.openBase = 0
	t.openCreated = true
}

// Commit 结束未完成的消息并返回它
func (t *Transcript) Commit() (model.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return model.Message{}, false
	}
	t.open = false
	return t.msgs[len(t.msgs)-1], true
}

// DiscardOpen 撤销本轮写入的内容，回到最后一次提交的状态
func (t *Transcript) DiscardOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return false
	}
	t.open = false

	last := len(t.msgs) - 1
	if t.openCreated {
		t.msgs = t.msgs[:last]
	} else {
		t.msgs[last].Content = t.msgs[last].Content[:t.openBase]
	}
	return true
}

func (t *Transcript) IsOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.open
}

func (t *Transcript) Messages() []model.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}

func (t *Transcript) Replace(msgs []model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.msgs = make([]model.Message, len(msgs))
	copy(t.msgs, msgs)
	t.open = false
}
