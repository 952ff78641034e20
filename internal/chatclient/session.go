package chatclient

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"mindful-backend/internal/model"
	"mindful-backend/internal/notify"
	"mindful-backend/pkg/logger"

	"github.com/cloudwego/eino/schema"
)

const DefaultGreeting = "Hello! I'm Claude, your mental health assistant. How can I help you today?"

type Streamer interface {
	Stream(ctx context.Context, history []model.Message, systemPrompt string) (*schema.StreamReader[*schema.Message], error)
}

type SessionOptions struct {
	SystemPrompt string
	HistoryLimit int
	Greeting     string
	// 为空时不发布通知
	Notices *notify.Bus
}

// Session 负责发送消息并把回复逐块累积到 Transcript。
// 失败时丢弃未完成的回复，只保留用户消息。
type Session struct {
	relay Streamer
	// nil 表示演示模式，不做持久化
	store Store
	opts  SessionOptions

	transcript *Transcript
	sending    atomic.Bool
	// 问候语只用于展示，不发给服务端
	greeting atomic.Bool

	mu        sync.Mutex
	observers []func([]model.Message)
}

func NewSession(relay Streamer, store Store, opts SessionOptions) *Session {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.Greeting == "" {
		opts.Greeting = DefaultGreeting
	}
	return &Session{
		relay:      relay,
		store:      store,
		opts:       opts,
		transcript: NewTranscript(),
	}
}

func (s *Session) Transcript() *Transcript {
	return s.transcript
}

// OnUpdate 注册监听，每次 Transcript 变化后调用
func (s *Session) OnUpdate(fn func([]model.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Session) emit() {
	s.mu.Lock()
	observers := append([]func([]model.Message){}, s.observers...)
	s.mu.Unlock()

	msgs := s.transcript.Messages()
	for _, fn := range observers {
		fn(msgs)
	}
}

// Load 载入最近的历史记录，没有记录时显示问候语
func (s *Session) Load(ctx context.Context) error {
	if s.store == nil {
		s.showGreeting()
		return nil
	}

	msgs, err := s.store.Recent(ctx, s.opts.HistoryLimit)
	if err != nil {
		logger.Errorf("Error loading chat history: %v", err)
		s.notify("Failed to load chat history")
		return err
	}

	if len(msgs) == 0 {
		s.showGreeting()
		return nil
	}

	s.greeting.Store(false)
	s.transcript.Replace(msgs)
	s.emit()
	return nil
}

func (s *Session) showGreeting() {
	s.greeting.Store(true)
	s.transcript.Replace([]model.Message{{Role: model.RoleAssistant, Content: s.opts.Greeting}})
	s.emit()
}

// Send 发送一条用户消息并等待回复完成。
// 空白输入直接忽略，返回 nil, nil。
func (s *Session) Send(ctx context.Context, input string) (*model.Message, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return nil, nil
	}

	if !s.sending.CompareAndSwap(false, true) {
		return nil, ErrSendInFlight
	}
	defer s.sending.Store(false)

	userMsg := model.Message{Role: model.RoleUser, Content: text}
	s.transcript.Append(userMsg)
	s.emit()

	s.persist(ctx, userMsg)

	reader, err := s.relay.Stream(ctx, s.history(), s.opts.SystemPrompt)
	if err != nil {
		return nil, s.fail(err)
	}
	defer reader.Close()

	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, s.fail(err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		s.transcript.AppendChunk(chunk.Content)
		s.emit()
	}

	reply, ok := s.transcript.Commit()
	if !ok {
		return nil, s.fail(ErrEmptyResponse)
	}
	s.emit()

	s.persist(ctx, reply)
	return &reply, nil
}

// Sending 是否有消息正在发送
func (s *Session) Sending() bool {
	return s.sending.Load()
}

func (s *Session) history() []model.Message {
	msgs := s.transcript.Messages()
	if s.greeting.Load() && len(msgs) > 0 && msgs[0].Role == model.RoleAssistant && msgs[0].Content == s.opts.Greeting {
		msgs = msgs[1:]
	}
	return msgs
}

// persist 保存失败只记录日志
func (s *Session) persist(ctx context.Context, msg model.Message) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, msg); err != nil {
		logger.WithFields(map[string]interface{}{
			"role": msg.Role,
		}).Errorf("Error saving message: %v", err)
	}
}

func (s *Session) fail(err error) error {
	logger.Errorf("Error sending message: %v", err)
	if s.transcript.DiscardOpen() {
		s.emit()
	}
	s.notify(describe(err))
	return err
}

func (s *Session) notify(description string) {
	if s.opts.Notices == nil {
		return
	}
	s.opts.Notices.Publish(notify.Notice{
		Title:       "Error",
		Description: description,
		Variant:     notify.VariantDestructive,
	})
}

func describe(err error) string {
	var relayErr *RelayError
	var streamErr *StreamError
	switch {
	case errors.As(err, &relayErr):
		return relayErr.Message
	case errors.As(err, &streamErr):
		return streamErr.Message
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "The response was interrupted. Please try again."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The request was cancelled."
	default:
		return err.Error()
	}
}
