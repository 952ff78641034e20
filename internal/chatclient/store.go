package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"mindful-backend/internal/model"
)

// Store 是客户端使用的消息持久化接口
type Store interface {
	Save(ctx context.Context, msg model.Message) error
	// Recent 返回最近 limit 条消息，按时间正序
	Recent(ctx context.Context, limit int) ([]model.Message, error)
}

// HTTPStore 通过服务端的 /api/chat/messages 读写历史
type HTTPStore struct {
	api apiClient
}

func NewHTTPStore(baseURL, token string, client *http.Client) *HTTPStore {
	return &HTTPStore{api: newAPIClient(baseURL, token, client)}
}

func (s *HTTPStore) Save(ctx context.Context, msg model.Message) error {
	resp, err := s.api.do(ctx, http.MethodPost, "/api/chat/messages", model.SaveMessageRequest{
		Role:    msg.Role,
		Content: msg.Content,
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (s *HTTPStore) Recent(ctx context.Context, limit int) ([]model.Message, error) {
	resp, err := s.api.do(ctx, http.MethodGet, fmt.Sprintf("/api/chat/messages?limit=%d", limit), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body model.MessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	out := make([]model.Message, 0, len(body.Messages))
	for _, m := range body.Messages {
		out = append(out, model.Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

type MemoryStore struct {
	mu   sync.Mutex
	msgs []model.Message
}

func NewMemoryStore(msgs ...model.Message) *MemoryStore {
	return &MemoryStore{msgs: append([]model.Message(nil), msgs...)}
}

func (s *MemoryStore) Save(_ context.Context, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.msgs
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]model.Message(nil), msgs...), nil
}

func (s *MemoryStore) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.msgs...)
}
