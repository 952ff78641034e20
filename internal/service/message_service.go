package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mindful-backend/internal/model"
	"mindful-backend/internal/storage"

	"github.com/google/uuid"
)

var ErrInvalidMessage = errors.New("role must be user or assistant and content must not be empty")

type MessageService struct {
	store        storage.MessageStore
	historyLimit int
}

func NewMessageService(store storage.MessageStore, historyLimit int) *MessageService {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &MessageService{store: store, historyLimit: historyLimit}
}

func (s *MessageService) AddMessage(ctx context.Context, userID, role, content string) (*model.StoredMessage, error) {
	if !model.ValidRole(role) || strings.TrimSpace(content) == "" {
		return nil, ErrInvalidMessage
	}

	message := &model.StoredMessage{
		ID:        uuid.New().String(),
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.AppendMessage(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to add message: %w", err)
	}
	return message, nil
}

// History 返回最近 limit 条记录，limit 非正数或超过上限时按上限处理
func (s *MessageService) History(ctx context.Context, userID string, limit int) ([]*model.StoredMessage, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}

	messages, err := s.store.RecentMessages(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}

func (s *MessageService) Clear(ctx context.Context, userID string) error {
	if err := s.store.ClearMessages(ctx, userID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	return nil
}
