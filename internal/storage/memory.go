package storage

import (
	"context"
	"sync"

	"mindful-backend/internal/model"
)

type MemoryStorage struct {
	messages    map[string][]*model.StoredMessage
	credentials map[string]string
	mu          sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		messages:    make(map[string][]*model.StoredMessage),
		credentials: make(map[string]string),
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) AppendMessage(_ context.Context, msg *model.StoredMessage) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := *msg
	m.messages[msg.UserID] = append(m.messages[msg.UserID], &c)
	return nil
}

func (m *MemoryStorage) RecentMessages(_ context.Context, userID string, limit int) ([]*model.StoredMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return copyMessages(tail(m.messages[userID], limit)), nil
}

func (m *MemoryStorage) ClearMessages(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.messages, userID)
	return nil
}

func (m *MemoryStorage) GetCredential(_ context.Context, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sealed, exists := m.credentials[userID]
	if !exists {
		return "", ErrNotFound
	}
	return sealed, nil
}

func (m *MemoryStorage) PutCredential(_ context.Context, userID, sealed string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.credentials[userID] = sealed
	return nil
}

func (m *MemoryStorage) DeleteCredential(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.credentials[userID]; !exists {
		return ErrNotFound
	}
	delete(m.credentials, userID)
	return nil
}
