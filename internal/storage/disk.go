package storage

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"mindful-backend/internal/model"
	"mindful-backend/pkg/logger"
)

// DiskStorage 每个用户一个消息文件，密钥集中在 credentials.json
type DiskStorage struct {
	dataDir     string
	mu          sync.RWMutex
	cache       map[string][]*model.StoredMessage
	cacheSize   int
	credentials map[string]string
}

func NewDiskStorage(dataDir string, cacheSize int) *DiskStorage {
	if cacheSize <= 0 {
		cacheSize = 100
	}
	return &DiskStorage{
		dataDir:     dataDir,
		cache:       make(map[string][]*model.StoredMessage),
		cacheSize:   cacheSize,
		credentials: make(map[string]string),
	}
}

func (d *DiskStorage) Init() error {
	if err := d.createDirectories(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	if err := d.loadCredentials(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	logger.Info("Disk storage initialized successfully")
	return nil
}

func (d *DiskStorage) Close() error {
	return nil
}

func (d *DiskStorage) createDirectories() error {
	dirs := []string{
		d.dataDir,
		filepath.Join(d.dataDir, "messages"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

// 用户ID编码后作为文件名，避免路径穿越
func (d *DiskStorage) messagesPath(userID string) string {
	return filepath.Join(d.dataDir, "messages", hex.EncodeToString([]byte(userID))+".json")
}

func (d *DiskStorage) credentialsPath() string {
	return filepath.Join(d.dataDir, "credentials.json")
}

func (d *DiskStorage) loadCredentials() error {
	data, err := os.ReadFile(d.credentialsPath())
	if os.IsNotExist(err) {
		return writeJSON(d.credentialsPath(), map[string]string{})
	}
	if err != nil {
		return err
	}

	creds := make(map[string]string)
	if err := json.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	d.credentials = creds
	return nil
}

func (d *DiskStorage) loadMessagesFromFile(userID string) ([]*model.StoredMessage, error) {
	data, err := os.ReadFile(d.messagesPath(userID))
	if os.IsNotExist(err) {
		return []*model.StoredMessage{}, nil
	}
	if err != nil {
		return nil, err
	}

	var messages []*model.StoredMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	for _, m := range messages {
		m.UserID = userID
	}
	return messages, nil
}

func writeJSON(path string, v interface{}) error {
	tempPath := path + ".tmp"

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

// 调用方需持有写锁
func (d *DiskStorage) messagesLocked(userID string) ([]*model.StoredMessage, error) {
	if msgs, exists := d.cache[userID]; exists {
		return msgs, nil
	}

	msgs, err := d.loadMessagesFromFile(userID)
	if err != nil {
		return nil, err
	}
	d.cache[userID] = msgs
	d.evictCache(userID)
	return msgs, nil
}

func (d *DiskStorage) evictCache(keep string) {
	for id := range d.cache {
		if len(d.cache) <= d.cacheSize {
			return
		}
		if id != keep {
			delete(d.cache, id)
		}
	}
}

func (d *DiskStorage) AppendMessage(_ context.Context, msg *model.StoredMessage) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	msgs, err := d.messagesLocked(msg.UserID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	c := *msg
	updated := append(msgs[:len(msgs):len(msgs)], &c)
	if err := writeJSON(d.messagesPath(msg.UserID), updated); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.cache[msg.UserID] = updated
	return nil
}

func (d *DiskStorage) RecentMessages(_ context.Context, userID string, limit int) ([]*model.StoredMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	msgs, err := d.messagesLocked(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return copyMessages(tail(msgs, limit)), nil
}

func (d *DiskStorage) ClearMessages(_ context.Context, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.cache, userID)
	if err := os.Remove(d.messagesPath(userID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (d *DiskStorage) GetCredential(_ context.Context, userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sealed, exists := d.credentials[userID]
	if !exists {
		return "", ErrNotFound
	}
	return sealed, nil
}

func (d *DiskStorage) PutCredential(_ context.Context, userID, sealed string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := make(map[string]string, len(d.credentials)+1)
	for k, v := range d.credentials {
		next[k] = v
	}
	next[userID] = sealed

	if err := writeJSON(d.credentialsPath(), next); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	d.credentials = next
	return nil
}

func (d *DiskStorage) DeleteCredential(_ context.Context, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.credentials[userID]; !exists {
		return ErrNotFound
	}

	next := make(map[string]string, len(d.credentials))
	for k, v := range d.credentials {
		if k != userID {
			next[k] = v
		}
	}

	if err := writeJSON(d.credentialsPath(), next); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	d.credentials = next
	return nil
}
