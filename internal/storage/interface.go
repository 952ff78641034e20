package storage

import (
	"context"

	"mindful-backend/internal/model"
)

// MessageStore 对话记录按用户隔离，只追加不修改
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *model.StoredMessage) error
	// RecentMessages 返回最近 limit 条记录，按时间正序
	RecentMessages(ctx context.Context, userID string, limit int) ([]*model.StoredMessage, error)
	ClearMessages(ctx context.Context, userID string) error
}

// CredentialStore 保存的是加密后的密钥，找不到时返回 ErrNotFound
type CredentialStore interface {
	GetCredential(ctx context.Context, userID string) (string, error)
	PutCredential(ctx context.Context, userID, sealed string) error
	DeleteCredential(ctx context.Context, userID string) error
}

type Storage interface {
	MessageStore
	CredentialStore

	// 存储管理
	Init() error
	Close() error
}

// tail 取切片最后 n 个元素
func tail(msgs []*model.StoredMessage, n int) []*model.StoredMessage {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

func copyMessages(msgs []*model.StoredMessage) []*model.StoredMessage {
	out := make([]*model.StoredMessage, len(msgs))
	for i, m := range msgs {
		c := *m
		out[i] = &c
	}
	return out
}

func validateMessage(msg *model.StoredMessage) error {
	if msg == nil || msg.UserID == "" || !model.ValidRole(msg.Role) {
		return ErrInvalidData
	}
	return nil
}
