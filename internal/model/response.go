package model

import "time"

type ErrorResponse struct {
	Error string `json:"error"`
}

// StoredMessage 持久化的一条对话记录
type StoredMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type MessagesResponse struct {
	Messages []*StoredMessage `json:"messages"`
}

type CredentialResponse struct {
	Configured bool   `json:"configured"`
	APIKey     string `json:"api_key"`
}

type AuthUser struct {
	ID string `json:"id"`
}

type AuthResponse struct {
	Authenticated bool      `json:"authenticated"`
	User          *AuthUser `json:"user"`
}
