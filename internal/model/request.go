package model

import (
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// UpstreamModel 上游固定使用的模型
const UpstreamModel = "claude-3-7-sonnet-20250219"

const (
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 是 POST /api/chat 的请求体
type ChatRequest struct {
	Messages     []Message `json:"messages"`
	SystemPrompt string    `json:"systemPrompt,omitempty"`
	Stream       bool      `json:"stream"`
}

// UpstreamRequest 发往上游的请求体，字段原样透传
type UpstreamRequest struct {
	Model    string    `json:"model"`
	System   string    `json:"system,omitempty"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type SaveMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CredentialRequest struct {
	APIKey string `json:"api_key"`
}

// ValidRole 只接受 user / assistant 两种角色
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

// Validate 检查单条消息
func (m SaveMessageRequest) Validate() bool {
	return ValidRole(m.Role) && strings.TrimSpace(m.Content) != ""
}
