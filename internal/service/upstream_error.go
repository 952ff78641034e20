package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// UpstreamError 上游返回非 2xx 时的错误，保留原状态码
type UpstreamError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.StatusCode, e.Message)
}

// newUpstreamError 尽量从响应体里取出错误信息，取不到就用状态描述
func newUpstreamError(statusCode int, body []byte) *UpstreamError {
	msg := extractErrorMessage(body)
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return &UpstreamError{
		StatusCode: statusCode,
		Message:    msg,
		Body:       body,
	}
}

func extractErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	// {"error":{"message":"..."}}，Anthropic 和 OpenAI 都是这个结构
	var apiErr openai.ErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != nil {
		if msg := strings.TrimSpace(apiErr.Error.Message); msg != "" {
			return msg
		}
	}

	var flat struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &flat); err == nil {
		if flat.Error != "" {
			return flat.Error
		}
		return flat.Message
	}
	return ""
}
