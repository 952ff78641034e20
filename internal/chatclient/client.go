package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mindful-backend/internal/model"

	"github.com/cloudwego/eino/schema"
)

var (
	ErrSendInFlight  = errors.New("a message is already being sent")
	ErrEmptyResponse = errors.New("failed to get response from Claude")
)

// RelayError 是服务端返回的非 2xx 响应
type RelayError struct {
	StatusCode int
	Message    string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay returned %d: %s", e.StatusCode, e.Message)
}

// apiClient 封装服务端地址和令牌
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string, client *http.Client) apiClient {
	if client == nil {
		client = http.DefaultClient
	}
	return apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    client,
	}
}

func (c apiClient) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, readRelayError(resp)
	}
	return resp, nil
}

func readRelayError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body model.ErrorResponse
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		return &RelayError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return &RelayError{StatusCode: resp.StatusCode, Message: body.Error}
}

// RelayClient 调用 POST /api/chat 并把返回的事件流转换成消息流
type RelayClient struct {
	api apiClient
}

func NewRelayClient(baseURL, token string, client *http.Client) *RelayClient {
	return &RelayClient{api: newAPIClient(baseURL, token, client)}
}

// Stream 发起流式请求。返回的 reader 按到达顺序给出文本增量，结束时返回 io.EOF。
func (c *RelayClient) Stream(ctx context.Context, history []model.Message, systemPrompt string) (*schema.StreamReader[*schema.Message], error) {
	resp, err := c.api.do(ctx, http.MethodPost, "/api/chat", model.ChatRequest{
		Messages:     history,
		SystemPrompt: systemPrompt,
		Stream:       true,
	})
	if err != nil {
		return nil, err
	}

	reader, writer := schema.Pipe[*schema.Message](16)
	go func() {
		defer resp.Body.Close()
		defer writer.Close()

		err := decodeStream(resp.Body, func(text string) error {
			if closed := writer.Send(schema.AssistantMessage(text, nil), nil); closed {
				return errStreamDone
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStreamDone) {
			writer.Send(nil, err)
		}
	}()

	return reader, nil
}
