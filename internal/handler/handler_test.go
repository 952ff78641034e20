package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"mindful-backend/internal/config"
	"mindful-backend/internal/middleware"
	"mindful-backend/internal/model"
	"mindful-backend/internal/service"
	"mindful-backend/internal/storage"

	"github.com/gin-gonic/gin"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type testEnv struct {
	router *gin.Engine
	store  *storage.MemoryStorage
	calls  *int32
}

func newEnv(t *testing.T, staticKey string, upstream roundTripperFunc) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var calls int32
	client := &http.Client{Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return upstream(req)
	})}

	store := storage.NewMemoryStorage()
	creds := service.NewCredentialService(store, service.NewSealer("test"), staticKey)
	relay := service.NewRelayService(client, creds, config.UpstreamConfig{
		BaseURL:      "https://upstream.test",
		MessagesPath: "/v1/messages",
	})
	chat := NewChatHandler(relay, service.NewMessageService(store, 50))
	settings := NewSettingsHandler(creds)
	auth := middleware.NewJWTAuth(config.AuthConfig{DemoMode: true, DemoUserID: "demo"})

	r := gin.New()
	r.GET("/health", Health)
	api := r.Group("/api")
	api.GET("/auth", auth.Optional(), AuthStatus)
	protected := api.Group("", auth.Required())
	protected.POST("/chat", chat.Relay)
	protected.GET("/chat/messages", chat.GetMessages)
	protected.POST("/chat/messages", chat.SaveMessage)
	protected.DELETE("/chat/messages", chat.ClearMessages)
	protected.GET("/settings/credential", settings.GetCredential)
	protected.PUT("/settings/credential", settings.PutCredential)
	protected.DELETE("/settings/credential", settings.DeleteCredential)

	return &testEnv{router: r, store: store, calls: &calls}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func upstreamReply(status int, contentType, body string) roundTripperFunc {
	return func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{contentType}},
			Body:       io.NopCloser(strings.NewReader(body)),
		}, nil
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp model.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error
}

const chatBody = `{"messages":[{"role":"user","content":"hi"}],"systemPrompt":"be kind","stream":%s}`

func chatRequest(stream bool) string {
	return strings.Replace(chatBody, "%s", map[bool]string{true: "true", false: "false"}[stream], 1)
}

func TestRelay_NonStreamPassthrough(t *testing.T) {
	upstreamBody := `{ "content": "ok" }`
	env := newEnv(t, "sk-static", upstreamReply(http.StatusOK, "application/json", upstreamBody))

	rec := env.do(http.MethodPost, "/api/chat", chatRequest(false))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != upstreamBody {
		t.Fatalf("body=%q, want byte-identical %q", rec.Body.String(), upstreamBody)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("Content-Type=%q", ct)
	}
}

func TestRelay_MissingCredential(t *testing.T) {
	env := newEnv(t, "", upstreamReply(http.StatusOK, "application/json", `{}`))

	rec := env.do(http.MethodPost, "/api/chat", chatRequest(true))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "API key not found" {
		t.Fatalf("error=%q", msg)
	}
	if n := atomic.LoadInt32(env.calls); n != 0 {
		t.Fatalf("upstream called %d times", n)
	}
}

func TestRelay_UpstreamErrorPropagation(t *testing.T) {
	env := newEnv(t, "sk-static", upstreamReply(http.StatusTooManyRequests, "application/json", `{"error":{"message":"rate limited"}}`))

	rec := env.do(http.MethodPost, "/api/chat", chatRequest(true))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d", rec.Code)
	}
	if rec.Body.String() != `{"error":"rate limited"}` {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestRelay_StreamPassthrough(t *testing.T) {
	stream := "event: message_start\ndata: {\"type\":\"message_start\"}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n" +
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"

	var gotAuth string
	var gotPayload model.UpstreamRequest
	env := newEnv(t, "sk-static", func(req *http.Request) (*http.Response, error) {
		gotAuth = req.Header.Get("Authorization")
		json.NewDecoder(req.Body).Decode(&gotPayload)
		return upstreamReply(http.StatusOK, "text/event-stream", stream)(req)
	})

	rec := env.do(http.MethodPost, "/api/chat", chatRequest(true))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != stream {
		t.Fatalf("stream not forwarded verbatim:\n%q", rec.Body.String())
	}
	for k, v := range map[string]string{
		"Content-Type":  "text/event-stream",
		"Cache-Control": "no-cache",
		"Connection":    "keep-alive",
	} {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s=%q, want %q", k, got, v)
		}
	}
	if gotAuth != "Bearer sk-static" {
		t.Errorf("Authorization=%q", gotAuth)
	}
	if !gotPayload.Stream || gotPayload.System != "be kind" || gotPayload.Model != model.UpstreamModel {
		t.Errorf("payload=%+v", gotPayload)
	}
}

func TestRelay_UserCredentialPreferred(t *testing.T) {
	var gotAuth string
	env := newEnv(t, "sk-static", func(req *http.Request) (*http.Response, error) {
		gotAuth = req.Header.Get("Authorization")
		return upstreamReply(http.StatusOK, "application/json", `{}`)(req)
	})

	if rec := env.do(http.MethodPut, "/api/settings/credential", `{"api_key":"sk-user-key-123"}`); rec.Code != http.StatusOK {
		t.Fatalf("save status=%d body=%s", rec.Code, rec.Body.String())
	}
	env.do(http.MethodPost, "/api/chat", chatRequest(false))
	if gotAuth != "Bearer sk-user-key-123" {
		t.Fatalf("Authorization=%q", gotAuth)
	}
}

func TestRelay_InternalErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		upstream roundTripperFunc
	}{
		{
			name:     "malformed body",
			body:     `{"messages": [`,
			upstream: upstreamReply(http.StatusOK, "application/json", `{}`),
		},
		{
			name: "network failure",
			body: chatRequest(false),
			upstream: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("dial tcp: connection refused")
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newEnv(t, "sk-static", tc.upstream)
			rec := env.do(http.MethodPost, "/api/chat", tc.body)
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status=%d", rec.Code)
			}
			if msg := decodeError(t, rec); msg != "Internal server error" {
				t.Fatalf("error=%q", msg)
			}
		})
	}
}

func TestRelay_ClientDisconnectCancelsUpstream(t *testing.T) {
	started := make(chan struct{})
	upstreamDone := make(chan struct{})
	env := newEnv(t, "sk-static", func(req *http.Request) (*http.Response, error) {
		close(started)
		pr, pw := io.Pipe()
		go func() {
			<-req.Context().Done()
			pw.CloseWithError(req.Context().Err())
			close(upstreamDone)
		}()
		return &http.Response{StatusCode: http.StatusOK, Body: pr, Header: http.Header{}}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(chatRequest(true))).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")

	finished := make(chan struct{})
	go func() {
		env.router.ServeHTTP(httptest.NewRecorder(), req)
		close(finished)
	}()

	<-started
	cancel()
	<-upstreamDone
	<-finished
}

func TestMessagesEndpoints(t *testing.T) {
	env := newEnv(t, "", upstreamReply(http.StatusOK, "application/json", `{}`))

	if rec := env.do(http.MethodPost, "/api/chat/messages", `{"role":"user","content":"first"}`); rec.Code != http.StatusCreated {
		t.Fatalf("save status=%d body=%s", rec.Code, rec.Body.String())
	}
	env.do(http.MethodPost, "/api/chat/messages", `{"role":"assistant","content":"second"}`)

	if rec := env.do(http.MethodPost, "/api/chat/messages", `{"role":"system","content":"x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad role status=%d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/chat/messages", `{"role":"user","content":"  "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank content status=%d", rec.Code)
	}

	rec := env.do(http.MethodGet, "/api/chat/messages?limit=1", "")
	var resp model.MessagesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].Content != "second" {
		t.Fatalf("messages=%+v", resp.Messages)
	}

	env.do(http.MethodDelete, "/api/chat/messages", "")
	rec = env.do(http.MethodGet, "/api/chat/messages", "")
	if !strings.Contains(rec.Body.String(), `"messages":[]`) {
		t.Fatalf("expected empty list, got %s", rec.Body.String())
	}
}

func TestCredentialEndpoints(t *testing.T) {
	env := newEnv(t, "", upstreamReply(http.StatusOK, "application/json", `{}`))

	rec := env.do(http.MethodGet, "/api/settings/credential", "")
	if !strings.Contains(rec.Body.String(), `"configured":false`) {
		t.Fatalf("initial=%s", rec.Body.String())
	}

	rec = env.do(http.MethodPut, "/api/settings/credential", `{"api_key":"   "}`)
	if rec.Code != http.StatusBadRequest || decodeError(t, rec) != "Please enter a valid API key" {
		t.Fatalf("blank save status=%d body=%s", rec.Code, rec.Body.String())
	}

	env.do(http.MethodPut, "/api/settings/credential", `{"api_key":"sk-ant-abcdefghijkl"}`)
	rec = env.do(http.MethodGet, "/api/settings/credential", "")
	var cred model.CredentialResponse
	json.Unmarshal(rec.Body.Bytes(), &cred)
	if !cred.Configured || cred.APIKey != "sk-ant-a"+strings.Repeat("*", 35) {
		t.Fatalf("credential=%+v", cred)
	}
	if strings.Contains(rec.Body.String(), "abcdefghijkl") {
		t.Fatalf("secret leaked: %s", rec.Body.String())
	}

	env.do(http.MethodDelete, "/api/settings/credential", "")
	rec = env.do(http.MethodGet, "/api/settings/credential", "")
	if !strings.Contains(rec.Body.String(), `"configured":false`) {
		t.Fatalf("after delete=%s", rec.Body.String())
	}
}

func TestAuthStatusAndHealth(t *testing.T) {
	env := newEnv(t, "", upstreamReply(http.StatusOK, "application/json", `{}`))

	rec := env.do(http.MethodGet, "/api/auth", "")
	var auth model.AuthResponse
	json.Unmarshal(rec.Body.Bytes(), &auth)
	if !auth.Authenticated || auth.User == nil || auth.User.ID != "demo" {
		t.Fatalf("auth=%s", rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("health=%d %s", rec.Code, rec.Body.String())
	}
}
