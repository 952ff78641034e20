package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"mindful-backend/internal/middleware"
	"mindful-backend/internal/model"
	"mindful-backend/internal/service"
	"mindful-backend/internal/utils"
	"mindful-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Relay interface {
	Open(ctx context.Context, userID string, req *model.ChatRequest) (*service.UpstreamResponse, error)
}

type ChatHandler struct {
	relay    Relay
	messages *service.MessageService
}

func NewChatHandler(relay Relay, messages *service.MessageService) *ChatHandler {
	return &ChatHandler{
		relay:    relay,
		messages: messages,
	}
}

// Relay 转发聊天请求。流式时把上游字节原样写回，不解析也不补结束标记。
func (h *ChatHandler) Relay(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Errorf("Error in chat relay: invalid request body: %v", err)
		internalError(c)
		return
	}

	userID := middleware.GetUserID(c)
	log := logger.WithFields(map[string]interface{}{
		"user_id":  userID,
		"stream":   req.Stream,
		"messages": len(req.Messages),
	})

	resp, err := h.relay.Open(c.Request.Context(), userID, &req)
	if err != nil {
		h.writeRelayError(c, err)
		return
	}

	if !req.Stream {
		body, err := io.ReadAll(resp.Body)
		resp.Close(err)
		if err != nil {
			log.Errorf("Error reading upstream body: %v", err)
			internalError(c)
			return
		}
		c.Data(http.StatusOK, "application/json", body)
		return
	}

	sw := utils.NewStreamWriter(c.Writer)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	n, err := sw.Pipe(resp.Body)
	resp.Close(err)
	if err != nil {
		// 响应头已发出，只能断开
		log.Warnf("Stream interrupted after %d bytes: %v", n, err)
		return
	}
	log.Debugf("Stream finished, %d bytes", n)
}

func (h *ChatHandler) writeRelayError(c *gin.Context, err error) {
	var upErr *service.UpstreamError
	switch {
	case errors.Is(err, service.ErrCredentialNotFound):
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "API key not found"})
	case errors.As(err, &upErr):
		logger.Warnf("Upstream returned %d: %s", upErr.StatusCode, upErr.Message)
		c.JSON(upErr.StatusCode, model.ErrorResponse{Error: upErr.Message})
	default:
		logger.Errorf("Error in chat relay: %v", err)
		internalError(c)
	}
}

func internalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Internal server error"})
}

func (h *ChatHandler) GetMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	messages, err := h.messages.History(c.Request.Context(), middleware.GetUserID(c), limit)
	if err != nil {
		logger.Errorf("Failed to load messages: %v", err)
		internalError(c)
		return
	}

	if messages == nil {
		messages = []*model.StoredMessage{}
	}
	c.JSON(http.StatusOK, model.MessagesResponse{Messages: messages})
}

func (h *ChatHandler) SaveMessage(c *gin.Context) {
	var req model.SaveMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
		return
	}

	msg, err := h.messages.AddMessage(c.Request.Context(), middleware.GetUserID(c), req.Role, req.Content)
	if errors.Is(err, service.ErrInvalidMessage) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		logger.Errorf("Failed to save message: %v", err)
		internalError(c)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

func (h *ChatHandler) ClearMessages(c *gin.Context) {
	if err := h.messages.Clear(c.Request.Context(), middleware.GetUserID(c)); err != nil {
		logger.Errorf("Failed to clear messages: %v", err)
		internalError(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Messages cleared successfully"})
}
