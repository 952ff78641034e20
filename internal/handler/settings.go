package handler

import (
	"errors"
	"net/http"

	"mindful-backend/internal/middleware"
	"mindful-backend/internal/model"
	"mindful-backend/internal/service"
	"mindful-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

type SettingsHandler struct {
	creds *service.CredentialService
}

func NewSettingsHandler(creds *service.CredentialService) *SettingsHandler {
	return &SettingsHandler{creds: creds}
}

// GetCredential 只返回掩码后的密钥
func (h *SettingsHandler) GetCredential(c *gin.Context) {
	masked, ok, err := h.creds.Masked(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		logger.Errorf("Failed to load credential: %v", err)
		internalError(c)
		return
	}

	c.JSON(http.StatusOK, model.CredentialResponse{Configured: ok, APIKey: masked})
}

func (h *SettingsHandler) PutCredential(c *gin.Context) {
	var req model.CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Please enter a valid API key"})
		return
	}

	err := h.creds.Save(c.Request.Context(), middleware.GetUserID(c), req.APIKey)
	if errors.Is(err, service.ErrCredentialInvalid) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Please enter a valid API key"})
		return
	}
	if err != nil {
		logger.Errorf("Failed to save credential: %v", err)
		internalError(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key saved successfully"})
}

func (h *SettingsHandler) DeleteCredential(c *gin.Context) {
	if err := h.creds.Delete(c.Request.Context(), middleware.GetUserID(c)); err != nil {
		logger.Errorf("Failed to delete credential: %v", err)
		internalError(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key removed"})
}
