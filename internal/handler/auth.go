package handler

import (
	"net/http"
	"time"

	"mindful-backend/internal/middleware"
	"mindful-backend/internal/model"

	"github.com/gin-gonic/gin"
)

// AuthStatus 配合 Optional 中间件使用
func AuthStatus(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusOK, model.AuthResponse{Authenticated: false})
		return
	}

	c.JSON(http.StatusOK, model.AuthResponse{
		Authenticated: true,
		User:          &model.AuthUser{ID: userID},
	})
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
