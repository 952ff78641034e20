package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"mindful-backend/internal/config"
	"mindful-backend/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const UserIDKey = "user_id"

type JWTAuth struct {
	secret     []byte
	ttl        time.Duration
	demoMode   bool
	demoUserID string
}

func NewJWTAuth(cfg config.AuthConfig) *JWTAuth {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTAuth{
		secret:     []byte(cfg.JWTSecret),
		ttl:        ttl,
		demoMode:   cfg.DemoMode,
		demoUserID: cfg.DemoUserID,
	}
}

// GenerateToken 签发带 user_id 的 HS256 令牌
func (j *JWTAuth) GenerateToken(userID string) (string, error) {
	if len(j.secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     now.Add(j.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// Required 要求请求已认证，演示模式下所有请求都映射到演示用户
func (j *JWTAuth) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := j.authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{Error: err.Error()})
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// Optional 认证失败时不拦截，只是不设置用户
func (j *JWTAuth) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID, err := j.authenticate(c.Request); err == nil {
			c.Set(UserIDKey, userID)
		}
		c.Next()
	}
}

func (j *JWTAuth) authenticate(r *http.Request) (string, error) {
	if j.demoMode {
		return j.demoUserID, nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("Missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("Invalid authorization format")
	}

	token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return j.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.New("Token has expired")
		}
		return "", errors.New("Invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("Invalid token claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", errors.New("Invalid user ID in token")
	}
	return userID, nil
}

// GetUserID 取出认证中间件设置的用户ID
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
