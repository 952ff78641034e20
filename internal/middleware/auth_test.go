package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mindful-backend/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func newRouter(auth *JWTAuth, optional bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	mw := auth.Required()
	if optional {
		mw = auth.Optional()
	}
	r.GET("/me", mw, func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c))
	})
	return r
}

func do(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRequired_ValidToken(t *testing.T) {
	auth := NewJWTAuth(config.AuthConfig{JWTSecret: "secret", TokenTTL: time.Hour})
	token, err := auth.GenerateToken("user-42")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	rec := do(newRouter(auth, false), "Bearer "+token)
	if rec.Code != http.StatusOK || rec.Body.String() != "user-42" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestRequired_Rejects(t *testing.T) {
	auth := NewJWTAuth(config.AuthConfig{JWTSecret: "secret"})
	other := NewJWTAuth(config.AuthConfig{JWTSecret: "other"})
	foreign, _ := other.GenerateToken("user-1")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "user-1",
		"exp":     time.Now().Add(-time.Minute).Unix(),
	})
	expiredStr, _ := expired.SignedString([]byte("secret"))

	noUser := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	noUserStr, _ := noUser.SignedString([]byte("secret"))

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"foreign signature", "Bearer " + foreign},
		{"expired", "Bearer " + expiredStr},
		{"no user claim", "Bearer " + noUserStr},
	}

	r := newRouter(auth, false)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(r, tc.header)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status=%d, want 401", rec.Code)
			}
		})
	}
}

func TestRequired_DemoMode(t *testing.T) {
	auth := NewJWTAuth(config.AuthConfig{DemoMode: true, DemoUserID: "demo"})
	rec := do(newRouter(auth, false), "")
	if rec.Code != http.StatusOK || rec.Body.String() != "demo" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestOptional_PassesThroughWithoutUser(t *testing.T) {
	auth := NewJWTAuth(config.AuthConfig{JWTSecret: "secret"})
	rec := do(newRouter(auth, true), "Bearer garbage")
	if rec.Code != http.StatusOK || rec.Body.String() != "" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestGenerateToken_RequiresSecret(t *testing.T) {
	auth := NewJWTAuth(config.AuthConfig{DemoMode: true})
	if _, err := auth.GenerateToken("u"); err == nil {
		t.Fatal("expected error without secret")
	}
}
