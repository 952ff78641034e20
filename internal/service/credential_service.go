package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mindful-backend/internal/storage"
	"mindful-backend/pkg/logger"
)

var (
	ErrCredentialNotFound = errors.New("API key not found")
	ErrCredentialInvalid  = errors.New("invalid API key")
)

const maskedSuffix = "***********************************"

type CredentialService struct {
	store     storage.CredentialStore
	sealer    *Sealer
	staticKey string
}

func NewCredentialService(store storage.CredentialStore, sealer *Sealer, staticKey string) *CredentialService {
	return &CredentialService{
		store:     store,
		sealer:    sealer,
		staticKey: staticKey,
	}
}

// Resolve 先查用户自己保存的密钥，没有再用配置里的静态密钥
func (s *CredentialService) Resolve(ctx context.Context, userID string) (string, error) {
	if userID != "" {
		key, err := s.userKey(ctx, userID)
		if err == nil && key != "" {
			return key, nil
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.WithFields(map[string]interface{}{
				"user_id": userID,
			}).Warnf("credential lookup failed: %v", err)
		}
	}

	if s.staticKey != "" {
		return s.staticKey, nil
	}
	return "", ErrCredentialNotFound
}

func (s *CredentialService) userKey(ctx context.Context, userID string) (string, error) {
	sealed, err := s.store.GetCredential(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.sealer.Open(sealed)
}

// Save 保存用户的密钥。表单回传的是掩码时不做任何修改。
func (s *CredentialService) Save(ctx context.Context, userID, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return ErrCredentialInvalid
	}
	if strings.Contains(apiKey, "*") {
		return nil
	}

	sealed, err := s.sealer.Seal(apiKey)
	if err != nil {
		return err
	}
	if err := s.store.PutCredential(ctx, userID, sealed); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// Masked 返回前 8 位加星号，第二个返回值表示是否已配置
func (s *CredentialService) Masked(ctx context.Context, userID string) (string, bool, error) {
	key, err := s.userKey(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return Mask(key), true, nil
}

func (s *CredentialService) Delete(ctx context.Context, userID string) error {
	err := s.store.DeleteCredential(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

func Mask(key string) string {
	runes := []rune(key)
	if len(runes) > 8 {
		runes = runes[:8]
	}
	return string(runes) + maskedSuffix
}
