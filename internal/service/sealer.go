package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

var errSealedInvalid = errors.New("sealed credential is invalid")

// Sealer 用 secretbox 加密存储的 API 密钥。
// 未配置加密密钥时原样存储。
type Sealer struct {
	key     [32]byte
	enabled bool
}

func NewSealer(secret string) *Sealer {
	if secret == "" {
		return &Sealer{}
	}
	return &Sealer{key: sha256.Sum256([]byte(secret)), enabled: true}
}

func (s *Sealer) Seal(plain string) (string, error) {
	if !s.enabled {
		return plain, nil
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	box := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(box), nil
}

func (s *Sealer) Open(sealed string) (string, error) {
	if !s.enabled {
		return sealed, nil
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < 24+secretbox.Overhead {
		return "", errSealedInvalid
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &s.key)
	if !ok {
		return "", errSealedInvalid
	}
	return string(plain), nil
}
