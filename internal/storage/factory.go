package storage

import (
	"os"
	"path/filepath"

	"mindful-backend/internal/config"
	"mindful-backend/pkg/logger"
)

// NewStorage 按配置创建存储，初始化失败时退回内存存储
func NewStorage(cfg *config.Config) Storage {
	var store Storage

	switch cfg.Storage.Type {
	case "disk":
		store = NewDiskStorage(cfg.Storage.DataDir, 100)
	case "sqlite":
		dsn := cfg.Storage.DSN
		if dsn == "" {
			if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
				logger.Errorf("Failed to create data dir: %v", err)
			}
			dsn = filepath.Join(cfg.Storage.DataDir, "mindful.db")
		}
		store = NewSQLStorage("sqlite", dsn)
	case "postgres":
		store = NewSQLStorage("postgres", cfg.Storage.DSN)
	default:
		store = NewMemoryStorage()
	}

	if err := store.Init(); err != nil {
		logger.Errorf("Failed to initialize storage: %v", err)
		store = NewMemoryStorage()
		store.Init()
	}

	if cfg.Redis.URL != "" {
		rdb, err := NewRedisClient(cfg.Redis.URL)
		if err != nil {
			logger.Warnf("Credential cache disabled: %v", err)
			return store
		}
		return NewCachedCredentials(store, rdb, cfg.Credential.CacheTTL)
	}

	return store
}
