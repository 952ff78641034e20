package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"mindful-backend/internal/model"
	"mindful-backend/pkg/logger"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"
)

type messageRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	MessageID string `gorm:"size:36;uniqueIndex"`
	UserID    string `gorm:"size:128;index"`
	Role      string `gorm:"size:16"`
	Content   string `gorm:"type:text"`
	CreatedAt time.Time
}

func (messageRow) TableName() string { return "chat_messages" }

type credentialRow struct {
	UserID    string `gorm:"primaryKey;size:128"`
	Sealed    string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (credentialRow) TableName() string { return "api_credentials" }

// SQLStorage 基于 gorm，支持 sqlite 和 postgres
type SQLStorage struct {
	dialect string
	dsn     string
	db      *gorm.DB
}

func NewSQLStorage(dialect, dsn string) *SQLStorage {
	return &SQLStorage{dialect: dialect, dsn: dsn}
}

func (s *SQLStorage) Init() error {
	var dialector gorm.Dialector
	switch s.dialect {
	case "postgres":
		dialector = postgres.Open(s.dsn)
	case "sqlite":
		dialector = sqlite.Open(s.dsn)
	default:
		return fmt.Errorf("%w: unknown dialect %q", ErrStorageInit, s.dialect)
	}

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	// sqlite 内存库每个连接是独立的库
	if s.dialect == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageInit, err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&messageRow{}, &credentialRow{}); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	s.db = db
	logger.Infof("SQL storage initialized (%s)", s.dialect)
	return nil
}

func (s *SQLStorage) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStorage) AppendMessage(ctx context.Context, msg *model.StoredMessage) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	row := messageRow{
		MessageID: msg.ID,
		UserID:    msg.UserID,
		Role:      msg.Role,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *SQLStorage) RecentMessages(ctx context.Context, userID string, limit int) ([]*model.StoredMessage, error) {
	q := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []messageRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	// 倒序查出最近的 N 条，再翻转成时间正序
	out := make([]*model.StoredMessage, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = &model.StoredMessage{
			ID:        row.MessageID,
			UserID:    row.UserID,
			Role:      row.Role,
			Content:   row.Content,
			CreatedAt: row.CreatedAt,
		}
	}
	return out, nil
}

func (s *SQLStorage) ClearMessages(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&messageRow{}).Error
}

func (s *SQLStorage) GetCredential(ctx context.Context, userID string) (string, error) {
	var row credentialRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return row.Sealed, nil
}

func (s *SQLStorage) PutCredential(ctx context.Context, userID, sealed string) error {
	row := credentialRow{UserID: userID, Sealed: sealed, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"sealed", "updated_at"}),
		}).
		Create(&row).Error
}

func (s *SQLStorage) DeleteCredential(ctx context.Context, userID string) error {
	res := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&credentialRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
