package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/llamachat/conversation"
	"github.com/BaSui01/llamachat/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SessionRecord 是会话快照的数据库表结构.
type SessionRecord struct {
	ID        string              `gorm:"primaryKey;size:64"`
	Config    conversation.Config `gorm:"serializer:json;type:text"`
	Messages  []types.Message     `gorm:"serializer:json;type:text"`
	Turns     int                 `gorm:"not null;default:0"`
	Version   int                 `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

// TableName 指定表名
func (SessionRecord) TableName() string {
	return "llamachat_sessions"
}

func recordFromSnapshot(snap *Snapshot) *SessionRecord {
	return &SessionRecord{
		ID:        snap.ID,
		Config:    snap.Config,
		Messages:  snap.Messages,
		Turns:     len(snap.Messages),
		Version:   snap.Version,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	}
}

func (r *SessionRecord) snapshot() *Snapshot {
	return &Snapshot{
		ID:        r.ID,
		Config:    r.Config,
		Messages:  r.Messages,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// GormStore 数据库快照存储
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore 创建数据库存储
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{db: db, logger: logger.With(zap.String("component", "gorm_session_store"))}
}

// AutoMigrate 确保表结构最新
func (s *GormStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&SessionRecord{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

func (s *GormStore) Save(ctx context.Context, snap *Snapshot) error {
	rec := recordFromSnapshot(snap)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current SessionRecord
		err := tx.Select("id", "version").Where("id = ?", snap.ID).Take(&current).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(rec).Error; err != nil {
				return fmt.Errorf("create session record: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("query session record: %w", err)
		}

		if current.Version >= snap.Version {
			return ErrVersionConflict
		}
		result := tx.Model(&SessionRecord{}).
			Where("id = ? AND version = ?", snap.ID, current.Version).
			Select("config", "messages", "turns", "version", "updated_at").
			Updates(rec)
		if result.Error != nil {
			return fmt.Errorf("update session record: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrVersionConflict
		}
		return nil
	})
}

func (s *GormStore) Load(ctx context.Context, id string) (*Snapshot, error) {
	var rec SessionRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session record: %w", err)
	}
	return rec.snapshot(), nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&SessionRecord{}).Error; err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}
	return nil
}
