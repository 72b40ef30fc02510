package repository

import (
	"context"
	"time"

	"ordercore/internal/domain/model"
	repo "ordercore/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingGormRepository struct {
	db *gorm.DB
}

func NewSettingGormRepository(db *gorm.DB) *SettingGormRepository {
	return &SettingGormRepository{db: db}
}

func (r *SettingGormRepository) Get(ctx context.Context, key string) (string, error) {
	var s model.Setting
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&s).Error
	if isNotFound(err) {
		return "", repo.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return s.Value, nil
}

func (r *SettingGormRepository) List(ctx context.Context) ([]model.Setting, error) {
	var items []model.Setting
	if err := r.db.WithContext(ctx).Order("key asc").Find(&items).Error; err != nil {
		return []model.Setting{}, err
	}
	return items, nil
}

func (r *SettingGormRepository) Upsert(ctx context.Context, key string, value string) error {
	s := model.Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&s).Error
}

type ProcessedEventGormRepository struct {
	db *gorm.DB
}

func NewProcessedEventGormRepository(db *gorm.DB) *ProcessedEventGormRepository {
	return &ProcessedEventGormRepository{db: db}
}

// INSERT ... ON CONFLICT DO NOTHING。1行入れば初回
func (r *ProcessedEventGormRepository) TryMark(ctx context.Context, key string) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.ProcessedEvent{Key: key, CreatedAt: time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
