package repository

import (
	"context"

	"ordercore/internal/domain/model"
)

type SettingRepository interface {
	Get(ctx context.Context, key string) (string, error)
	List(ctx context.Context) ([]model.Setting, error)
	Upsert(ctx context.Context, key string, value string) error
}

// 再配信されたイベントを二重に処理しないための記録
type ProcessedEventRepository interface {
	// 初めてならtrue、記録済みならfalse
	TryMark(ctx context.Context, key string) (bool, error)
}
