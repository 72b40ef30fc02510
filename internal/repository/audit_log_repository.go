package repository

import (
	"context"

	"ordercore/internal/domain/model"
)

// 対象（注文・ウォレット）ごとの履歴を引くための条件
type AuditLogFilter struct {
	ResourceType model.AuditResourceType
	ResourceID   int64
	Limit        int
	Offset       int
}

type AuditLogRepository interface {
	Create(ctx context.Context, log model.AuditLog) error
	// 新しい順。totalは絞り込み後の件数
	List(ctx context.Context, filter AuditLogFilter) ([]model.AuditLog, int64, error)
}
