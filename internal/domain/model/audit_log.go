package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type AuditAction string

const (
	AuditActionUpdateOrderStatus   AuditAction = "UPDATE_ORDER_STATUS"
	AuditActionUpdatePaymentStatus AuditAction = "UPDATE_PAYMENT_STATUS"
	AuditActionCreateShipment      AuditAction = "CREATE_SHIPMENT"
	// 管理者による入金
	AuditActionWalletDeposit AuditAction = "WALLET_DEPOSIT"
)

type AuditResourceType string

const (
	AuditResourceOrder  AuditResourceType = "order"
	AuditResourceWallet AuditResourceType = "wallet"
)

// AuditLog は管理者操作の記録。変更前後は任意の形のjsonbで持つ。
// 書き込みは操作と同じトランザクションで行う。
type AuditLog struct {
	ID           int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	ActorUserID  int64             `gorm:"not null;index" json:"actor_user_id"`
	Action       AuditAction       `gorm:"type:varchar(50);not null;index" json:"action"`
	ResourceType AuditResourceType `gorm:"type:varchar(50);not null;index:idx_audit_resource,priority:1" json:"resource_type"`
	ResourceID   int64             `gorm:"not null;index:idx_audit_resource,priority:2" json:"resource_id"`
	Before       datatypes.JSON    `gorm:"type:jsonb" json:"before,omitempty"`
	After        datatypes.JSON    `gorm:"type:jsonb" json:"after,omitempty"`
	CreatedAt    time.Time         `gorm:"not null;index" json:"created_at"`
}

// NewAuditLog は変更前後の値をJSONにして1件組み立てる
func NewAuditLog(actor int64, action AuditAction, resource AuditResourceType, resourceID int64, before, after any, at time.Time) (AuditLog, error) {
	b, err := json.Marshal(before)
	if err != nil {
		return AuditLog{}, err
	}
	a, err := json.Marshal(after)
	if err != nil {
		return AuditLog{}, err
	}
	return AuditLog{
		ActorUserID:  actor,
		Action:       action,
		ResourceType: resource,
		ResourceID:   resourceID,
		Before:       datatypes.JSON(b),
		After:        datatypes.JSON(a),
		CreatedAt:    at,
	}, nil
}
