package model

import "time"

// ゲートウェイ認証情報などのkey-value
type Setting struct {
	Key       string    `gorm:"primaryKey;type:varchar(128)" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// 処理済みイベント（再配信で二重実行しないためのキー）
type ProcessedEvent struct {
	Key       string    `gorm:"primaryKey;type:varchar(255)" json:"key"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
