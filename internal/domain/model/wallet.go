package model

import "time"

type WalletStatus string

const (
	WalletStatusActive WalletStatus = "ACTIVE"
	WalletStatusLocked WalletStatus = "LOCKED"
)

// 1ユーザーにつき1つ。残高はledger操作以外で直接書き換えない。
type Wallet struct {
	ID             int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64        `gorm:"not null;uniqueIndex" json:"user_id"`
	Balance        int64        `gorm:"not null;default:0;check:balance >= 0" json:"balance"`
	Currency       string       `gorm:"type:varchar(8);not null;default:'VND'" json:"currency"`
	TotalDeposited int64        `gorm:"not null;default:0" json:"total_deposited"`
	TotalWithdrawn int64        `gorm:"not null;default:0" json:"total_withdrawn"`
	TotalSpent     int64        `gorm:"not null;default:0" json:"total_spent"`
	Status         WalletStatus `gorm:"type:varchar(20);not null;default:'ACTIVE'" json:"status"`
	CreatedAt      time.Time    `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

type WalletTransactionType string

const (
	WalletTxDeposit  WalletTransactionType = "deposit"
	WalletTxWithdraw WalletTransactionType = "withdraw"
	WalletTxPurchase WalletTransactionType = "purchase"
	WalletTxRefund   WalletTransactionType = "refund"
)

// 残高に対する符号（入金は+、出金は-）
func (t WalletTransactionType) Sign() int64 {
	switch t {
	case WalletTxDeposit, WalletTxRefund:
		return 1
	default:
		return -1
	}
}

type WalletTransactionStatus string

const (
	WalletTxStatusCompleted WalletTransactionStatus = "completed"
	WalletTxStatusFailed    WalletTransactionStatus = "failed"
)

// 台帳の1行。完了後は失敗マーク以外で更新しない。
type WalletTransaction struct {
	ID            int64                   `gorm:"primaryKey;autoIncrement" json:"id"`
	WalletID      int64                   `gorm:"not null;index" json:"wallet_id"`
	UserID        int64                   `gorm:"not null;index" json:"user_id"`
	Type          WalletTransactionType   `gorm:"type:varchar(20);not null;index" json:"type"`
	Amount        int64                   `gorm:"not null" json:"amount"`
	BalanceBefore int64                   `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64                   `gorm:"not null" json:"balance_after"`
	Status        WalletTransactionStatus `gorm:"type:varchar(20);not null" json:"status"`
	//元になった注文番号など
	Reference   string    `gorm:"type:varchar(128);index" json:"reference"`
	Description string    `gorm:"type:varchar(255)" json:"description"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
