package repository

import (
	"context"

	"ordercore/internal/domain/model"
)

// 残高の変化量
type WalletDelta struct {
	Balance   int64
	Deposited int64
	Withdrawn int64
	Spent     int64
}

type WalletRepository interface {
	FindByUserID(ctx context.Context, userID int64) (model.Wallet, error)
	// 行ロック付きで取得（台帳操作の直前に使う）
	FindByUserIDForUpdate(ctx context.Context, userID int64) (model.Wallet, error)
	Create(ctx context.Context, wallet *model.Wallet) error

	// balance + delta >= 0 のときだけ原子的に加算する。足りなければfalse
	ApplyDelta(ctx context.Context, walletID int64, delta WalletDelta) (bool, error)

	CreateEntry(ctx context.Context, entry *model.WalletTransaction) error
	FindEntryByReference(ctx context.Context, walletID int64, txType model.WalletTransactionType, reference string) (model.WalletTransaction, bool, error)
	ListEntries(ctx context.Context, walletID int64, limit int, offset int) ([]model.WalletTransaction, int64, error)
}
