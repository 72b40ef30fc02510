package repository

import (
	"context"

	"ordercore/internal/domain/model"
	repo "ordercore/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WalletGormRepository struct {
	db *gorm.DB
}

func NewWalletGormRepository(db *gorm.DB) *WalletGormRepository {
	return &WalletGormRepository{db: db}
}

func (r *WalletGormRepository) FindByUserID(ctx context.Context, userID int64) (model.Wallet, error) {
	var w model.Wallet
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error
	if isNotFound(err) {
		return model.Wallet{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Wallet{}, err
	}
	return w, nil
}

// SELECT ... FOR UPDATE（同じウォレットへの台帳操作を直列化）
func (r *WalletGormRepository) FindByUserIDForUpdate(ctx context.Context, userID int64) (model.Wallet, error) {
	var w model.Wallet
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&w).Error
	if isNotFound(err) {
		return model.Wallet{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Wallet{}, err
	}
	return w, nil
}

func (r *WalletGormRepository) Create(ctx context.Context, wallet *model.Wallet) error {
	err := r.db.WithContext(ctx).Create(wallet).Error
	if isUniqueViolation(err) {
		return repo.ErrDuplicate
	}
	return err
}

// 残高が0未満にならないときだけ加算
func (r *WalletGormRepository) ApplyDelta(ctx context.Context, walletID int64, d repo.WalletDelta) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND balance + ? >= 0", walletID, d.Balance).
		Updates(map[string]interface{}{
			"balance":         gorm.Expr("balance + ?", d.Balance),
			"total_deposited": gorm.Expr("total_deposited + ?", d.Deposited),
			"total_withdrawn": gorm.Expr("total_withdrawn + ?", d.Withdrawn),
			"total_spent":     gorm.Expr("total_spent + ?", d.Spent),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *WalletGormRepository) CreateEntry(ctx context.Context, entry *model.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *WalletGormRepository) FindEntryByReference(ctx context.Context, walletID int64, txType model.WalletTransactionType, reference string) (model.WalletTransaction, bool, error) {
	var e model.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("wallet_id = ? AND type = ? AND reference = ? AND status = ?",
			walletID, txType, reference, model.WalletTxStatusCompleted).
		Order("id asc").
		First(&e).Error
	if isNotFound(err) {
		return model.WalletTransaction{}, false, nil
	}
	if err != nil {
		return model.WalletTransaction{}, false, err
	}
	return e, true, nil
}

func (r *WalletGormRepository) ListEntries(ctx context.Context, walletID int64, limit int, offset int) ([]model.WalletTransaction, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.WalletTransaction{}).
		Where("wallet_id = ?", walletID).
		Count(&total).Error; err != nil {
		return []model.WalletTransaction{}, 0, err
	}

	var items []model.WalletTransaction
	if err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&items).Error; err != nil {
		return []model.WalletTransaction{}, 0, err
	}
	return items, total, nil
}
