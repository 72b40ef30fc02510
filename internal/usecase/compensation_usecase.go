package usecase

import (
	"context"
	"errors"
	"strconv"

	"ordercore/internal/domain/model"
	"ordercore/internal/pkg/logging"
	repo "ordercore/internal/repository"

	"go.uber.org/zap"
)

// CompensationUsecase はイベントに反応する後処理。
// どれも再配信されても結果が変わらない。
type CompensationUsecase struct {
	tx     repo.TransactionManager
	ledger *WalletLedger
}

func NewCompensationUsecase(tx repo.TransactionManager, ledger *WalletLedger) *CompensationUsecase {
	return &CompensationUsecase{tx: tx, ledger: ledger}
}

// PruneCart は注文した数量だけカートから減らす
func (u *CompensationUsecase) PruneCart(ctx context.Context, orderID int64, userID int64, quantities map[int64]int64) error {
	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		first, err := r.ProcessedEvents().TryMark(ctx, "cart:"+strconv.FormatInt(orderID, 10))
		if err != nil {
			return err
		}
		if !first {
			return nil
		}

		cart, err := r.Carts().FindActiveByUserID(ctx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return r.Carts().RemoveQuantities(ctx, cart.ID, quantities)
	})
}

// RestoreCancelledOrder は在庫を戻し、ウォレット払いなら返金する。
// 在庫戻しは管理者キャンセルと同じキーで記録するので二重にならない。
func (u *CompensationUsecase) RestoreCancelledOrder(ctx context.Context, orderID int64, userID int64, orderNumber string, walletPaid bool, items []model.OrderItem) error {
	log := logging.FromContext(ctx).With(
		zap.Int64("order_id", orderID),
		zap.String("order_number", orderNumber))

	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if len(items) == 0 {
			loaded, err := r.OrderItems().ListByOrderID(ctx, orderID)
			if err != nil {
				return err
			}
			items = loaded
		}
		if err := restockWithin(ctx, r, orderID, items); err != nil {
			return err
		}

		if !walletPaid {
			return nil
		}
		entry, err := u.ledger.RefundWithin(ctx, r, userID, orderNumber)
		switch {
		case err == nil:
			log.Info("wallet refunded", zap.Int64("amount", entry.Amount))
			return nil
		case errors.Is(err, ErrDuplicateRefund):
			log.Info("refund already issued, skipping")
			return nil
		}
		if he, ok := AsHTTPError(err); ok && he.Status < 500 {
			// 再試行しても直らない
			log.Error("refund rejected, manual refund required", zap.Error(err))
			return nil
		}
		return err
	})
}

func (u *CompensationUsecase) EnsureWallet(ctx context.Context, userID int64) error {
	_, err := u.ledger.EnsureWallet(ctx, userID)
	return err
}

func (u *CompensationUsecase) ClearCategory(ctx context.Context, categoryID int64) (int64, error) {
	var n int64
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cleared, err := r.Products().ClearCategory(ctx, categoryID)
		n = cleared
		return err
	})
	return n, err
}

func (u *CompensationUsecase) ClearBrand(ctx context.Context, brandID int64) (int64, error) {
	var n int64
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cleared, err := r.Products().ClearBrand(ctx, brandID)
		n = cleared
		return err
	})
	return n, err
}
