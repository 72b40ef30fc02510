package usecase

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ordercore/internal/domain/model"
	"ordercore/internal/pkg/logging"
	repo "ordercore/internal/repository"

	"go.uber.org/zap"
)

// WalletLedger は残高を変更する唯一の入口。
// どの操作も ウォレット行をロック → 新残高を計算 → 負なら拒否 → 残高更新と台帳1行 を1トランザクションで行う。
type WalletLedger struct {
	tx      repo.TransactionManager
	wallets repo.WalletRepository
	now     func() time.Time
}

func NewWalletLedger(tx repo.TransactionManager, wallets repo.WalletRepository) *WalletLedger {
	return &WalletLedger{tx: tx, wallets: wallets, now: time.Now}
}

type WalletOutput struct {
	model.Wallet
}

type WalletEntriesOutput struct {
	Items []model.WalletTransaction `json:"items"`
	Total int64                     `json:"total"`
	Page  int                       `json:"page"`
	Limit int                       `json:"limit"`
}

// EnsureWallet は無ければ作る（ユーザー登録イベントから呼ばれる）
func (l *WalletLedger) EnsureWallet(ctx context.Context, userID int64) (model.Wallet, error) {
	if userID <= 0 {
		return model.Wallet{}, NewHTTPError(http.StatusBadRequest, "invalid user_id")
	}
	w, err := l.wallets.FindByUserID(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return model.Wallet{}, errDB()
	}

	w = model.Wallet{UserID: userID, Currency: "VND", Status: model.WalletStatusActive}
	if err := l.wallets.Create(ctx, &w); err != nil {
		// 同時に作られた
		if errors.Is(err, repo.ErrDuplicate) {
			w, err = l.wallets.FindByUserID(ctx, userID)
			if err != nil {
				return model.Wallet{}, errDB()
			}
			return w, nil
		}
		return model.Wallet{}, errDB()
	}
	return w, nil
}

func (l *WalletLedger) GetWallet(ctx context.Context, userID int64) (WalletOutput, error) {
	if userID <= 0 {
		return WalletOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	w, err := l.EnsureWallet(ctx, userID)
	if err != nil {
		return WalletOutput{}, err
	}
	return WalletOutput{Wallet: w}, nil
}

func (l *WalletLedger) ListEntries(ctx context.Context, userID int64, page int, limit int) (WalletEntriesOutput, error) {
	if userID <= 0 {
		return WalletEntriesOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	page, limit = normalizePage(page, limit)

	w, err := l.wallets.FindByUserID(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return WalletEntriesOutput{Items: []model.WalletTransaction{}, Page: page, Limit: limit}, nil
	}
	if err != nil {
		return WalletEntriesOutput{}, errDB()
	}

	items, total, err := l.wallets.ListEntries(ctx, w.ID, limit, (page-1)*limit)
	if err != nil {
		return WalletEntriesOutput{}, errDB()
	}
	return WalletEntriesOutput{Items: items, Total: total, Page: page, Limit: limit}, nil
}

func (l *WalletLedger) Deposit(ctx context.Context, userID int64, amount int64, reference string, description string) (model.WalletTransaction, error) {
	var out model.WalletTransaction
	err := l.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		e, err := l.apply(ctx, r, userID, model.WalletTxDeposit, amount, reference, description)
		out = e
		return err
	})
	return out, err
}

// AdminDeposit は管理者による入金。監査ログも同じトランザクションで残す
func (l *WalletLedger) AdminDeposit(ctx context.Context, actorAdminUserID int64, userID int64, amount int64, note string) (model.WalletTransaction, error) {
	if actorAdminUserID <= 0 {
		return model.WalletTransaction{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	ref := "admin:" + strconv.FormatInt(actorAdminUserID, 10)
	var out model.WalletTransaction
	err := l.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		e, err := l.apply(ctx, r, userID, model.WalletTxDeposit, amount, ref, note)
		if err != nil {
			return err
		}
		out = e

		entry, err := model.NewAuditLog(actorAdminUserID, model.AuditActionWalletDeposit, model.AuditResourceWallet, e.WalletID,
			map[string]int64{"balance": e.BalanceBefore},
			map[string]int64{"balance": e.BalanceAfter, "amount": e.Amount},
			l.now())
		if err != nil {
			return err
		}
		if err := r.AuditLogs().Create(ctx, entry); err != nil {
			return errDB()
		}
		return nil
	})
	return out, err
}

func (l *WalletLedger) Withdraw(ctx context.Context, userID int64, amount int64, reference string, description string) (model.WalletTransaction, error) {
	var out model.WalletTransaction
	err := l.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		e, err := l.apply(ctx, r, userID, model.WalletTxWithdraw, amount, reference, description)
		out = e
		return err
	})
	return out, err
}

// Purchase は注文番号を参照にして即時に引き落とす（仮押さえは無い）
func (l *WalletLedger) Purchase(ctx context.Context, userID int64, amount int64, orderNumber string) (model.WalletTransaction, error) {
	var out model.WalletTransaction
	err := l.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		e, err := l.PurchaseWithin(ctx, r, userID, amount, orderNumber)
		out = e
		return err
	})
	return out, err
}

// PurchaseWithin は呼び出し側のトランザクションの中で引き落とす（注文作成用）
func (l *WalletLedger) PurchaseWithin(ctx context.Context, r repo.TxRepos, userID int64, amount int64, orderNumber string) (model.WalletTransaction, error) {
	return l.apply(ctx, r, userID, model.WalletTxPurchase, amount, orderNumber, "payment for order "+orderNumber)
}

// Refund は同じ注文番号のpurchaseと同額を戻す。
// 既に返金済みならErrDuplicateRefund（再配信で二重に戻さない）
func (l *WalletLedger) Refund(ctx context.Context, userID int64, orderNumber string) (model.WalletTransaction, error) {
	var out model.WalletTransaction
	err := l.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		e, err := l.RefundWithin(ctx, r, userID, orderNumber)
		out = e
		return err
	})
	return out, err
}

func (l *WalletLedger) RefundWithin(ctx context.Context, r repo.TxRepos, userID int64, orderNumber string) (model.WalletTransaction, error) {
	if strings.TrimSpace(orderNumber) == "" {
		return model.WalletTransaction{}, NewHTTPError(http.StatusBadRequest, "invalid reference")
	}

	// 先にロックを取り、同じ注文への返金を直列化する
	w, err := r.Wallets().FindByUserIDForUpdate(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.WalletTransaction{}, NewHTTPError(http.StatusNotFound, "wallet not found")
	}
	if err != nil {
		return model.WalletTransaction{}, errDB()
	}

	purchase, found, err := r.Wallets().FindEntryByReference(ctx, w.ID, model.WalletTxPurchase, orderNumber)
	if err != nil {
		return model.WalletTransaction{}, errDB()
	}
	if !found {
		return model.WalletTransaction{}, NewHTTPError(http.StatusNotFound, "purchase not found")
	}

	_, refunded, err := r.Wallets().FindEntryByReference(ctx, w.ID, model.WalletTxRefund, orderNumber)
	if err != nil {
		return model.WalletTransaction{}, errDB()
	}
	if refunded {
		return model.WalletTransaction{}, ErrDuplicateRefund
	}

	return l.apply(ctx, r, userID, model.WalletTxRefund, purchase.Amount, orderNumber, "refund for order "+orderNumber)
}

func (l *WalletLedger) apply(ctx context.Context, r repo.TxRepos, userID int64, typ model.WalletTransactionType, amount int64, reference string, description string) (model.WalletTransaction, error) {
	if userID <= 0 {
		return model.WalletTransaction{}, NewHTTPError(http.StatusBadRequest, "invalid user_id")
	}
	if amount <= 0 {
		return model.WalletTransaction{}, NewHTTPError(http.StatusBadRequest, "invalid amount")
	}

	w, err := r.Wallets().FindByUserIDForUpdate(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		// 入金系は初回にウォレットを作る
		if typ.Sign() < 0 {
			return model.WalletTransaction{}, NewHTTPError(http.StatusNotFound, "wallet not found")
		}
		w = model.Wallet{UserID: userID, Currency: "VND", Status: model.WalletStatusActive}
		if err := r.Wallets().Create(ctx, &w); err != nil {
			return model.WalletTransaction{}, errDB()
		}
	} else if err != nil {
		return model.WalletTransaction{}, errDB()
	}
	if w.Status != model.WalletStatusActive {
		return model.WalletTransaction{}, NewHTTPError(http.StatusBadRequest, "wallet locked")
	}

	signed := typ.Sign() * amount
	before := w.Balance
	after := before + signed
	if after < 0 {
		return model.WalletTransaction{}, ErrInsufficientBalance
	}

	delta := repo.WalletDelta{Balance: signed}
	switch typ {
	case model.WalletTxDeposit:
		delta.Deposited = amount
	case model.WalletTxWithdraw:
		delta.Withdrawn = amount
	case model.WalletTxPurchase:
		delta.Spent = amount
	case model.WalletTxRefund:
		delta.Spent = -amount
	}

	ok, err := r.Wallets().ApplyDelta(ctx, w.ID, delta)
	if err != nil {
		return model.WalletTransaction{}, errDB()
	}
	if !ok {
		return model.WalletTransaction{}, ErrInsufficientBalance
	}

	entry := model.WalletTransaction{
		WalletID:      w.ID,
		UserID:        userID,
		Type:          typ,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Status:        model.WalletTxStatusCompleted,
		Reference:     reference,
		Description:   description,
	}
	if err := r.Wallets().CreateEntry(ctx, &entry); err != nil {
		return model.WalletTransaction{}, errDB()
	}

	logging.FromContext(ctx).Info("wallet ledger entry",
		zap.Int64("user_id", userID),
		zap.String("type", string(typ)),
		zap.Int64("amount", amount),
		zap.Int64("balance_after", after),
		zap.String("reference", reference),
	)
	return entry, nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
