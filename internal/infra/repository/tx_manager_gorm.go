package repository

import (
	"context"

	repo "ordercore/internal/repository"

	"gorm.io/gorm"
)

type txReposGorm struct {
	orders          repo.OrderRepository
	orderItems      repo.OrderItemRepository
	products        repo.ProductRepository
	stock           repo.StockRepository
	carts           repo.CartRepository
	wallets         repo.WalletRepository
	transactions    repo.TransactionRepository
	processedEvents repo.ProcessedEventRepository
	auditLogs       repo.AuditLogRepository
}

func (r *txReposGorm) Orders() repo.OrderRepository                   { return r.orders }
func (r *txReposGorm) OrderItems() repo.OrderItemRepository           { return r.orderItems }
func (r *txReposGorm) Products() repo.ProductRepository               { return r.products }
func (r *txReposGorm) Stock() repo.StockRepository                    { return r.stock }
func (r *txReposGorm) Carts() repo.CartRepository                     { return r.carts }
func (r *txReposGorm) Wallets() repo.WalletRepository                 { return r.wallets }
func (r *txReposGorm) Transactions() repo.TransactionRepository       { return r.transactions }
func (r *txReposGorm) ProcessedEvents() repo.ProcessedEventRepository { return r.processedEvents }
func (r *txReposGorm) AuditLogs() repo.AuditLogRepository             { return r.auditLogs }

func newTxRepos(db *gorm.DB) *txReposGorm {
	return &txReposGorm{
		orders:          NewOrderGormRepository(db),
		orderItems:      NewOrderItemGormRepository(db),
		products:        NewProductGormRepository(db),
		stock:           NewStockGormRepository(db),
		carts:           NewCartGormRepository(db),
		wallets:         NewWalletGormRepository(db),
		transactions:    NewTransactionGormRepository(db),
		processedEvents: NewProcessedEventGormRepository(db),
		auditLogs:       NewAuditLogGormRepository(db),
	}
}

type TxManagerGorm struct {
	db *gorm.DB
}

func NewTxManagerGorm(db *gorm.DB) *TxManagerGorm {
	return &TxManagerGorm{db: db}
}

func (tm *TxManagerGorm) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		//repoはtxを持ったDBで作り直す
		return fn(newTxRepos(tx))
	})
}

// トランザクション外で使う読み取り用
func (tm *TxManagerGorm) Repos() repo.TxRepos {
	return newTxRepos(tm.db)
}
