package repository

import "context"

// 在庫と販売数の増減。どちらも1本のUPDATEで原子的に行う。
type StockRepository interface {
	// 在庫が足りるときだけ減算し、販売数を加算
	DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error)

	// 在庫戻し（キャンセルなど）。販売数も戻す
	IncreaseStock(ctx context.Context, productID int64, qty int64) error
}
