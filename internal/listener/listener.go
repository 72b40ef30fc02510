package listener

import (
	"context"

	"ordercore/internal/domain/model"
	"ordercore/internal/eventbus"
	"ordercore/internal/pkg/logging"

	"go.uber.org/zap"
)

// Compensator はイベントごとの後処理（usecase側の実装）
type Compensator interface {
	PruneCart(ctx context.Context, orderID int64, userID int64, quantities map[int64]int64) error
	RestoreCancelledOrder(ctx context.Context, orderID int64, userID int64, orderNumber string, walletPaid bool, items []model.OrderItem) error
	EnsureWallet(ctx context.Context, userID int64) error
	ClearCategory(ctx context.Context, categoryID int64) (int64, error)
	ClearBrand(ctx context.Context, brandID int64) (int64, error)
}

type Listeners struct {
	c Compensator
}

func New(c Compensator) *Listeners {
	return &Listeners{c: c}
}

// Register は全トピックのハンドラをバスに登録する（バスのStartより前に呼ぶ）
func (l *Listeners) Register(s eventbus.Subscriber) {
	s.Subscribe(eventbus.TopicOrderCreated, l.OnOrderCreated)
	s.Subscribe(eventbus.TopicOrderCancelled, l.OnOrderCancelled)
	s.Subscribe(eventbus.TopicUserRegistered, l.OnUserRegistered)
	s.Subscribe(eventbus.TopicCategoryDeleted, l.OnCategoryDeleted)
	s.Subscribe(eventbus.TopicBrandDeleted, l.OnBrandDeleted)
}

// order.created: 購入分をカートから外す
func (l *Listeners) OnOrderCreated(ctx context.Context, ev eventbus.Event) error {
	var p eventbus.OrderCreated
	if err := ev.Decode(&p); err != nil {
		return skipMalformed(ctx, err)
	}

	qty := make(map[int64]int64, len(p.Items))
	for _, it := range p.Items {
		qty[it.ProductID] += it.Quantity
	}
	if err := l.c.PruneCart(ctx, p.OrderID, p.UserID, qty); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("cart pruned", zap.String("order_number", p.OrderNumber))
	return nil
}

// order.cancelled: 在庫戻しとウォレット返金
func (l *Listeners) OnOrderCancelled(ctx context.Context, ev eventbus.Event) error {
	var p eventbus.OrderCancelled
	if err := ev.Decode(&p); err != nil {
		return skipMalformed(ctx, err)
	}

	items := make([]model.OrderItem, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, model.OrderItem{OrderID: p.OrderID, ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return l.c.RestoreCancelledOrder(ctx, p.OrderID, p.UserID, p.OrderNumber, p.WalletPaid, items)
}

func (l *Listeners) OnUserRegistered(ctx context.Context, ev eventbus.Event) error {
	var p eventbus.UserRegistered
	if err := ev.Decode(&p); err != nil {
		return skipMalformed(ctx, err)
	}
	if p.UserID <= 0 {
		logging.FromContext(ctx).Warn("user.registered without user id")
		return nil
	}
	return l.c.EnsureWallet(ctx, p.UserID)
}

func (l *Listeners) OnCategoryDeleted(ctx context.Context, ev eventbus.Event) error {
	var p eventbus.CategoryDeleted
	if err := ev.Decode(&p); err != nil {
		return skipMalformed(ctx, err)
	}
	n, err := l.c.ClearCategory(ctx, p.CategoryID)
	if err != nil {
		return err
	}
	logging.FromContext(ctx).Info("category references cleared",
		zap.Int64("category_id", p.CategoryID),
		zap.Int64("products", n))
	return nil
}

func (l *Listeners) OnBrandDeleted(ctx context.Context, ev eventbus.Event) error {
	var p eventbus.BrandDeleted
	if err := ev.Decode(&p); err != nil {
		return skipMalformed(ctx, err)
	}
	n, err := l.c.ClearBrand(ctx, p.BrandID)
	if err != nil {
		return err
	}
	logging.FromContext(ctx).Info("brand references cleared",
		zap.Int64("brand_id", p.BrandID),
		zap.Int64("products", n))
	return nil
}

// 壊れたメッセージは再試行しても直らないので捨てる
func skipMalformed(ctx context.Context, err error) error {
	logging.FromContext(ctx).Error("malformed event payload, skipped", zap.Error(err))
	return nil
}
