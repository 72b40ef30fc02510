package repository

import (
	"context"
	"strings"
	"time"

	"ordercore/internal/domain/model"
	repo "ordercore/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderGormRepository struct {
	db *gorm.DB
}

func NewOrderGormRepository(db *gorm.DB) *OrderGormRepository {
	return &OrderGormRepository{db: db}
}

// 明細はOrderItemRepositoryで別に保存する。
// 冪等キーの衝突はON CONFLICT DO NOTHINGで受けてErrIdempotencyKeyTaken、
// 注文番号の衝突はErrDuplicateを返す。
func (r *OrderGormRepository) Create(ctx context.Context, order *model.Order) error {
	q := r.db.WithContext(ctx).Omit("Items")
	if order.IdempotencyKey != "" {
		q = q.Clauses(clause.OnConflict{
			Columns:     []clause.Column{{Name: "user_id"}, {Name: "idempotency_key"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "idempotency_key <> ''"}}},
			DoNothing:   true,
		})
	}
	res := q.Create(order)
	if isUniqueViolation(res.Error) {
		return repo.ErrDuplicate
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrIdempotencyKeyTaken
	}
	return nil
}

func (r *OrderGormRepository) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	return r.findOne(ctx, "id = ?", orderID)
}

func (r *OrderGormRepository) FindByPaymentReference(ctx context.Context, reference string) (model.Order, error) {
	return r.findOne(ctx, "payment_reference = ?", reference)
}

func (r *OrderGormRepository) findOne(ctx context.Context, query string, arg interface{}) (model.Order, error) {
	var o model.Order
	err := r.db.WithContext(ctx).Where(query, arg).First(&o).Error
	if isNotFound(err) {
		return model.Order{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (r *OrderGormRepository) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return []model.Order{}, 0, err
	}

	var items []model.Order
	offset := (page - 1) * limit
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&items).Error
	if err != nil {
		return []model.Order{}, 0, err
	}

	return items, total, nil
}

func (r *OrderGormRepository) FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error) {
	var o model.Order
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&o).Error

	if isNotFound(err) {
		return model.Order{}, false, nil
	}
	if err != nil {
		return model.Order{}, false, err
	}
	return o, true, nil
}

func (r *OrderGormRepository) Search(ctx context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}

	q := r.db.WithContext(ctx).Model(&model.Order{})

	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.PaymentStatus != "" {
		q = q.Where("payment_status = ?", f.PaymentStatus)
	}
	if f.PaymentMethod != "" {
		q = q.Where("payment_method = ?", f.PaymentMethod)
	}
	if s := strings.TrimSpace(f.Q); s != "" {
		q = q.Where("order_number ILIKE ?", "%"+s+"%")
	}
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}

	//期間絞り込み
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return []model.Order{}, 0, err
	}

	var items []model.Order
	offset := (f.Page - 1) * f.Limit
	if err := q.Order("id desc").Limit(f.Limit).Offset(offset).Find(&items).Error; err != nil {
		return []model.Order{}, 0, err
	}

	return items, total, nil
}

func (r *OrderGormRepository) UpdateStatus(ctx context.Context, orderID int64, version int64, c repo.OrderStatusChange) error {
	fields := map[string]interface{}{
		"status":     c.Status,
		"version":    gorm.Expr("version + 1"),
		"updated_at": time.Now(),
	}
	if c.CancelReason != nil {
		fields["cancel_reason"] = *c.CancelReason
	}
	if c.ConfirmedAt != nil {
		fields["confirmed_at"] = *c.ConfirmedAt
	}
	if c.ShippedAt != nil {
		fields["shipped_at"] = *c.ShippedAt
	}
	if c.DeliveredAt != nil {
		fields["delivered_at"] = *c.DeliveredAt
	}
	if c.CompletedAt != nil {
		fields["completed_at"] = *c.CompletedAt
	}
	if c.CancelledAt != nil {
		fields["cancelled_at"] = *c.CancelledAt
	}
	if c.PaymentStatus != nil {
		fields["payment_status"] = *c.PaymentStatus
	}

	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND version = ?", orderID, version).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		//存在しないのかversion違いなのかを区別する
		var count int64
		if err := r.db.WithContext(ctx).Model(&model.Order{}).Where("id = ?", orderID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return repo.ErrNotFound
		}
		return repo.ErrConflict
	}
	return nil
}

// 同じ値への更新は何もしない（Webhookの再送対策）
func (r *OrderGormRepository) UpdatePaymentStatus(ctx context.Context, orderID int64, status model.PaymentStatus, externalRef string) (bool, error) {
	fields := map[string]interface{}{
		"payment_status": status,
		"updated_at":     time.Now(),
	}
	if externalRef != "" {
		fields["external_txn_ref"] = externalRef
	}

	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND payment_status <> ?", orderID, status).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, orderID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *OrderGormRepository) SetPaymentReference(ctx context.Context, orderID int64, reference string, externalRef string) error {
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"payment_reference": reference,
			"external_txn_ref":  externalRef,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *OrderGormRepository) SetShipmentCode(ctx context.Context, orderID int64, code string) error {
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND (shipment_code = '' OR shipment_code IS NULL)", orderID).
		Updates(map[string]interface{}{
			"shipment_code": code,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, orderID); err != nil {
			return err
		}
		return repo.ErrConflict
	}
	return nil
}

func (r *OrderGormRepository) ListForShipmentSync(ctx context.Context, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 500
	}
	var items []model.Order
	err := r.db.WithContext(ctx).
		Where("shipment_code <> '' AND status IN ?", []model.OrderStatus{
			model.OrderStatusConfirmed,
			model.OrderStatusProcessing,
			model.OrderStatusShipping,
		}).
		Order("id asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return []model.Order{}, err
	}
	return items, nil
}

func (r *OrderGormRepository) Stats(ctx context.Context, from *time.Time, to *time.Time) (repo.OrderStats, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		if from != nil {
			db = db.Where("created_at >= ?", *from)
		}
		if to != nil {
			db = db.Where("created_at <= ?", *to)
		}
		return db
	}

	type statusRow struct {
		Status model.OrderStatus
		Count  int64
	}
	var rows []statusRow
	if err := r.db.WithContext(ctx).Model(&model.Order{}).
		Scopes(scope).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return repo.OrderStats{}, err
	}

	out := repo.OrderStats{ByStatus: map[model.OrderStatus]int64{}}
	for _, row := range rows {
		out.ByStatus[row.Status] = row.Count
		out.TotalOrders += row.Count
	}

	//売上は支払い済みかつキャンセル/返金されていない注文
	if err := r.db.WithContext(ctx).Model(&model.Order{}).
		Scopes(scope).
		Where("payment_status = ? AND status NOT IN ?", model.PaymentStatusPaid,
			[]model.OrderStatus{model.OrderStatusCancelled, model.OrderStatusRefunded}).
		Select("COALESCE(SUM(total), 0)::bigint").
		Scan(&out.PaidRevenue).Error; err != nil {
		return repo.OrderStats{}, err
	}

	if err := r.db.WithContext(ctx).Model(&model.Order{}).
		Scopes(scope).
		Where("payment_status = ? AND status <> ?", model.PaymentStatusPending, model.OrderStatusCancelled).
		Select("COALESCE(SUM(total), 0)::bigint").
		Scan(&out.PendingAmount).Error; err != nil {
		return repo.OrderStats{}, err
	}

	return out, nil
}
