package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ordercore/internal/domain/model"
	"ordercore/internal/eventbus"
	"ordercore/internal/pkg/logging"
	repo "ordercore/internal/repository"
	"ordercore/internal/shipping"

	"go.uber.org/zap"
)

type AdminOrderUsecase struct {
	tx      repo.TransactionManager
	ledger  *WalletLedger
	carrier Carrier
	events  eventbus.Publisher
	now     func() time.Time
}

func NewAdminOrderUsecase(tx repo.TransactionManager, ledger *WalletLedger, carrier Carrier, events eventbus.Publisher) *AdminOrderUsecase {
	return &AdminOrderUsecase{
		tx:      tx,
		ledger:  ledger,
		carrier: carrier,
		events:  events,
		now:     time.Now,
	}
}

type AdminUpdateOrderStatusInput struct {
	Status string
	// 画面で見ていた版。nilなら現在の版で更新する
	Version *int64
	Reason  string
}

type AdminUpdatePaymentStatusInput struct {
	PaymentStatus string
}

type CreateShipmentInput struct {
	// グラム
	Weight int64
	Length int64
	Width  int64
	Height int64
	Note   string
}

// 商品1点あたりの既定重量（g）
const defaultItemWeight = 500

// 注文一覧（絞り込みとページング）
func (u *AdminOrderUsecase) Search(ctx context.Context, f repo.AdminOrderListFilter) (OrderListOutput, error) {
	if f.Page < 1 {
		return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if f.Limit < 1 || f.Limit > 100 {
		return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	if f.Status != "" {
		if _, ok := model.ParseOrderStatus(f.Status); !ok {
			return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid status")
		}
	}
	if f.PaymentStatus != "" {
		if _, ok := model.ParsePaymentStatus(f.PaymentStatus); !ok {
			return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid payment_status")
		}
	}
	if f.PaymentMethod != "" {
		if _, ok := model.ParsePaymentMethod(f.PaymentMethod, "", ""); !ok {
			return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid payment_method")
		}
		f.PaymentMethod = strings.ToUpper(strings.TrimSpace(f.PaymentMethod))
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid date range")
	}

	var out OrderListOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().Search(ctx, f)
		if err != nil {
			return errDB()
		}
		out = OrderListOutput{Items: make([]OrderOutput, 0, len(orders)), Total: total, Page: f.Page, Limit: f.Limit}
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return errDB()
			}
			o.Items = items
			out.Items = append(out.Items, OrderOutput{Order: o})
		}
		return nil
	})
	if err != nil {
		return OrderListOutput{}, err
	}
	return out, nil
}

// UpdateStatus は遷移表に従ってステータスを更新する。
// CANCELLEDは在庫をその場で戻し、返金はorder.cancelledのリスナーに任せる。
func (u *AdminOrderUsecase) UpdateStatus(ctx context.Context, actorAdminUserID int64, orderID int64, in AdminUpdateOrderStatusInput) (OrderOutput, error) {
	if actorAdminUserID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	to, ok := model.ParseOrderStatus(strings.ToUpper(strings.TrimSpace(in.Status)))
	if !ok {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	reason := strings.TrimSpace(in.Reason)

	var (
		out        OrderOutput
		cancelled  bool
		walletPaid bool
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if err != nil {
			return orderRepoError(err)
		}
		if in.Version != nil && *in.Version != o.Version {
			return ErrOrderConflict
		}
		before := o.Status
		walletPaid = o.IsWalletPaid()

		if err := u.transitionWithin(ctx, r, &o, to, reason); err != nil {
			return err
		}
		cancelled = to == model.OrderStatusCancelled

		if err := writeAudit(ctx, r, actorAdminUserID, model.AuditActionUpdateOrderStatus, o.ID,
			map[string]any{"status": before},
			map[string]any{"status": o.Status, "reason": reason},
			u.now()); err != nil {
			return err
		}

		out = OrderOutput{Order: o}
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}

	if cancelled {
		publishCancelled(ctx, u.events, out.Order, walletPaid, reason)
	}
	return out, nil
}

// transitionWithin は1歩の遷移を版チェック付きで保存する。
// CANCELLEDなら在庫戻し、REFUNDEDでウォレット払いなら返金もここで行う。
func (u *AdminOrderUsecase) transitionWithin(ctx context.Context, r repo.TxRepos, o *model.Order, to model.OrderStatus, reason string) error {
	version := o.Version
	walletPaid := o.IsWalletPaid()
	if err := o.Transition(to, u.now()); err != nil {
		return transitionError(err)
	}

	change := repo.OrderStatusChange{
		Status:      o.Status,
		ConfirmedAt: o.ConfirmedAt,
		ShippedAt:   o.ShippedAt,
		DeliveredAt: o.DeliveredAt,
		CompletedAt: o.CompletedAt,
		CancelledAt: o.CancelledAt,
	}

	items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
	if err != nil {
		return errDB()
	}
	o.Items = items

	switch to {
	case model.OrderStatusCancelled:
		change.CancelReason = &reason
		o.CancelReason = reason
		if walletPaid {
			refunded := model.PaymentStatusRefunded
			change.PaymentStatus = &refunded
			o.PaymentStatus = refunded
		}
		if err := restockWithin(ctx, r, o.ID, items); err != nil {
			return err
		}
	case model.OrderStatusRefunded:
		if walletPaid {
			if _, err := u.ledger.RefundWithin(ctx, r, o.UserID, o.OrderNumber); err != nil && !errors.Is(err, ErrDuplicateRefund) {
				return err
			}
			refunded := model.PaymentStatusRefunded
			change.PaymentStatus = &refunded
			o.PaymentStatus = refunded
		}
	}

	if err := r.Orders().UpdateStatus(ctx, o.ID, version, change); err != nil {
		return orderRepoError(err)
	}
	o.Version = version + 1
	return nil
}

// 在庫戻し。リスナーと同じキーで記録し、二重に戻さない
func restockWithin(ctx context.Context, r repo.TxRepos, orderID int64, items []model.OrderItem) error {
	first, err := r.ProcessedEvents().TryMark(ctx, restockKey(orderID))
	if err != nil {
		return errDB()
	}
	if !first {
		return nil
	}
	for _, it := range items {
		if err := r.Stock().IncreaseStock(ctx, it.ProductID, it.Quantity); err != nil {
			return errDB()
		}
	}
	return nil
}

func restockKey(orderID int64) string {
	return "restock:" + strconv.FormatInt(orderID, 10)
}

func (u *AdminOrderUsecase) UpdatePaymentStatus(ctx context.Context, actorAdminUserID int64, orderID int64, in AdminUpdatePaymentStatusInput) (OrderOutput, error) {
	if actorAdminUserID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	status, ok := model.ParsePaymentStatus(strings.ToUpper(strings.TrimSpace(in.PaymentStatus)))
	if !ok {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid payment_status")
	}

	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if err != nil {
			return orderRepoError(err)
		}
		before := o.PaymentStatus

		// 同じ値なら何もしない（200）
		if before != status {
			if _, err := r.Orders().UpdatePaymentStatus(ctx, o.ID, status, ""); err != nil {
				return orderRepoError(err)
			}
			o.PaymentStatus = status

			if err := writeAudit(ctx, r, actorAdminUserID, model.AuditActionUpdatePaymentStatus, o.ID,
				map[string]any{"payment_status": before},
				map[string]any{"payment_status": status},
				u.now()); err != nil {
				return err
			}
		}

		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return errDB()
		}
		o.Items = items
		out = OrderOutput{Order: o}
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

func (u *AdminOrderUsecase) Stats(ctx context.Context, from *time.Time, to *time.Time) (repo.OrderStats, error) {
	if from != nil && to != nil && from.After(*to) {
		return repo.OrderStats{}, NewHTTPError(http.StatusBadRequest, "invalid date range")
	}
	var out repo.OrderStats
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		s, err := r.Orders().Stats(ctx, from, to)
		if err != nil {
			return errDB()
		}
		out = s
		return nil
	})
	if err != nil {
		return repo.OrderStats{}, err
	}
	return out, nil
}

// CreateShipment は配送業者に配送を作り、配送コードを注文に保存する。
// 業者への呼び出しはトランザクションの外で行う。
func (u *AdminOrderUsecase) CreateShipment(ctx context.Context, actorAdminUserID int64, orderID int64, in CreateShipmentInput) (OrderOutput, error) {
	if actorAdminUserID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if in.Weight < 0 || in.Length < 0 || in.Width < 0 || in.Height < 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid dimensions")
	}

	var o model.Order
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		found, err := r.Orders().FindByID(ctx, orderID)
		if err != nil {
			return orderRepoError(err)
		}
		if found.ShipmentCode != "" {
			return NewHTTPError(http.StatusConflict, "shipment already created")
		}
		if found.Status != model.OrderStatusConfirmed && found.Status != model.OrderStatusProcessing {
			return NewHTTPError(http.StatusBadRequest, fmt.Sprintf("cannot ship order in status %s", found.Status))
		}
		items, err := r.OrderItems().ListByOrderID(ctx, found.ID)
		if err != nil {
			return errDB()
		}
		found.Items = items
		o = found
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}

	shipment, err := u.carrier.CreateShipment(ctx, shipmentRequest(o, in))
	if err != nil {
		// 応答だけ失われて業者側には作成済みのことがある。注文番号で引き直す
		existing, lookupErr := u.carrier.DetailByClientCode(ctx, o.OrderNumber)
		if lookupErr != nil || existing.OrderCode == "" {
			logging.FromContext(ctx).Error("create shipment failed",
				zap.String("order_number", o.OrderNumber),
				zap.Error(err))
			return OrderOutput{}, ErrCarrierFailed
		}
		logging.FromContext(ctx).Warn("create shipment failed, adopting existing carrier order",
			zap.String("order_number", o.OrderNumber),
			zap.String("shipment_code", existing.OrderCode),
			zap.Error(err))
		shipment = shipping.Shipment{OrderCode: existing.OrderCode}
	}

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if err := r.Orders().SetShipmentCode(ctx, o.ID, shipment.OrderCode); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return NewHTTPError(http.StatusConflict, "shipment already created")
			}
			return orderRepoError(err)
		}
		o.ShipmentCode = shipment.OrderCode

		// 最新の版で遷移させる
		latest, err := r.Orders().FindByID(ctx, o.ID)
		if err != nil {
			return orderRepoError(err)
		}
		latest.Items = o.Items
		if latest.Status == model.OrderStatusConfirmed {
			if err := u.transitionWithin(ctx, r, &latest, model.OrderStatusProcessing, ""); err != nil {
				return err
			}
		}
		o = latest

		return writeAudit(ctx, r, actorAdminUserID, model.AuditActionCreateShipment, o.ID,
			map[string]any{"shipment_code": ""},
			map[string]any{"shipment_code": shipment.OrderCode, "total_fee": shipment.TotalFee},
			u.now())
	})
	if err != nil {
		// 業者側には作成済み。コードをログに残して手動で紐付ける
		logging.FromContext(ctx).Error("shipment created but not stored, manual reconciliation required",
			zap.String("order_number", o.OrderNumber),
			zap.String("shipment_code", shipment.OrderCode),
			zap.Error(err))
		return OrderOutput{}, err
	}
	return OrderOutput{Order: o}, nil
}

func shipmentRequest(o model.Order, in CreateShipmentInput) shipping.ShipmentRequest {
	items := make([]shipping.ShipmentItem, 0, len(o.Items))
	var qty int64
	for _, it := range o.Items {
		items = append(items, shipping.ShipmentItem{
			Name:     it.ProductNameSnapshot,
			Code:     strconv.FormatInt(it.ProductID, 10),
			Quantity: it.Quantity,
			Price:    model.EffectivePrice(it.PriceSnapshot, it.SalePriceSnapshot),
			Weight:   defaultItemWeight,
		})
		qty += it.Quantity
	}
	weight := in.Weight
	if weight == 0 {
		weight = qty * defaultItemWeight
	}

	// 代引きは未払い分だけ回収
	var cod int64
	if o.PaymentMethod == model.PaymentMethodCOD && o.PaymentStatus != model.PaymentStatusPaid {
		cod = o.Total
	}

	a := o.ShippingAddress
	addr := strings.Join(nonEmpty(a.Line, a.Ward, a.District, a.Province), ", ")
	return shipping.ShipmentRequest{
		ClientOrderCode: o.OrderNumber,
		ToName:          a.FullName,
		ToPhone:         a.Phone,
		ToAddress:       addr,
		ToWardCode:      a.WardCode,
		ToDistrictID:    a.DistrictID,
		CODAmount:       cod,
		InsuranceValue:  o.Subtotal,
		Weight:          weight,
		Length:          in.Length,
		Width:           in.Width,
		Height:          in.Height,
		Note:            in.Note,
		Items:           items,
	}
}

func nonEmpty(parts ...string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// PrintLabel は配送伝票の印刷URLを返す
func (u *AdminOrderUsecase) PrintLabel(ctx context.Context, orderID int64) (shipping.Label, error) {
	if orderID <= 0 {
		return shipping.Label{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var code string
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if err != nil {
			return orderRepoError(err)
		}
		code = o.ShipmentCode
		return nil
	})
	if err != nil {
		return shipping.Label{}, err
	}
	if code == "" {
		return shipping.Label{}, NewHTTPError(http.StatusBadRequest, "order has no shipment")
	}

	label, err := u.carrier.PrintLabel(ctx, code)
	if err != nil {
		logging.FromContext(ctx).Error("print label failed", zap.String("shipment_code", code), zap.Error(err))
		return shipping.Label{}, ErrCarrierFailed
	}
	return label, nil
}

// ApplyShipmentStatus は配送業者側の状態へ注文を進める。
// 途中の状態は遷移表に沿って1歩ずつ通る。変更があればtrue。
func (u *AdminOrderUsecase) ApplyShipmentStatus(ctx context.Context, orderID int64, target model.OrderStatus) (bool, error) {
	var (
		changed    bool
		cancelled  bool
		walletPaid bool
		out        model.Order
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if err != nil {
			return orderRepoError(err)
		}
		if o.Status == target {
			return nil
		}
		// 終了済みの注文に業者側の状態は反映しない
		if o.Status.IsTerminal() {
			logging.FromContext(ctx).Info("carrier status ignored for finished order",
				zap.String("order_number", o.OrderNumber),
				zap.String("status", string(o.Status)),
				zap.String("carrier_status", string(target)))
			return nil
		}
		path := model.ForwardPath(o.Status, target)
		if len(path) == 0 {
			return transitionError(&model.TransitionError{From: o.Status, To: target})
		}

		walletPaid = o.IsWalletPaid()
		for _, next := range path {
			if err := u.transitionWithin(ctx, r, &o, next, "carrier: "+strings.ToLower(string(target))); err != nil {
				return err
			}
		}
		changed = true
		cancelled = target == model.OrderStatusCancelled
		out = o
		return nil
	})
	if err != nil {
		return false, err
	}

	if cancelled {
		publishCancelled(ctx, u.events, out, walletPaid, out.CancelReason)
	}
	return changed, nil
}

type AuditTrailOutput struct {
	Items []model.AuditLog `json:"items"`
	Total int64            `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

// AuditTrail は注文に対する管理者操作の履歴（新しい順）
func (u *AdminOrderUsecase) AuditTrail(ctx context.Context, orderID int64, page int, limit int) (AuditTrailOutput, error) {
	if orderID <= 0 {
		return AuditTrailOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	page, limit = normalizePage(page, limit)

	out := AuditTrailOutput{Items: []model.AuditLog{}, Page: page, Limit: limit}
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Orders().FindByID(ctx, orderID); err != nil {
			return orderRepoError(err)
		}
		logs, total, err := r.AuditLogs().List(ctx, repo.AuditLogFilter{
			ResourceType: model.AuditResourceOrder,
			ResourceID:   orderID,
			Limit:        limit,
			Offset:       (page - 1) * limit,
		})
		if err != nil {
			return errDB()
		}
		if len(logs) > 0 {
			out.Items = logs
		}
		out.Total = total
		return nil
	})
	if err != nil {
		return AuditTrailOutput{}, err
	}
	return out, nil
}

func writeAudit(ctx context.Context, r repo.TxRepos, actor int64, action model.AuditAction, orderID int64, before, after map[string]any, now time.Time) error {
	entry, err := model.NewAuditLog(actor, action, model.AuditResourceOrder, orderID, before, after, now)
	if err != nil {
		return err
	}
	if err := r.AuditLogs().Create(ctx, entry); err != nil {
		return errDB()
	}
	return nil
}
