package usecase

import (
	"context"

	"ordercore/internal/domain/model"
	"ordercore/internal/payment"
	"ordercore/internal/shipping"
)

// 各usecaseが使う外部の能力。実装はmainで組み立てて渡す。

type GatewayRegistry interface {
	Get(code model.PaymentMethodCode) (payment.Gateway, error)
}

type Carrier interface {
	CreateShipment(ctx context.Context, req shipping.ShipmentRequest) (shipping.Shipment, error)
	Detail(ctx context.Context, orderCode string) (shipping.ShipmentDetail, error)
	DetailByClientCode(ctx context.Context, clientOrderCode string) (shipping.ShipmentDetail, error)
	PrintLabel(ctx context.Context, orderCodes ...string) (shipping.Label, error)
}

type PricingPolicy interface {
	ShippingFeeFor(subtotal int64) int64
}

// 入力の形式チェック（実装はvalidatorパッケージ）
type OrderValidator interface {
	ValidateCreateOrder(in CreateOrderInput) error
}
