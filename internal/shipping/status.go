package shipping

import (
	"strings"

	"ordercore/internal/domain/model"
)

// 配送業者のステータス → 注文ステータス
var carrierStatusMap = map[string]model.OrderStatus{
	"ready_to_pick":         model.OrderStatusProcessing,
	"picking":               model.OrderStatusProcessing,
	"money_collect_picking": model.OrderStatusProcessing,
	"picked":                model.OrderStatusProcessing,
	"storing":               model.OrderStatusProcessing,

	"transporting":             model.OrderStatusShipping,
	"sorting":                  model.OrderStatusShipping,
	"delivering":               model.OrderStatusShipping,
	"money_collect_delivering": model.OrderStatusShipping,

	"delivered": model.OrderStatusDelivered,

	"delivery_fail":       model.OrderStatusCancelled,
	"waiting_to_return":   model.OrderStatusCancelled,
	"return":              model.OrderStatusCancelled,
	"return_transporting": model.OrderStatusCancelled,
	"return_sorting":      model.OrderStatusCancelled,
	"returning":           model.OrderStatusCancelled,
	"return_fail":         model.OrderStatusCancelled,
	"returned":            model.OrderStatusCancelled,
	"cancel":              model.OrderStatusCancelled,
	"exception":           model.OrderStatusCancelled,
	"lost":                model.OrderStatusCancelled,
	"damage":              model.OrderStatusCancelled,
}

// MapStatus は未知のステータスならfalse（注文は変更しない）
func MapStatus(carrierStatus string) (model.OrderStatus, bool) {
	st, ok := carrierStatusMap[strings.ToLower(strings.TrimSpace(carrierStatus))]
	return st, ok
}
