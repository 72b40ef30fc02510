package model

import (
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipping   OrderStatus = "SHIPPING"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

// 遷移表。ここに無い遷移はすべて拒否する。
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipping, OrderStatusCancelled},
	OrderStatusShipping:   {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:  {OrderStatusCompleted, OrderStatusRefunded},
	OrderStatusCompleted:  {OrderStatusRefunded},
}

// 正常系の進行順（ポーラーが途中の状態を補完するのに使う）
var forwardOrder = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipping,
	OrderStatusDelivered,
	OrderStatusCompleted,
}

func ParseOrderStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(s)
	switch st {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipping,
		OrderStatusDelivered, OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return st, true
	}
	return "", false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusRefunded
}

func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// 購入者がキャンセルできるのはPENDING/CONFIRMEDのみ
func (s OrderStatus) BuyerCancellable() bool {
	return s == OrderStatusPending || s == OrderStatusConfirmed
}

type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

// ForwardPath はfromからtoまで、遷移表で許可された一歩ずつの経路を返す。
// 経路が無ければnil。
func ForwardPath(from, to OrderStatus) []OrderStatus {
	if from == to {
		return nil
	}
	if from.CanTransition(to) {
		return []OrderStatus{to}
	}
	if to == OrderStatusCancelled || to == OrderStatusRefunded {
		return nil
	}

	start, end := -1, -1
	for i, s := range forwardOrder {
		if s == from {
			start = i
		}
		if s == to {
			end = i
		}
	}
	if start < 0 || end < 0 || end <= start {
		return nil
	}
	return append([]OrderStatus(nil), forwardOrder[start+1:end+1]...)
}

// Transition は遷移表を確認してステータスとタイムスタンプを更新する。
func (o *Order) Transition(to OrderStatus, now time.Time) error {
	if !o.Status.CanTransition(to) {
		return &TransitionError{From: o.Status, To: to}
	}
	o.Status = to

	t := now
	switch to {
	case OrderStatusConfirmed:
		o.ConfirmedAt = &t
	case OrderStatusShipping:
		o.ShippedAt = &t
	case OrderStatusDelivered:
		o.DeliveredAt = &t
	case OrderStatusCompleted:
		o.CompletedAt = &t
	case OrderStatusCancelled:
		o.CancelledAt = &t
	}
	return nil
}
