package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TopicOrderCreated    = "order.created"
	TopicOrderCancelled  = "order.cancelled"
	TopicUserRegistered  = "user.registered"
	TopicCategoryDeleted = "category.deleted"
	TopicBrandDeleted    = "brand.deleted"
)

// Event は全トピック共通の封筒。
// Keyは冪等キー（注文IDなど）で、ハンドラは同じKeyを何度受けても結果が変わらないこと。
type Event struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Topic, err)
	}
	return nil
}

func NewEvent(topic, key string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Topic:      topic,
		Key:        key,
		Payload:    raw,
		OccurredAt: time.Now().UTC(),
	}, nil
}

type Handler func(ctx context.Context, ev Event) error

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

type Subscriber interface {
	Subscribe(topic string, h Handler)
}

// Bus は起動・停止をworkerレジストリから制御される
type Bus interface {
	Publisher
	Subscriber
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type ItemQuantity struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type OrderCreated struct {
	OrderID       int64          `json:"order_id"`
	OrderNumber   string         `json:"order_number"`
	UserID        int64          `json:"user_id"`
	PaymentMethod string         `json:"payment_method"`
	Total         int64          `json:"total"`
	Items         []ItemQuantity `json:"items"`
}

type OrderCancelled struct {
	OrderID       int64  `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	UserID        int64  `json:"user_id"`
	PaymentMethod string `json:"payment_method"`
	// キャンセル前にウォレットで支払い済みだったか
	WalletPaid bool           `json:"wallet_paid"`
	Reason     string         `json:"reason"`
	Items      []ItemQuantity `json:"items"`
}

type UserRegistered struct {
	UserID int64 `json:"user_id"`
}

type CategoryDeleted struct {
	CategoryID int64 `json:"category_id"`
}

type BrandDeleted struct {
	BrandID int64 `json:"brand_id"`
}
