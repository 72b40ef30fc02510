package validator

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"ordercore/internal/domain/model"
	"ordercore/internal/usecase"
)

// ベトナムの電話番号（0 または +84 から始まる）
var phonePattern = regexp.MustCompile(`^(\+84|0)[0-9]{9,10}$`)

const (
	maxNoteLength = 500
	maxKeyLength  = 255
	// 1行あたりの上限
	maxQuantity = 1000
)

type orderValidator struct{}

// Usecaseは interface を依存注入
func NewOrderValidator() usecase.OrderValidator {
	return &orderValidator{}
}

// 注文作成の入力を検証
func (v *orderValidator) ValidateCreateOrder(in usecase.CreateOrderInput) error {
	for _, it := range in.Items {
		if it.ProductID <= 0 {
			return invalid("product_id")
		}
		if it.Quantity <= 0 || it.Quantity > maxQuantity {
			return invalid("quantity")
		}
	}

	if err := validateAddress(in.ShippingAddress); err != nil {
		return err
	}

	if len(strings.TrimSpace(in.Note)) > maxNoteLength {
		return invalid("note")
	}
	if len(strings.TrimSpace(in.IdempotencyKey)) > maxKeyLength {
		return invalid("idempotency_key")
	}

	// 戻り先URL（PayPal/ZaloPay）
	if in.ReturnURL != "" && !isHTTPURL(in.ReturnURL) {
		return invalid("return_url")
	}
	if in.CancelURL != "" && !isHTTPURL(in.CancelURL) {
		return invalid("cancel_url")
	}
	return nil
}

func validateAddress(a model.ShippingAddress) error {
	// 必須チェック
	if strings.TrimSpace(a.FullName) == "" {
		return invalid("shipping_address.full_name")
	}
	if strings.TrimSpace(a.Line) == "" {
		return invalid("shipping_address.line")
	}

	// 電話番号形式
	phone := strings.ReplaceAll(strings.TrimSpace(a.Phone), " ", "")
	if !phonePattern.MatchString(phone) {
		return invalid("shipping_address.phone")
	}

	if a.DistrictID < 0 {
		return invalid("shipping_address.district_id")
	}
	return nil
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func invalid(field string) error {
	return usecase.NewHTTPError(http.StatusBadRequest, "invalid "+field)
}
