package model

import "strings"

type PaymentMethodCode string

const (
	PaymentMethodCOD     PaymentMethodCode = "COD"
	PaymentMethodWallet  PaymentMethodCode = "WALLET"
	PaymentMethodZaloPay PaymentMethodCode = "ZALOPAY"
	PaymentMethodPayPal  PaymentMethodCode = "PAYPAL"
	PaymentMethodSePay   PaymentMethodCode = "SEPAY"
)

// PaymentMethod は支払い方法の直和型。
// 各バリアントはそのゲートウェイに必要な項目だけを持つ。
type PaymentMethod interface {
	Code() PaymentMethodCode
	isPaymentMethod()
}

type CODPayment struct{}

type WalletPayment struct{}

type ZaloPayPayment struct {
	//決済後に戻るURL（空ならデフォルト）
	RedirectURL string
}

type PayPalPayment struct {
	ReturnURL string
	CancelURL string
}

type SePayPayment struct{}

func (CODPayment) Code() PaymentMethodCode     { return PaymentMethodCOD }
func (WalletPayment) Code() PaymentMethodCode  { return PaymentMethodWallet }
func (ZaloPayPayment) Code() PaymentMethodCode { return PaymentMethodZaloPay }
func (PayPalPayment) Code() PaymentMethodCode  { return PaymentMethodPayPal }
func (SePayPayment) Code() PaymentMethodCode   { return PaymentMethodSePay }

func (CODPayment) isPaymentMethod()     {}
func (WalletPayment) isPaymentMethod()  {}
func (ZaloPayPayment) isPaymentMethod() {}
func (PayPalPayment) isPaymentMethod()  {}
func (SePayPayment) isPaymentMethod()   {}

// ParsePaymentMethod はリクエストの文字列をバリアントに変換する。
func ParsePaymentMethod(code string, returnURL string, cancelURL string) (PaymentMethod, bool) {
	switch PaymentMethodCode(strings.ToUpper(strings.TrimSpace(code))) {
	case PaymentMethodCOD:
		return CODPayment{}, true
	case PaymentMethodWallet:
		return WalletPayment{}, true
	case PaymentMethodZaloPay:
		return ZaloPayPayment{RedirectURL: returnURL}, true
	case PaymentMethodPayPal:
		return PayPalPayment{ReturnURL: returnURL, CancelURL: cancelURL}, true
	case PaymentMethodSePay:
		return SePayPayment{}, true
	}
	return nil, false
}

// 外部ゲートウェイ経由か
func IsGatewayMethod(m PaymentMethod) bool {
	switch m.(type) {
	case ZaloPayPayment, PayPalPayment, SePayPayment:
		return true
	}
	return false
}
