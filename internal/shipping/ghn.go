package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ordercore/internal/pkg/outbound"
	"ordercore/internal/settings"
)

var (
	ErrCarrier       = errors.New("shipping carrier error")
	ErrNotConfigured = errors.New("shipping carrier not configured")
)

const provider = "ghn"

type SettingsProvider interface {
	Current() (settings.Snapshot, error)
}

// Client はGHN形式の配送API。認証はToken + ShopIdヘッダ。
type Client struct {
	settings SettingsProvider
	http     *outbound.Client
}

func NewClient(sp SettingsProvider, hc *outbound.Client) *Client {
	return &Client{settings: sp, http: hc}
}

type Province struct {
	ProvinceID   int64  `json:"ProvinceID"`
	ProvinceName string `json:"ProvinceName"`
}

type District struct {
	DistrictID   int64  `json:"DistrictID"`
	ProvinceID   int64  `json:"ProvinceID"`
	DistrictName string `json:"DistrictName"`
}

type Ward struct {
	WardCode   string `json:"WardCode"`
	DistrictID int64  `json:"DistrictID"`
	WardName   string `json:"WardName"`
}

type ShipmentItem struct {
	Name     string `json:"name"`
	Code     string `json:"code,omitempty"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
	Weight   int64  `json:"weight"`
}

type ShipmentRequest struct {
	ClientOrderCode string         `json:"client_order_code"`
	ToName          string         `json:"to_name"`
	ToPhone         string         `json:"to_phone"`
	ToAddress       string         `json:"to_address"`
	ToWardCode      string         `json:"to_ward_code"`
	ToDistrictID    int64          `json:"to_district_id"`
	CODAmount       int64          `json:"cod_amount"`
	InsuranceValue  int64          `json:"insurance_value"`
	Weight          int64          `json:"weight"`
	Length          int64          `json:"length"`
	Width           int64          `json:"width"`
	Height          int64          `json:"height"`
	ServiceTypeID   int64          `json:"service_type_id"`
	PaymentTypeID   int64          `json:"payment_type_id"`
	RequiredNote    string         `json:"required_note"`
	Note            string         `json:"note,omitempty"`
	Items           []ShipmentItem `json:"items"`
}

type Shipment struct {
	OrderCode            string    `json:"order_code"`
	TotalFee             int64     `json:"total_fee"`
	ExpectedDeliveryTime time.Time `json:"expected_delivery_time"`
}

type StatusLog struct {
	Status      string    `json:"status"`
	UpdatedDate time.Time `json:"updated_date"`
}

type ShipmentDetail struct {
	OrderCode       string      `json:"order_code"`
	ClientOrderCode string      `json:"client_order_code"`
	Status          string      `json:"status"`
	UpdatedDate     time.Time   `json:"updated_date"`
	Log             []StatusLog `json:"log"`
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) call(ctx context.Context, op, method, path string, in any, out any) error {
	snap, err := c.settings.Current()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	cfg := snap.GHN
	if !cfg.Configured() {
		return ErrNotConfigured
	}

	var buf bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCarrier, op, err)
		}
	}
	req, err := http.NewRequest(method, cfg.BaseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCarrier, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Token", cfg.Token)
	req.Header.Set("ShopId", strconv.FormatInt(cfg.ShopID, 10))

	body, err := c.http.Do(ctx, provider, op, req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCarrier, op, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: %s decode: %v", ErrCarrier, op, err)
	}
	if env.Code != http.StatusOK {
		return fmt.Errorf("%w: %s: code=%d %s", ErrCarrier, op, env.Code, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: %s decode: %v", ErrCarrier, op, err)
		}
	}
	return nil
}

func (c *Client) Provinces(ctx context.Context) ([]Province, error) {
	var out []Province
	if err := c.call(ctx, "provinces", http.MethodGet, "/master-data/province", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Districts(ctx context.Context, provinceID int64) ([]District, error) {
	var out []District
	in := map[string]int64{"province_id": provinceID}
	if err := c.call(ctx, "districts", http.MethodPost, "/master-data/district", in, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Wards(ctx context.Context, districtID int64) ([]Ward, error) {
	var out []Ward
	in := map[string]int64{"district_id": districtID}
	if err := c.call(ctx, "wards", http.MethodPost, "/master-data/ward", in, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateShipment(ctx context.Context, req ShipmentRequest) (Shipment, error) {
	if req.ServiceTypeID == 0 {
		req.ServiceTypeID = 2
	}
	if req.PaymentTypeID == 0 {
		req.PaymentTypeID = 1
	}
	if req.RequiredNote == "" {
		req.RequiredNote = "KHONGCHOXEMHANG"
	}
	var out Shipment
	if err := c.call(ctx, "create", http.MethodPost, "/v2/shipping-order/create", req, &out); err != nil {
		return Shipment{}, err
	}
	if out.OrderCode == "" {
		return Shipment{}, fmt.Errorf("%w: create: empty order code", ErrCarrier)
	}
	return out, nil
}

func (c *Client) Detail(ctx context.Context, orderCode string) (ShipmentDetail, error) {
	var out ShipmentDetail
	in := map[string]string{"order_code": orderCode}
	if err := c.call(ctx, "detail", http.MethodPost, "/v2/shipping-order/detail", in, &out); err != nil {
		return ShipmentDetail{}, err
	}
	return out, nil
}

func (c *Client) DetailByClientCode(ctx context.Context, clientOrderCode string) (ShipmentDetail, error) {
	var out ShipmentDetail
	in := map[string]string{"client_order_code": clientOrderCode}
	if err := c.call(ctx, "detail_by_client_code", http.MethodPost, "/v2/shipping-order/detail-by-client-code", in, &out); err != nil {
		return ShipmentDetail{}, err
	}
	return out, nil
}

type Label struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// PrintLabel は印刷トークンとA5伝票のURLを返す
func (c *Client) PrintLabel(ctx context.Context, orderCodes ...string) (Label, error) {
	tok, err := c.PrintToken(ctx, orderCodes...)
	if err != nil {
		return Label{}, err
	}
	snap, err := c.settings.Current()
	if err != nil {
		return Label{}, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	return Label{Token: tok, URL: printURL(snap.GHN.BaseURL, tok)}, nil
}

// https://<host>/shiip/public-api → https://<host>/a5/public-api/printA5?token=
func printURL(baseURL, token string) string {
	host := strings.TrimSuffix(baseURL, "/shiip/public-api")
	return host + "/a5/public-api/printA5?token=" + url.QueryEscape(token)
}

// PrintToken は伝票印刷用のトークン
func (c *Client) PrintToken(ctx context.Context, orderCodes ...string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	in := map[string][]string{"order_codes": orderCodes}
	if err := c.call(ctx, "print_token", http.MethodPost, "/v2/a5/gen-token", in, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("%w: print_token: empty token", ErrCarrier)
	}
	return out.Token, nil
}
