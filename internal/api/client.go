package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"crypto-rating-trader/internal/model"
	"crypto-rating-trader/internal/service"

	"go.uber.org/zap"
)

// OrderResult 交易所返回的订单视图
type OrderResult struct {
	OrderID     int64
	Symbol      string
	Side        string
	Price       float64 // 实际成交均价 (市价单) 或挂单价
	ExecutedQty float64
	Status      string
}

// ExchangeAPI 交易所协作方接口。所有调用都可能失败，调用方负责隔离和降级。
type ExchangeAPI interface {
	GetKlines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]model.KLine, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	// GetAccountInfo 返回 资产 -> 可用余额
	GetAccountInfo(ctx context.Context) (map[string]float64, error)
	// PlaceOrder 市价单；BUY 按 quoteAmount (计价货币金额)，SELL 按 quantity (基础币数量)
	PlaceOrder(ctx context.Context, symbol, side string, quantity, quoteAmount float64) (*OrderResult, error)
	PlaceOcoOrder(ctx context.Context, symbol, side string, quantity, takeProfit, stopLoss, stopLimit float64) ([]OrderResult, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderResult, error)
}

// RESTClient 对交易所 REST API 的最小封装
type RESTClient struct {
	baseURL   string
	apiKey    string
	secretKey string
	http      *http.Client
	logger    *zap.Logger
}

func NewRESTClient(cfg service.ExchangeConfig, logger *zap.Logger) *RESTClient {
	return &RESTClient{
		baseURL:   cfg.RESTURL,
		apiKey:    cfg.APIKey,
		secretKey: cfg.SecretKey,
		http:      &http.Client{Timeout: 15 * time.Second},
		logger:    logger.With(zap.String("component", "rest")),
	}
}

// GetKlines 拉取已完成 K 线；交易所返回的最后一根可能未收盘，由调用方截取
func (c *RESTClient) GetKlines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]model.KLine, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if !start.IsZero() {
		params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.do(ctx, http.MethodGet, "/api/v3/klines", params, false)
	if err != nil {
		return nil, err
	}

	// K 线以定长数组返回: [openTime, open, high, low, close, volume, closeTime, _, _, takerBuyVolume, ...]
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	klines := make([]model.KLine, 0, len(rows))
	for _, row := range rows {
		if len(row) < 10 {
			continue
		}
		k := model.KLine{Symbol: symbol, Interval: interval}
		var openTime, closeTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			continue
		}
		if err := json.Unmarshal(row[6], &closeTime); err != nil {
			continue
		}
		k.OpenTime = time.UnixMilli(openTime)
		k.CloseTime = time.UnixMilli(closeTime)

		fields := []struct {
			idx int
			dst *float64
		}{
			{1, &k.Open}, {2, &k.High}, {3, &k.Low}, {4, &k.Close},
			{5, &k.Volume}, {9, &k.TakerBuyVolume},
		}
		valid := true
		for _, f := range fields {
			var s string
			if err := json.Unmarshal(row[f.idx], &s); err != nil {
				valid = false
				break
			}
			v, err := service.StringToFloat(s)
			if err != nil {
				valid = false
				break
			}
			*f.dst = v
		}
		if !valid {
			continue
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func (c *RESTClient) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.do(ctx, http.MethodGet, "/api/v3/ticker/price", params, false)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode ticker price: %w", err)
	}
	return service.StringToFloat(resp.Price)
}

func (c *RESTClient) GetAccountInfo(ctx context.Context) (map[string]float64, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v3/account", url.Values{}, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode account info: %w", err)
	}

	balances := make(map[string]float64, len(resp.Balances))
	for _, b := range resp.Balances {
		free, err := service.StringToFloat(b.Free)
		if err != nil {
			continue
		}
		balances[b.Asset] = free
	}
	return balances, nil
}

func (c *RESTClient) PlaceOrder(ctx context.Context, symbol, side string, quantity, quoteAmount float64) (*OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	if quantity > 0 {
		params.Set("quantity", formatQty(quantity))
	} else {
		params.Set("quoteOrderQty", formatQty(quoteAmount))
	}

	body, err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return nil, err
	}
	return decodeOrder(body)
}

func (c *RESTClient) PlaceOcoOrder(ctx context.Context, symbol, side string, quantity, takeProfit, stopLoss, stopLimit float64) ([]OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("quantity", formatQty(quantity))
	params.Set("price", formatQty(takeProfit))
	params.Set("stopPrice", formatQty(stopLoss))
	params.Set("stopLimitPrice", formatQty(stopLimit))
	params.Set("stopLimitTimeInForce", "GTC")

	body, err := c.do(ctx, http.MethodPost, "/api/v3/order/oco", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		OrderReports []orderPayload `json:"orderReports"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode oco response: %w", err)
	}

	orders := make([]OrderResult, 0, len(resp.OrderReports))
	for _, p := range resp.OrderReports {
		orders = append(orders, p.toResult())
	}
	return orders, nil
}

func (c *RESTClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	_, err := c.do(ctx, http.MethodDelete, "/api/v3/order", params, true)
	return err
}

func (c *RESTClient) GetOpenOrders(ctx context.Context, symbol string) ([]OrderResult, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	body, err := c.do(ctx, http.MethodGet, "/api/v3/openOrders", params, true)
	if err != nil {
		return nil, err
	}

	var payloads []orderPayload
	if err := json.Unmarshal(body, &payloads); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}

	orders := make([]OrderResult, 0, len(payloads))
	for _, p := range payloads {
		orders = append(orders, p.toResult())
	}
	return orders, nil
}

// do 发起一次 REST 调用；signed 为真时追加时间戳并做 HMAC-SHA256 签名
func (c *RESTClient) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		mac := hmac.New(sha256.New, []byte(c.secretKey))
		mac.Write([]byte(params.Encode()))
		params.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// orderPayload 订单响应的公共字段
type orderPayload struct {
	OrderID      int64  `json:"orderId"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	ExecutedQty  string `json:"executedQty"`
	CumQuoteQty  string `json:"cummulativeQuoteQty"`
	Status       string `json:"status"`
}

func (p orderPayload) toResult() OrderResult {
	r := OrderResult{
		OrderID: p.OrderID,
		Symbol:  p.Symbol,
		Side:    p.Side,
		Status:  p.Status,
	}
	r.ExecutedQty, _ = service.StringToFloat(p.ExecutedQty)
	r.Price, _ = service.StringToFloat(p.Price)

	// 市价单的价格字段为 0，用成交金额/成交量还原均价
	if r.Price == 0 && r.ExecutedQty > 0 {
		if quote, err := service.StringToFloat(p.CumQuoteQty); err == nil && quote > 0 {
			r.Price = quote / r.ExecutedQty
		}
	}
	return r
}

func decodeOrder(body []byte) (*OrderResult, error) {
	var p orderPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	r := p.toResult()
	return &r, nil
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
