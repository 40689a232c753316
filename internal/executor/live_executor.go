package executor

import (
	"context"
	"fmt"
	"time"

	"crypto-rating-trader/internal/api"
	"crypto-rating-trader/internal/model"
	"crypto-rating-trader/internal/oco"

	"go.uber.org/zap"
)

// LiveExecutor 把执行请求转发给真实交易所。
// 不在本地追踪仓位：仓位生命周期由控制循环持有，这里只管下单。
type LiveExecutor struct {
	client     api.ExchangeAPI
	quoteAsset string // 余额查询用的计价货币，例如 "USDT"
	logger     *zap.Logger
}

func NewLiveExecutor(client api.ExchangeAPI, quoteAsset string, logger *zap.Logger) *LiveExecutor {
	return &LiveExecutor{
		client:     client,
		quoteAsset: quoteAsset,
		logger:     logger.With(zap.String("executor", "live")),
	}
}

// Buy 市价买入；refPrice 仅供纸面模式，实盘以交易所回报的成交均价为准
func (e *LiveExecutor) Buy(ctx context.Context, symbol string, quoteAmount, refPrice float64) (*Fill, error) {
	order, err := e.client.PlaceOrder(ctx, symbol, "BUY", 0, quoteAmount)
	if err != nil {
		return nil, fmt.Errorf("live buy %s: %w", symbol, err)
	}
	if order.ExecutedQty <= 0 || order.Price <= 0 {
		return nil, fmt.Errorf("live buy %s: order %d not filled (status %s)",
			symbol, order.OrderID, order.Status)
	}

	e.logger.Info("Live ORDER FILLED (BUY)",
		zap.String("symbol", symbol),
		zap.Int64("orderId", order.OrderID),
		zap.Float64("qty", order.ExecutedQty),
		zap.Float64("price", order.Price))

	return &Fill{
		Symbol:   symbol,
		OrderID:  order.OrderID,
		Price:    order.Price,
		Quantity: order.ExecutedQty,
		Time:     time.Now(),
	}, nil
}

func (e *LiveExecutor) Sell(ctx context.Context, symbol string, quantity, refPrice float64) (*Fill, error) {
	order, err := e.client.PlaceOrder(ctx, symbol, "SELL", quantity, 0)
	if err != nil {
		return nil, fmt.Errorf("live sell %s: %w", symbol, err)
	}
	if order.ExecutedQty <= 0 || order.Price <= 0 {
		return nil, fmt.Errorf("live sell %s: order %d not filled (status %s)",
			symbol, order.OrderID, order.Status)
	}

	e.logger.Info("Live ORDER FILLED (SELL)",
		zap.String("symbol", symbol),
		zap.Int64("orderId", order.OrderID),
		zap.Float64("qty", order.ExecutedQty),
		zap.Float64("price", order.Price))

	return &Fill{
		Symbol:   symbol,
		OrderID:  order.OrderID,
		Price:    order.Price,
		Quantity: order.ExecutedQty,
		Time:     time.Now(),
	}, nil
}

// PlaceBracket 挂出真实 OCO 订单对
func (e *LiveExecutor) PlaceBracket(ctx context.Context, symbol string, quantity float64, prices oco.Prices) ([]model.OrderRef, error) {
	orders, err := e.client.PlaceOcoOrder(ctx, symbol, "SELL", quantity,
		prices.TakeProfit, prices.StopLoss, prices.StopLimit)
	if err != nil {
		return nil, fmt.Errorf("live bracket %s: %w", symbol, err)
	}

	refs := make([]model.OrderRef, 0, len(orders))
	for i, order := range orders {
		kind := model.OrderRefTakeProfit
		if i > 0 {
			kind = model.OrderRefStopLoss
		}
		refs = append(refs, model.OrderRef{OrderID: order.OrderID, Kind: kind})
	}

	e.logger.Info("Live bracket placed",
		zap.String("symbol", symbol),
		zap.Float64("tp", prices.TakeProfit),
		zap.Float64("sl", prices.StopLoss),
		zap.Int("orders", len(refs)))
	return refs, nil
}

func (e *LiveExecutor) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return e.client.CancelOrder(ctx, symbol, orderID)
}

// Balance 交易所报告的计价货币可用余额
func (e *LiveExecutor) Balance(ctx context.Context) (float64, error) {
	balances, err := e.client.GetAccountInfo(ctx)
	if err != nil {
		return 0, err
	}
	return balances[e.quoteAsset], nil
}

func (e *LiveExecutor) Mode() string { return "live" }
