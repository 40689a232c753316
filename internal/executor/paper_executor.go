package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crypto-rating-trader/internal/model"
	"crypto-rating-trader/internal/oco"
	"crypto-rating-trader/internal/service"

	"go.uber.org/zap"
)

// PaperExecutor 纸面执行器：维护虚拟余额，按参考价即时虚拟成交。
// 括号订单不真实挂出，由控制循环自己盯价触发。
type PaperExecutor struct {
	cfg    service.PaperConfig
	logger *zap.Logger

	mu       sync.Mutex // 保护账户状态
	balance  float64    // 虚拟余额 (计价货币，含已实现盈亏)
	orderSeq int64      // 虚拟订单号序列
}

func NewPaperExecutor(cfg service.PaperConfig, logger *zap.Logger) *PaperExecutor {
	return &PaperExecutor{
		cfg:     cfg,
		logger:  logger.With(zap.String("executor", "paper")),
		balance: cfg.InitialCapital,
	}
}

// Buy 虚拟买入：quoteAmount 里含手续费，净额按 refPrice 折算成数量
func (e *PaperExecutor) Buy(ctx context.Context, symbol string, quoteAmount, refPrice float64) (*Fill, error) {
	if refPrice <= 0 {
		return nil, fmt.Errorf("paper buy %s: no reference price", symbol)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if quoteAmount > e.balance {
		return nil, fmt.Errorf("paper buy %s: insufficient balance (need %.2f, have %.2f)",
			symbol, quoteAmount, e.balance)
	}

	fee := quoteAmount * e.cfg.FeeRate
	quantity := (quoteAmount - fee) / refPrice
	e.balance -= quoteAmount
	e.orderSeq++

	e.logger.Info("Paper ORDER FILLED (BUY)",
		zap.String("symbol", symbol),
		zap.Float64("qty", quantity),
		zap.Float64("price", refPrice),
		zap.Float64("fee", fee),
		zap.Float64("balance", e.balance))

	return &Fill{
		Symbol:   symbol,
		OrderID:  e.orderSeq,
		Price:    refPrice,
		Quantity: quantity,
		Fee:      fee,
		Time:     time.Now(),
	}, nil
}

// Sell 虚拟卖出：净回款入账
func (e *PaperExecutor) Sell(ctx context.Context, symbol string, quantity, refPrice float64) (*Fill, error) {
	if refPrice <= 0 {
		return nil, fmt.Errorf("paper sell %s: no reference price", symbol)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("paper sell %s: invalid quantity %.8f", symbol, quantity)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	proceeds := quantity * refPrice
	fee := proceeds * e.cfg.FeeRate
	e.balance += proceeds - fee
	e.orderSeq++

	e.logger.Info("Paper ORDER FILLED (SELL)",
		zap.String("symbol", symbol),
		zap.Float64("qty", quantity),
		zap.Float64("price", refPrice),
		zap.Float64("fee", fee),
		zap.Float64("balance", e.balance))

	return &Fill{
		Symbol:   symbol,
		OrderID:  e.orderSeq,
		Price:    refPrice,
		Quantity: quantity,
		Fee:      fee,
		Time:     time.Now(),
	}, nil
}

// PlaceBracket 纸面模式没有真实挂单，返回虚拟订单引用供生命周期追踪
func (e *PaperExecutor) PlaceBracket(ctx context.Context, symbol string, quantity float64, prices oco.Prices) ([]model.OrderRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	refs := []model.OrderRef{
		{OrderID: e.nextSeqLocked(), Kind: model.OrderRefTakeProfit},
		{OrderID: e.nextSeqLocked(), Kind: model.OrderRefStopLoss},
	}
	e.logger.Info("Paper bracket registered",
		zap.String("symbol", symbol),
		zap.Float64("tp", prices.TakeProfit),
		zap.Float64("sl", prices.StopLoss))
	return refs, nil
}

// CancelOrder 纸面挂单撤销恒成功
func (e *PaperExecutor) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return nil
}

func (e *PaperExecutor) Balance(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance, nil
}

func (e *PaperExecutor) Mode() string { return "paper" }

func (e *PaperExecutor) nextSeqLocked() int64 {
	e.orderSeq++
	return e.orderSeq
}
