package executor

import (
	"context"
	"time"

	"crypto-rating-trader/internal/model"
	"crypto-rating-trader/internal/oco"
)

// Fill 一次成交结果
type Fill struct {
	Symbol   string
	OrderID  int64
	Price    float64
	Quantity float64 // 成交数量 (基础币计)
	Fee      float64 // 本次成交的手续费 (计价货币计)
	Time     time.Time
}

// Executor 是交易执行器的通用接口。
// 纸面和实盘共用完全相同的控制与风控逻辑，差异只在这里。
type Executor interface {
	// Buy 按计价货币金额市价买入。refPrice 供纸面模式定价，实盘忽略。
	Buy(ctx context.Context, symbol string, quoteAmount, refPrice float64) (*Fill, error)

	// Sell 按基础币数量市价卖出
	Sell(ctx context.Context, symbol string, quantity, refPrice float64) (*Fill, error)

	// PlaceBracket 为持仓挂一组 OCO 括号订单 (止盈 + 止损)
	PlaceBracket(ctx context.Context, symbol string, quantity float64, prices oco.Prices) ([]model.OrderRef, error)

	// CancelOrder 撤销一张挂单；订单已成交或不存在时允许返回错误，由调用方容忍
	CancelOrder(ctx context.Context, symbol string, orderID int64) error

	// Balance 当前可用余额 (计价货币)
	Balance(ctx context.Context) (float64, error)

	// Mode 执行模式标识: "paper" 或 "live"
	Mode() string
}
