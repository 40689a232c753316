// Package oco 提供括号订单 (take-profit / stop-loss) 的纯价格计算，不持有任何状态。
package oco

import "errors"

var (
	ErrInvalidEntryPrice = errors.New("entry price must be positive")
	ErrInvalidPercent    = errors.New("profit and stop-loss percents must be positive")
	ErrInvalidBracket    = errors.New("take-profit must exceed entry and stop-loss must be below entry")
)

// stopLimitBuffer 止损限价在止损触发价下方的固定缓冲 (0.1%)，提高真实市场的成交概率
const stopLimitBuffer = 0.001

// Prices 一组括号订单价格
type Prices struct {
	TakeProfit float64
	StopLoss   float64
	StopLimit  float64
}

// Trigger 括号条件的判定结果
type Trigger string

const (
	TriggerNone       Trigger = ""
	TriggerTakeProfit Trigger = "TAKE_PROFIT"
	TriggerStopLoss   Trigger = "STOP_LOSS"
)

// CalculatePrices 根据实际成交价计算括号价格：
// tp = entry·(1+profit/100)，sl = entry·(1-stop/100)，slLimit = entry·(1-stop/100-0.001)
func CalculatePrices(entryPrice, profitPercent, stopLossPercent float64) (Prices, error) {
	if entryPrice <= 0 {
		return Prices{}, ErrInvalidEntryPrice
	}
	if profitPercent <= 0 || stopLossPercent <= 0 {
		return Prices{}, ErrInvalidPercent
	}
	return Prices{
		TakeProfit: entryPrice * (1.0 + profitPercent/100.0),
		StopLoss:   entryPrice * (1.0 - stopLossPercent/100.0),
		StopLimit:  entryPrice * (1.0 - stopLossPercent/100.0 - stopLimitBuffer),
	}, nil
}

// CheckCondition 判定当前价格是否触发括号条件。
// 两个条件同时为真时止盈优先，保证判定确定性。
func CheckCondition(currentPrice, takeProfit, stopLoss float64) Trigger {
	if takeProfit > 0 && currentPrice >= takeProfit {
		return TriggerTakeProfit
	}
	if stopLoss > 0 && currentPrice <= stopLoss {
		return TriggerStopLoss
	}
	return TriggerNone
}

// ProfitLoss 计算已实现盈亏及其相对开仓金额的百分比
func ProfitLoss(entryPrice, exitPrice, quantity float64) (pnl, pnlPercent float64) {
	pnl = quantity * (exitPrice - entryPrice)
	if quantity > 0 && entryPrice > 0 {
		pnlPercent = pnl / (quantity * entryPrice) * 100.0
	}
	return pnl, pnlPercent
}

// ValidatePrices 校验括号价格关系：止盈必须高于入场价，止损必须低于入场价且为正
func ValidatePrices(entryPrice, takeProfit, stopLoss float64) error {
	if entryPrice <= 0 {
		return ErrInvalidEntryPrice
	}
	if takeProfit <= entryPrice || stopLoss >= entryPrice || stopLoss <= 0 {
		return ErrInvalidBracket
	}
	return nil
}
