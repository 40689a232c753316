package model

import (
	"fmt"
	"time"
)

// SignalAction 定义了信号类型
type SignalAction string

const (
	SignalNone SignalAction = "NONE" // 无操作
	SignalBuy  SignalAction = "BUY"  // 移动平均 z-score 超过正阈值
	SignalSell SignalAction = "SELL" // 移动平均 z-score 跌破负阈值
)

// Signal 结构体定义了策略层向控制循环发出的具体指令
type Signal struct {
	Symbol     string
	Timestamp  time.Time    // 信号生成时间
	Action     SignalAction // BUY / SELL / NONE
	Rating     float64      // 基础资产的当前评分
	RawZ       float64      // 当前区间的原始 z-score
	MovingAvgZ float64      // 移动平均 z-score (实际触发信号的值)
	Threshold  float64      // 该交易对配置的触发阈值
	Reason     string       // 信号生成的文字描述
}

func (s Signal) String() string {
	return fmt.Sprintf("SIGNAL [%s | %s] rating=%.1f z=%.3f maZ=%.3f (threshold %.2f) | %s",
		s.Action, s.Symbol, s.Rating, s.RawZ, s.MovingAvgZ, s.Threshold, s.Reason)
}

// TradingParameterSet 每个交易对的策略参数，未配置的字段回落到全局默认值
type TradingParameterSet struct {
	Symbol            string
	BaseAsset         string
	QuoteAsset        string
	ZScoreThreshold   float64 // 信号触发阈值 (z-score 绝对值)
	MovingAverages    int     // 移动平均 z-score 的窗口长度 (区间数)
	ProfitPercent     float64 // 止盈百分比
	StopLossPercent   float64 // 止损百分比
	AllocationPercent float64 // 单仓位占可用余额的百分比
	Enabled           bool
}

// OrderRefKind 区分同一仓位关联的不同订单
type OrderRefKind string

const (
	OrderRefEntry      OrderRefKind = "ENTRY"
	OrderRefTakeProfit OrderRefKind = "TAKE_PROFIT"
	OrderRefStopLoss   OrderRefKind = "STOP_LOSS"
	OrderRefExit       OrderRefKind = "EXIT"
)

// OrderRef 仓位关联的交易所订单引用
type OrderRef struct {
	OrderID int64
	Kind    OrderRefKind
}

// Position 一个已进场仓位；离场 (止盈/止损/反转/紧急) 时销毁
type Position struct {
	Symbol          string
	EntryPrice      float64
	Quantity        float64 // 开仓数量 (基础币计)
	RemainingQty    float64 // 未平仓数量；双重离场对账依赖该字段而非假设一次成交
	EntryTime       time.Time
	TakeProfitPrice float64
	StopLossPrice   float64
	StopLimitPrice  float64
	UnrealizedPnL   float64
	OrderRefs       []OrderRef
	Parameters      TradingParameterSet
}

// TradeRecord 记录一次完整的开仓和平仓交易
type TradeRecord struct {
	Symbol        string
	EntryTime     time.Time
	ExitTime      time.Time
	EntryPrice    float64
	ExitPrice     float64
	Quantity      float64
	RealizedPnL   float64 // 已实现盈亏 (未扣手续费)
	Fee           float64 // 总手续费 (开仓 + 平仓)
	TriggerReason string  // 平仓原因: "TAKE_PROFIT", "STOP_LOSS", "REVERSAL", "EMERGENCY"
}
