package event

import (
	"sync"
	"time"
)

// Type 事件类型
type Type string

const (
	TypeStarted           Type = "started"
	TypeStopped           Type = "stopped"
	TypeSignalsChecked    Type = "signalsChecked"
	TypeSignalProcessed   Type = "signalProcessed"
	TypeLiveTradeExecuted Type = "liveTradeExecuted"
	TypePaperTrade        Type = "paperTrade"
	TypeZScoreCalculated  Type = "zScoreCalculated"
	TypeZScoreReversal    Type = "zScoreReversal"
	TypeRiskLimitHit      Type = "riskLimitHit"
	TypeEmergencyStop     Type = "emergencyStop"
	TypeTradingError      Type = "tradingError"
)

// Event 核心向外发布的事件；日志和持久化消费方订阅即可，核心不依赖其具体类型
type Event struct {
	Type    Type
	Time    time.Time
	Symbol  string // 可为空 (引擎级事件)
	Payload any    // 类型化负载，见下方各 Payload 结构
}

// SignalsCheckedPayload 每个周期信号汇总
type SignalsCheckedPayload struct {
	TotalSignals  int
	StrongSignals int
}

// SignalProcessedPayload 单个信号被控制循环处理完毕
type SignalProcessedPayload struct {
	Action     string
	MovingAvgZ float64
	Executed   bool
	Reason     string
}

// TradeExecutedPayload liveTradeExecuted / paperTrade 的负载
type TradeExecutedPayload struct {
	Side     string
	Price    float64
	Quantity float64
	OrderID  int64
	Trigger  string
}

// ZScorePayload zScoreCalculated 的负载 (按资产)
type ZScorePayload struct {
	Raw        float64
	MovingAvg  float64
	Rating     float64
}

// RiskLimitHitPayload 触发的风控种类: "daily_loss", "drawdown"
type RiskLimitHitPayload struct {
	Kind string
}

// TradingErrorPayload 被隔离到单个交易对的错误
type TradingErrorPayload struct {
	Stage string
	Err   string
}

// Handler 事件回调；在发布方的 goroutine 内同步执行，不得阻塞
type Handler func(Event)

// Bus 显式的回调注册表，替代散落各处的 ad hoc 事件发布
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe 注册一个消费方回调
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish 同步分发事件给所有消费方；Time 为零值时补当前时间
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
