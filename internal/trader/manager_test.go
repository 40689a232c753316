package trader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crypto-rating-trader/internal/allocation"
	"crypto-rating-trader/internal/api"
	"crypto-rating-trader/internal/event"
	"crypto-rating-trader/internal/executor"
	"crypto-rating-trader/internal/model"
	"crypto-rating-trader/internal/oco"
	"crypto-rating-trader/internal/rating"
	"crypto-rating-trader/internal/service"
	"crypto-rating-trader/internal/strategy"
	"crypto-rating-trader/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Prometheus 指标只能向默认注册表注册一次，所有测试共享同一个 Recorder
var testRecorder = metrics.New()

// fakeMarket 内存版交易所行情，按交易对返回预置数据
type fakeMarket struct {
	mu       sync.Mutex
	klines   map[string][]model.KLine
	prices   map[string]float64
	priceErr error
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		klines: make(map[string][]model.KLine),
		prices: make(map[string]float64),
	}
}

func (f *fakeMarket) setKline(symbol string, open, close, volume, takerBuy float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.klines[symbol] = []model.KLine{{
		Symbol:         symbol,
		Open:           open,
		High:           close,
		Low:            open,
		Close:          close,
		Volume:         volume,
		TakerBuyVolume: takerBuy,
		OpenTime:       now.Add(-2 * time.Hour),
		CloseTime:      now.Add(-time.Hour),
	}}
}

func (f *fakeMarket) GetKlines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]model.KLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.klines[symbol], nil
}

func (f *fakeMarket) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	return f.prices[symbol], nil
}

func (f *fakeMarket) GetAccountInfo(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func (f *fakeMarket) PlaceOrder(ctx context.Context, symbol, side string, quantity, quoteAmount float64) (*api.OrderResult, error) {
	return nil, errors.New("not supported in tests")
}

func (f *fakeMarket) PlaceOcoOrder(ctx context.Context, symbol, side string, quantity, takeProfit, stopLoss, stopLimit float64) ([]api.OrderResult, error) {
	return nil, errors.New("not supported in tests")
}

func (f *fakeMarket) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return nil
}

func (f *fakeMarket) GetOpenOrders(ctx context.Context, symbol string) ([]api.OrderResult, error) {
	return nil, nil
}

func testParameterSet(symbol, base string) model.TradingParameterSet {
	return model.TradingParameterSet{
		Symbol:            symbol,
		BaseAsset:         base,
		QuoteAsset:        "USDT",
		ZScoreThreshold:   1.0,
		MovingAverages:    1,
		ProfitPercent:     5.0,
		StopLossPercent:   2.0,
		AllocationPercent: 10.0,
		Enabled:           true,
	}
}

func newTestManager(t *testing.T, exec executor.Executor, market api.ExchangeAPI) *Manager {
	t.Helper()

	params := map[string]model.TradingParameterSet{
		"BTCUSDT": testParameterSet("BTCUSDT", "BTC"),
	}
	cfg := service.EngineConfig{
		Interval:     "1h",
		MaxPositions: 3,
		QuoteAsset:   "USDT",
		Risk:         service.RiskConfig{CooldownPeriod: time.Hour},
	}

	logger := zap.NewNop()
	engine := rating.NewEngine(rating.NewStore(), logger)
	signals := strategy.NewSignalGenerator(1, logger)
	alloc := allocation.NewManager(10, logger)

	m, err := New(cfg, params, engine, signals, alloc, exec, market,
		event.NewBus(), testRecorder, nil, logger)
	require.NoError(t, err)
	return m
}

func newPaperExec() *executor.PaperExecutor {
	return executor.NewPaperExecutor(
		service.PaperConfig{InitialCapital: 1000, FeeRate: 0.001}, zap.NewNop())
}

// 一个周期内走完 评分 → 信号 → 进场 的完整路径
func TestRunCycleOpensPosition(t *testing.T) {
	market := newFakeMarket()
	market.setKline("BTCUSDT", 100, 110, 1500, 1400) // 量价齐升，强胜
	market.prices["BTCUSDT"] = 110

	m := newTestManager(t, newPaperExec(), market)
	m.runCycle(context.Background())

	st := m.states["BTCUSDT"]
	require.Equal(t, StateOpen, st.state)
	require.NotNil(t, st.position)

	pos := st.position
	assert.Equal(t, 110.0, pos.EntryPrice)
	assert.InDelta(t, 110.0*1.05, pos.TakeProfitPrice, 1e-9)
	assert.InDelta(t, 110.0*0.98, pos.StopLossPrice, 1e-9)
	assert.Equal(t, pos.Quantity, pos.RemainingQty)
	// 开仓单 + 两张括号单引用
	assert.Len(t, pos.OrderRefs, 3)

	// 资金按 10% 预留并补记了订单号
	status := m.alloc.GetAllocationStatus()
	assert.InDelta(t, 100.0, status.TotalReserved, 1e-9)
	require.Len(t, status.Reservations, 1)
	assert.NotZero(t, status.Reservations[0].OrderID)
}

// 已有仓位时同向信号不加仓
func TestRunCycleNoPyramiding(t *testing.T) {
	market := newFakeMarket()
	market.setKline("BTCUSDT", 100, 110, 1500, 1400)
	market.prices["BTCUSDT"] = 110

	m := newTestManager(t, newPaperExec(), market)
	m.runCycle(context.Background())
	require.Equal(t, StateOpen, m.states["BTCUSDT"].state)
	firstEntry := m.states["BTCUSDT"].position.EntryTime

	m.runCycle(context.Background())
	assert.Equal(t, StateOpen, m.states["BTCUSDT"].state)
	assert.Equal(t, firstEntry, m.states["BTCUSDT"].position.EntryTime)
	assert.InDelta(t, 100.0, m.alloc.GetAllocationStatus().TotalReserved, 1e-9)
}

func TestTakeProfitExit(t *testing.T) {
	market := newFakeMarket()
	market.setKline("BTCUSDT", 100, 110, 1500, 1400)
	market.prices["BTCUSDT"] = 110

	m := newTestManager(t, newPaperExec(), market)
	ctx := context.Background()
	m.runCycle(ctx)
	require.Equal(t, StateOpen, m.states["BTCUSDT"].state)

	// 价格越过止盈线
	m.lastPrices["BTCUSDT"] = 116
	m.evaluateExits(ctx, strategy.Result{})

	st := m.states["BTCUSDT"]
	assert.Equal(t, StateFlat, st.state)
	assert.Nil(t, st.position)
	assert.Zero(t, m.alloc.GetAllocationStatus().TotalReserved)

	history := m.TradeHistory()
	require.Len(t, history, 1)
	assert.Equal(t, string(oco.TriggerTakeProfit), history[0].TriggerReason)
	assert.Greater(t, history[0].RealizedPnL, 0.0)
}

func TestStopLossExit(t *testing.T) {
	market := newFakeMarket()
	market.setKline("BTCUSDT", 100, 110, 1500, 1400)
	market.prices["BTCUSDT"] = 110

	m := newTestManager(t, newPaperExec(), market)
	ctx := context.Background()
	m.runCycle(ctx)
	require.Equal(t, StateOpen, m.states["BTCUSDT"].state)

	// 止损线 107.8
	m.lastPrices["BTCUSDT"] = 107
	m.evaluateExits(ctx, strategy.Result{})

	assert.Equal(t, StateFlat, m.states["BTCUSDT"].state)
	history := m.TradeHistory()
	require.Len(t, history, 1)
	assert.Equal(t, string(oco.TriggerStopLoss), history[0].TriggerReason)
	assert.Less(t, history[0].RealizedPnL, 0.0)
}

// 移动平均 z 反转时无条件离场，优先于括号条件
func TestReversalExit(t *testing.T) {
	market := newFakeMarket()
	market.setKline("BTCUSDT", 100, 110, 1500, 1400)
	market.prices["BTCUSDT"] = 110

	m := newTestManager(t, newPaperExec(), market)
	ctx := context.Background()
	m.runCycle(ctx)
	require.Equal(t, StateOpen, m.states["BTCUSDT"].state)

	// 价格仍在括号区间内，但 z 已反转到负阈值之下
	m.lastPrices["BTCUSDT"] = 111
	m.evaluateExits(ctx, strategy.Result{
		ZScores:    map[string]float64{"BTC": -1.5},
		MovingAvgZ: map[string]float64{"BTCUSDT": -1.5},
	})

	assert.Equal(t, StateFlat, m.states["BTCUSDT"].state)
	history := m.TradeHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "REVERSAL", history[0].TriggerReason)
}

// 进场失败释放预留并进入冷却，周期内不重试
func TestEntryFailureCooldown(t *testing.T) {
	market := newFakeMarket()
	market.priceErr = errors.New("price feed down")

	m := newTestManager(t, newPaperExec(), market)
	sig := model.Signal{Symbol: "BTCUSDT", Action: model.SignalBuy}

	err := m.tryEnter(context.Background(), sig)
	assert.Error(t, err)

	st := m.states["BTCUSDT"]
	assert.Equal(t, StateFlat, st.state)
	assert.True(t, st.inCooldown(time.Now()))
	assert.Zero(t, m.alloc.GetAllocationStatus().TotalReserved)

	// 冷却期内同一信号直接跳过，不报错也不动账
	require.NoError(t, m.tryEnter(context.Background(), sig))
	assert.Nil(t, st.position)
	assert.Zero(t, m.alloc.GetAllocationStatus().TotalReserved)
}

func TestMaxPositionsGate(t *testing.T) {
	market := newFakeMarket()
	market.prices["BTCUSDT"] = 110

	m := newTestManager(t, newPaperExec(), market)
	m.cfg.MaxPositions = 0

	require.NoError(t, m.tryEnter(context.Background(),
		model.Signal{Symbol: "BTCUSDT", Action: model.SignalBuy}))
	assert.Equal(t, StateFlat, m.states["BTCUSDT"].state)
	assert.Zero(t, m.alloc.GetAllocationStatus().TotalReserved)
}

// partialSellExec 卖出只成交一半，用于验证剩余数量对账
type partialSellExec struct {
	*executor.PaperExecutor
	sells int
}

func (e *partialSellExec) Sell(ctx context.Context, symbol string, quantity, refPrice float64) (*executor.Fill, error) {
	e.sells++
	if e.sells == 1 {
		return e.PaperExecutor.Sell(ctx, symbol, quantity/2, refPrice)
	}
	return e.PaperExecutor.Sell(ctx, symbol, quantity, refPrice)
}

func TestPartialExitRetriesNextCycle(t *testing.T) {
	market := newFakeMarket()
	exec := &partialSellExec{PaperExecutor: newPaperExec()}
	m := newTestManager(t, exec, market)
	ctx := context.Background()

	st := m.states["BTCUSDT"]
	st.state = StateOpen
	st.position = &model.Position{
		Symbol:          "BTCUSDT",
		EntryPrice:      100,
		Quantity:        1,
		RemainingQty:    1,
		EntryTime:       time.Now(),
		TakeProfitPrice: 105,
		StopLossPrice:   98,
		Parameters:      testParameterSet("BTCUSDT", "BTC"),
	}
	m.lastPrices["BTCUSDT"] = 106

	// 第一次只成交一半：仓位保持 CLOSING，不产生成交记录
	m.evaluateExits(ctx, strategy.Result{})
	assert.Equal(t, StateClosing, st.state)
	assert.InDelta(t, 0.5, st.position.RemainingQty, 1e-9)
	assert.Empty(t, m.TradeHistory())

	// 下个周期补偿平掉剩余数量
	m.evaluateExits(ctx, strategy.Result{})
	assert.Equal(t, StateFlat, st.state)
	assert.Nil(t, st.position)
	require.Len(t, m.TradeHistory(), 1)
	assert.Equal(t, "RETRY", m.TradeHistory()[0].TriggerReason)
}

func TestEmergencyStop(t *testing.T) {
	market := newFakeMarket()
	market.setKline("BTCUSDT", 100, 110, 1500, 1400)
	market.prices["BTCUSDT"] = 110

	m := newTestManager(t, newPaperExec(), market)
	ctx := context.Background()
	m.runCycle(ctx)
	require.Equal(t, StateOpen, m.states["BTCUSDT"].state)

	m.EmergencyStop(ctx)

	st := m.states["BTCUSDT"]
	assert.Equal(t, StateFlat, st.state)
	assert.Nil(t, st.position)
	assert.Zero(t, m.alloc.GetAllocationStatus().TotalReserved)
}

// 余额不可知时风控闸门保守关闭
func TestRiskGateClosedOnBalanceError(t *testing.T) {
	market := newFakeMarket()
	m := newTestManager(t, &failingBalanceExec{PaperExecutor: newPaperExec()}, market)

	assert.False(t, m.riskGatesPass(context.Background()))
}

type failingBalanceExec struct {
	*executor.PaperExecutor
}

func (e *failingBalanceExec) Balance(ctx context.Context) (float64, error) {
	return 0, errors.New("account endpoint unavailable")
}

func TestRiskGateDailyLoss(t *testing.T) {
	market := newFakeMarket()
	m := newTestManager(t, newPaperExec(), market)
	m.cfg.Risk.MaxDailyLoss = 50

	m.dayPnL = -10
	assert.True(t, m.riskGatesPass(context.Background()))

	m.dayPnL = -50
	assert.False(t, m.riskGatesPass(context.Background()))
}

func TestRiskGateDrawdown(t *testing.T) {
	market := newFakeMarket()
	m := newTestManager(t, newPaperExec(), market)
	m.cfg.Risk.MaxDrawdown = 0.15

	// 历史最高净值远高于当前余额 → 触发回撤闸门
	m.maxEquity = 2000
	assert.False(t, m.riskGatesPass(context.Background()))
}

// 价格流推送即时触发止盈，不等下一个周期
func TestHandleTickerTriggersBracket(t *testing.T) {
	market := newFakeMarket()
	market.setKline("BTCUSDT", 100, 110, 1500, 1400)
	market.prices["BTCUSDT"] = 110

	m := newTestManager(t, newPaperExec(), market)
	ctx := context.Background()
	m.runCycle(ctx)
	require.Equal(t, StateOpen, m.states["BTCUSDT"].state)

	m.handleTicker(ctx, model.Ticker{Symbol: "BTCUSDT", Price: 116})

	assert.Equal(t, StateFlat, m.states["BTCUSDT"].state)
	require.Len(t, m.TradeHistory(), 1)
	assert.Equal(t, string(oco.TriggerTakeProfit), m.TradeHistory()[0].TriggerReason)
}

func TestHandleTickerUpdatesPriceOnly(t *testing.T) {
	market := newFakeMarket()
	m := newTestManager(t, newPaperExec(), market)

	// 无仓位时只更新最新价
	m.handleTicker(context.Background(), model.Ticker{Symbol: "BTCUSDT", Price: 123.45})
	assert.Equal(t, 123.45, m.lastPrices["BTCUSDT"])
	assert.Equal(t, StateFlat, m.states["BTCUSDT"].state)
}

func TestNewRejectsBadInterval(t *testing.T) {
	market := newFakeMarket()
	logger := zap.NewNop()
	_, err := New(
		service.EngineConfig{Interval: "not-an-interval", MaxPositions: 1},
		map[string]model.TradingParameterSet{},
		rating.NewEngine(rating.NewStore(), logger),
		strategy.NewSignalGenerator(1, logger),
		allocation.NewManager(10, logger),
		newPaperExec(), market, event.NewBus(), testRecorder, nil, logger)
	assert.Error(t, err)
}
