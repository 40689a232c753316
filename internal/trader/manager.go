package trader

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
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

	"go.uber.org/zap"
)

// qtyEpsilon 小于该数量的剩余仓位视为已全部平掉
const qtyEpsilon = 1e-9

// Manager 是固定周期的决策控制循环：
// 刷新评分 → 生成信号 → 先评估离场，再评估进场 (本周期释放的资金对进场可见)。
// 所有状态变更都发生在 Run 的单 goroutine 串行上下文里；
// 价格流推送通过通道移交进来，永远不会从外部直接改共享状态。
type Manager struct {
	cfg      service.EngineConfig
	interval time.Duration
	params   map[string]model.TradingParameterSet

	engine  *rating.Engine
	signals *strategy.SignalGenerator
	alloc   *allocation.Manager
	exec    executor.Executor
	market  api.ExchangeAPI
	bus     *event.Bus
	rec     *metrics.Recorder
	logger  *zap.Logger

	tickerCh <-chan model.Ticker // nil 表示无价格流 (仅按周期轮询)

	states     map[string]*symbolState
	lastPrices map[string]float64
	history    []model.TradeRecord
	maxEquity  float64
	dayStart   time.Time
	dayPnL     float64 // 当日已实现盈亏 (扣除手续费)
}

// New 构造控制循环。tickerCh 可以为 nil。
func New(
	cfg service.EngineConfig,
	params map[string]model.TradingParameterSet,
	engine *rating.Engine,
	signals *strategy.SignalGenerator,
	alloc *allocation.Manager,
	exec executor.Executor,
	market api.ExchangeAPI,
	bus *event.Bus,
	rec *metrics.Recorder,
	tickerCh <-chan model.Ticker,
	logger *zap.Logger,
) (*Manager, error) {
	interval, err := service.ParseIntervalDuration(cfg.Interval)
	if err != nil {
		return nil, fmt.Errorf("trader interval: %w", err)
	}

	states := make(map[string]*symbolState, len(params))
	for symbol := range params {
		states[symbol] = newSymbolState(symbol)
	}

	return &Manager{
		cfg:        cfg,
		interval:   interval,
		params:     params,
		engine:     engine,
		signals:    signals,
		alloc:      alloc,
		exec:       exec,
		market:     market,
		bus:        bus,
		rec:        rec,
		tickerCh:   tickerCh,
		logger:     logger.With(zap.String("component", "trader")),
		states:     states,
		lastPrices: make(map[string]float64),
		dayStart:   time.Now().UTC().Truncate(24 * time.Hour),
	}, nil
}

// Run 启动控制循环，阻塞到 ctx 取消。
// 下一个周期只在当前周期完成后排期，周期之间不重叠。
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("Control loop starting",
		zap.String("interval", m.cfg.Interval),
		zap.String("mode", m.exec.Mode()),
		zap.Int("symbols", len(m.params)))
	m.bus.Publish(event.Event{Type: event.TypeStarted})

	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.bus.Publish(event.Event{Type: event.TypeStopped})
			m.logger.Info("Control loop stopped")
			return nil

		case <-timer.C:
			m.runCycle(ctx)
			timer.Reset(m.interval)

		case ticker, ok := <-m.tickerCh:
			if !ok {
				m.tickerCh = nil // 流结束，退回纯轮询
				continue
			}
			m.handleTicker(ctx, ticker)
		}
	}
}

// runCycle 一个完整决策周期
func (m *Manager) runCycle(ctx context.Context) {
	now := time.Now()
	m.rolloverDay(now)

	// 1. 刷新整个监控池的评分
	observations := m.collectObservations(ctx)
	for _, obs := range observations {
		m.engine.ProcessObservation(obs)
	}
	m.engine.ApplyInterval(now)

	// 2. 横截面信号
	res := m.signals.Generate(now, m.engine.Snapshot(), m.params)
	m.publishZScores(res)

	m.bus.Publish(event.Event{
		Type: event.TypeSignalsChecked,
		Payload: event.SignalsCheckedPayload{
			TotalSignals:  len(res.MovingAvgZ),
			StrongSignals: len(res.Signals),
		},
	})
	for _, sig := range res.Signals {
		m.rec.RecordSignal(string(sig.Action))
	}

	// 3. 先离场后进场：离场释放的资金在同一周期内对进场可见
	m.evaluateExits(ctx, res)
	m.evaluateEntries(ctx, res)

	m.rec.RecordCycle()
	m.rec.SetOpenPositions(m.committedCount())
	m.rec.SetReservedFunds(m.alloc.GetAllocationStatus().TotalReserved)
}

// collectObservations 并发拉取各交易对最近一根已收盘 K 线，按交易对确定性合并。
// goroutine 只写入自己的结果槽位，任何共享状态的变更都等 join 之后在串行上下文完成。
func (m *Manager) collectObservations(ctx context.Context) []model.Observation {
	symbols := m.sortedSymbols()
	results := make([]*model.Observation, len(symbols))
	errs := make([]error, len(symbols))

	var wg sync.WaitGroup
	for i, symbol := range symbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			obs, err := m.fetchObservation(ctx, symbol)
			results[i], errs[i] = obs, err
		}(i, symbol)
	}
	wg.Wait()

	observations := make([]model.Observation, 0, len(symbols))
	for i, symbol := range symbols {
		if errs[i] != nil {
			// 单个交易对的行情失败不影响其余交易对
			m.logger.Warn("Failed to refresh observation",
				zap.String("symbol", symbol), zap.Error(errs[i]))
			m.rec.RecordError("observe")
			m.bus.Publish(event.Event{
				Type:    event.TypeTradingError,
				Symbol:  symbol,
				Payload: event.TradingErrorPayload{Stage: "observe", Err: errs[i].Error()},
			})
			continue
		}
		if results[i] != nil {
			observations = append(observations, *results[i])
		}
	}
	return observations
}

// fetchObservation 拉取并转换单个交易对的区间观测
func (m *Manager) fetchObservation(ctx context.Context, symbol string) (*model.Observation, error) {
	p := m.params[symbol]

	klines, err := m.market.GetKlines(ctx, symbol, m.cfg.Interval, time.Time{}, time.Time{}, 2)
	if err != nil {
		return nil, err
	}
	if len(klines) == 0 {
		return nil, nil
	}

	// 最后一根可能还在形成中，取最近一根已收盘的
	k := klines[len(klines)-1]
	if k.CloseTime.After(time.Now()) && len(klines) > 1 {
		k = klines[len(klines)-2]
	}

	// 非法价格不在这里丢弃：交给评分引擎按数据质量规则计为平局
	priceChange := math.NaN()
	if k.Open > 0 && k.Close > 0 {
		priceChange = (k.Close - k.Open) / k.Open
	}

	var volume *model.VolumeMetrics
	if k.Volume > 0 {
		volume = &model.VolumeMetrics{
			TotalVolume:    k.Volume,
			TakerBuyVolume: k.TakerBuyVolume,
		}
	}

	return &model.Observation{
		BaseAsset:   p.BaseAsset,
		QuoteAsset:  p.QuoteAsset,
		PriceChange: priceChange,
		Timestamp:   k.CloseTime,
		Volume:      volume,
	}, nil
}

// evaluateExits 检查所有 OPEN 仓位的离场条件；CLOSING 仓位重试补偿平仓
func (m *Manager) evaluateExits(ctx context.Context, res strategy.Result) {
	for _, symbol := range m.sortedSymbols() {
		st := m.states[symbol]
		if st.position == nil || (st.state != StateOpen && st.state != StateClosing) {
			continue
		}

		m.guard(symbol, "exit", func() error {
			pos := st.position
			price, err := m.currentPrice(ctx, symbol)
			if err != nil {
				return err
			}
			pos.UnrealizedPnL = (price - pos.EntryPrice) * pos.RemainingQty

			if st.state == StateClosing {
				// 上个周期的平仓没有完全成交，继续平剩余数量
				return m.closePosition(ctx, st, price, "RETRY")
			}

			// 反转离场优先于被动括号：移动平均 z 跌破负阈值时立即无条件离场
			if maZ, ok := res.MovingAvgZ[symbol]; ok && maZ <= -pos.Parameters.ZScoreThreshold {
				m.bus.Publish(event.Event{
					Type:   event.TypeZScoreReversal,
					Symbol: symbol,
					Payload: event.ZScorePayload{
						Raw:       res.ZScores[pos.Parameters.BaseAsset],
						MovingAvg: maZ,
						Rating:    res.Stats.Mean,
					},
				})
				return m.closePosition(ctx, st, price, "REVERSAL")
			}

			switch oco.CheckCondition(price, pos.TakeProfitPrice, pos.StopLossPrice) {
			case oco.TriggerTakeProfit:
				return m.closePosition(ctx, st, price, string(oco.TriggerTakeProfit))
			case oco.TriggerStopLoss:
				return m.closePosition(ctx, st, price, string(oco.TriggerStopLoss))
			}
			return nil
		})
	}
}

// closePosition 执行离场：先尝试撤括号单，再市价平掉剩余数量。
// 撤单失败 (订单可能已成交) 不阻塞补偿单；以 RemainingQty 对账而非假设成功。
func (m *Manager) closePosition(ctx context.Context, st *symbolState, price float64, reason string) error {
	pos := st.position

	if st.state == StateOpen {
		if err := st.transition(StateClosing); err != nil {
			return err
		}
		for _, ref := range pos.OrderRefs {
			if ref.Kind != model.OrderRefTakeProfit && ref.Kind != model.OrderRefStopLoss {
				continue
			}
			if err := m.exec.CancelOrder(ctx, pos.Symbol, ref.OrderID); err != nil {
				m.logger.Warn("Bracket cancel failed (possibly already filled)",
					zap.String("symbol", pos.Symbol),
					zap.Int64("orderId", ref.OrderID),
					zap.Error(err))
			}
		}
	}

	fill, err := m.exec.Sell(ctx, pos.Symbol, pos.RemainingQty, price)
	if err != nil {
		// 平仓单失败：保持 CLOSING，下个周期自然重试
		return fmt.Errorf("exit %s: %w", pos.Symbol, err)
	}

	pos.RemainingQty -= fill.Quantity
	if pos.RemainingQty < qtyEpsilon {
		pos.RemainingQty = 0
	}
	pos.OrderRefs = append(pos.OrderRefs, model.OrderRef{OrderID: fill.OrderID, Kind: model.OrderRefExit})

	if pos.RemainingQty > 0 {
		m.logger.Warn("Exit partially filled, retrying next cycle",
			zap.String("symbol", pos.Symbol),
			zap.Float64("remaining", pos.RemainingQty))
		return nil
	}

	pnl, pnlPercent := oco.ProfitLoss(pos.EntryPrice, fill.Price, pos.Quantity)
	record := model.TradeRecord{
		Symbol:        pos.Symbol,
		EntryTime:     pos.EntryTime,
		ExitTime:      fill.Time,
		EntryPrice:    pos.EntryPrice,
		ExitPrice:     fill.Price,
		Quantity:      pos.Quantity,
		RealizedPnL:   pnl,
		Fee:           fill.Fee,
		TriggerReason: reason,
	}
	m.history = append(m.history, record)
	m.dayPnL += pnl - fill.Fee

	m.alloc.ReleaseFunds(pos.Symbol)
	if err := st.transition(StateFlat); err != nil {
		return err
	}
	st.position = nil

	m.logger.Info("Position closed",
		zap.String("symbol", record.Symbol),
		zap.String("trigger", reason),
		zap.Float64("pnl", pnl),
		zap.Float64("pnlPercent", pnlPercent))
	m.rec.RecordTrade(m.exec.Mode(), "SELL")
	m.publishTrade(record.Symbol, "SELL", fill, reason)
	return nil
}

// evaluateEntries 在风控闸门放行的前提下处理本周期的 BUY 信号
func (m *Manager) evaluateEntries(ctx context.Context, res strategy.Result) {
	if !m.riskGatesPass(ctx) {
		return
	}

	symbols := make([]string, 0, len(res.Signals))
	for symbol := range res.Signals {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		sig := res.Signals[symbol]
		if sig.Action != model.SignalBuy {
			continue
		}
		m.guard(symbol, "entry", func() error {
			return m.tryEnter(ctx, sig)
		})
	}
}

// tryEnter 单个 BUY 信号的进场流程：准入 → 预留 → 成交 → 括号
func (m *Manager) tryEnter(ctx context.Context, sig model.Signal) error {
	now := time.Now()
	st := m.states[sig.Symbol]
	p := m.params[sig.Symbol]

	switch {
	case st == nil:
		return nil
	case st.state != StateFlat:
		m.publishSignalSkipped(sig, "position already exists")
		return nil
	case st.inCooldown(now):
		m.publishSignalSkipped(sig, "symbol in cooldown")
		return nil
	case m.committedCount() >= m.cfg.MaxPositions:
		m.publishSignalSkipped(sig, "max positions reached")
		return nil
	}

	reservation, err := m.alloc.ReserveFunds(ctx, sig.Symbol, p.AllocationPercent, m.exec.Balance)
	if err != nil {
		return fmt.Errorf("reserve %s: %w", sig.Symbol, err)
	}
	if !reservation.Success {
		// 资金准入被拒：信号不执行，不重试，不冷却
		m.publishSignalSkipped(sig, string(reservation.Reason))
		return nil
	}

	if err := st.transition(StateEntering); err != nil {
		m.alloc.ReleaseFunds(sig.Symbol)
		return err
	}

	fill, err := m.enterPosition(ctx, sig.Symbol, reservation.Amount)
	if err != nil {
		// 进场失败：释放预留并冷却该交易对；没有自动重试，下个周期自然重评
		m.alloc.ReleaseFunds(sig.Symbol)
		st.cooldownUntil = now.Add(m.cfg.Risk.CooldownPeriod)
		if terr := st.transition(StateFlat); terr != nil {
			return terr
		}
		return fmt.Errorf("enter %s: %w", sig.Symbol, err)
	}

	prices, err := oco.CalculatePrices(fill.Price, p.ProfitPercent, p.StopLossPercent)
	if err == nil {
		err = oco.ValidatePrices(fill.Price, prices.TakeProfit, prices.StopLoss)
	}
	if err != nil {
		// 成交已发生却算不出合法括号价：立即回吐仓位
		m.logger.Error("Bracket prices invalid, unwinding entry",
			zap.String("symbol", sig.Symbol), zap.Error(err))
		if _, serr := m.exec.Sell(ctx, sig.Symbol, fill.Quantity, fill.Price); serr != nil {
			m.logger.Error("Unwind failed", zap.String("symbol", sig.Symbol), zap.Error(serr))
		}
		m.alloc.ReleaseFunds(sig.Symbol)
		st.state = StateFlat
		return err
	}

	pos := &model.Position{
		Symbol:          sig.Symbol,
		EntryPrice:      fill.Price,
		Quantity:        fill.Quantity,
		RemainingQty:    fill.Quantity,
		EntryTime:       fill.Time,
		TakeProfitPrice: prices.TakeProfit,
		StopLossPrice:   prices.StopLoss,
		StopLimitPrice:  prices.StopLimit,
		OrderRefs:       []model.OrderRef{{OrderID: fill.OrderID, Kind: model.OrderRefEntry}},
		Parameters:      p,
	}

	refs, err := m.exec.PlaceBracket(ctx, sig.Symbol, fill.Quantity, prices)
	if err != nil {
		// 括号挂单失败不回吐仓位：控制循环自己盯价兜底
		m.logger.Warn("Bracket placement failed, loop will watch prices",
			zap.String("symbol", sig.Symbol), zap.Error(err))
		m.rec.RecordError("bracket")
	} else {
		pos.OrderRefs = append(pos.OrderRefs, refs...)
	}

	st.position = pos
	if err := st.transition(StateOpen); err != nil {
		return err
	}
	m.alloc.UpdateReservation(sig.Symbol, fill.OrderID)
	m.dayPnL -= fill.Fee

	m.logger.Info("Position opened",
		zap.String("symbol", sig.Symbol),
		zap.Float64("entry", fill.Price),
		zap.Float64("qty", fill.Quantity),
		zap.Float64("tp", prices.TakeProfit),
		zap.Float64("sl", prices.StopLoss))
	m.rec.RecordTrade(m.exec.Mode(), "BUY")
	m.publishTrade(sig.Symbol, "BUY", fill, "SIGNAL")
	m.bus.Publish(event.Event{
		Type:   event.TypeSignalProcessed,
		Symbol: sig.Symbol,
		Payload: event.SignalProcessedPayload{
			Action:     string(sig.Action),
			MovingAvgZ: sig.MovingAvgZ,
			Executed:   true,
		},
	})
	return nil
}

// enterPosition 按预留金额市价进场
func (m *Manager) enterPosition(ctx context.Context, symbol string, quoteAmount float64) (*executor.Fill, error) {
	price, err := m.currentPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return m.exec.Buy(ctx, symbol, quoteAmount, price)
}

// riskGatesPass 引擎级风控闸门：当日亏损和回撤超限时暂停全部新开仓
func (m *Manager) riskGatesPass(ctx context.Context) bool {
	balance, err := m.exec.Balance(ctx)
	if err != nil {
		// 余额不可知时保守处理：本周期不开新仓
		m.logger.Warn("Balance unavailable, skipping entries", zap.Error(err))
		return false
	}
	if balance > m.maxEquity {
		m.maxEquity = balance
	}

	if m.cfg.Risk.MaxDailyLoss > 0 && m.dayPnL <= -m.cfg.Risk.MaxDailyLoss {
		m.publishRiskLimit("daily_loss")
		return false
	}
	if m.cfg.Risk.MaxDrawdown > 0 && m.maxEquity > 0 {
		drawdown := (m.maxEquity - balance) / m.maxEquity
		if drawdown >= m.cfg.Risk.MaxDrawdown {
			m.publishRiskLimit("drawdown")
			return false
		}
	}
	return true
}

// handleTicker 价格流移交：更新最新价，并即时检查 OPEN 仓位的括号条件。
// 在 Run 的串行上下文内执行，与周期互斥。
func (m *Manager) handleTicker(ctx context.Context, ticker model.Ticker) {
	m.lastPrices[ticker.Symbol] = ticker.Price

	st := m.states[ticker.Symbol]
	if st == nil || st.state != StateOpen || st.position == nil {
		return
	}
	pos := st.position
	pos.UnrealizedPnL = (ticker.Price - pos.EntryPrice) * pos.RemainingQty

	trigger := oco.CheckCondition(ticker.Price, pos.TakeProfitPrice, pos.StopLossPrice)
	if trigger == oco.TriggerNone {
		return
	}
	m.guard(ticker.Symbol, "exit", func() error {
		return m.closePosition(ctx, st, ticker.Price, string(trigger))
	})
}

// EmergencyStop 同步紧急停止：撤掉所有已知挂单 (容忍单笔失败)，清空预留和内存仓位
func (m *Manager) EmergencyStop(ctx context.Context) {
	m.logger.Warn("EMERGENCY STOP triggered")

	for _, symbol := range m.sortedSymbols() {
		st := m.states[symbol]
		if st.position == nil {
			continue
		}
		for _, ref := range st.position.OrderRefs {
			if ref.Kind == model.OrderRefEntry || ref.Kind == model.OrderRefExit {
				continue
			}
			if err := m.exec.CancelOrder(ctx, symbol, ref.OrderID); err != nil {
				m.logger.Warn("Cancel failed during emergency stop",
					zap.String("symbol", symbol),
					zap.Int64("orderId", ref.OrderID),
					zap.Error(err))
			}
		}
		st.position = nil
		st.state = StateFlat
	}

	m.alloc.ClearAllReservations()
	m.rec.SetOpenPositions(0)
	m.rec.SetReservedFunds(0)
	m.bus.Publish(event.Event{Type: event.TypeEmergencyStop})
}

// TradeHistory 已完成交易记录的快照
func (m *Manager) TradeHistory() []model.TradeRecord {
	out := make([]model.TradeRecord, len(m.history))
	copy(out, m.history)
	return out
}

// guard 把单个交易对的处理错误和 panic 隔离住，绝不让它中断整个周期
func (m *Manager) guard(symbol, stage string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Panic isolated to symbol",
				zap.String("symbol", symbol),
				zap.String("stage", stage),
				zap.Any("panic", r))
			m.rec.RecordError(stage)
			m.bus.Publish(event.Event{
				Type:    event.TypeTradingError,
				Symbol:  symbol,
				Payload: event.TradingErrorPayload{Stage: stage, Err: fmt.Sprint(r)},
			})
		}
	}()

	if err := fn(); err != nil {
		m.logger.Error("Symbol processing failed",
			zap.String("symbol", symbol),
			zap.String("stage", stage),
			zap.Error(err))
		m.rec.RecordError(stage)
		m.bus.Publish(event.Event{
			Type:    event.TypeTradingError,
			Symbol:  symbol,
			Payload: event.TradingErrorPayload{Stage: stage, Err: err.Error()},
		})
	}
}

// currentPrice 优先取价格流的最新价，缺失时回退到 REST 查询
func (m *Manager) currentPrice(ctx context.Context, symbol string) (float64, error) {
	if price, ok := m.lastPrices[symbol]; ok && price > 0 {
		return price, nil
	}
	price, err := m.market.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	m.lastPrices[symbol] = price
	return price, nil
}

func (m *Manager) publishZScores(res strategy.Result) {
	for asset, rawZ := range res.ZScores {
		m.rec.SetZScore(asset, rawZ)
	}
	for symbol, maZ := range res.MovingAvgZ {
		p := m.params[symbol]
		rawZ := res.ZScores[p.BaseAsset]
		var ratingValue float64
		if state, ok := m.engine.GetState(p.BaseAsset); ok {
			ratingValue = state.Rating
			m.rec.SetRating(p.BaseAsset, state.Rating)
		}
		m.bus.Publish(event.Event{
			Type:    event.TypeZScoreCalculated,
			Symbol:  symbol,
			Payload: event.ZScorePayload{Raw: rawZ, MovingAvg: maZ, Rating: ratingValue},
		})
	}
}

func (m *Manager) publishSignalSkipped(sig model.Signal, reason string) {
	m.logger.Debug("Signal not acted on",
		zap.String("symbol", sig.Symbol), zap.String("reason", reason))
	m.bus.Publish(event.Event{
		Type:   event.TypeSignalProcessed,
		Symbol: sig.Symbol,
		Payload: event.SignalProcessedPayload{
			Action:     string(sig.Action),
			MovingAvgZ: sig.MovingAvgZ,
			Executed:   false,
			Reason:     reason,
		},
	})
}

func (m *Manager) publishTrade(symbol, side string, fill *executor.Fill, trigger string) {
	eventType := event.TypePaperTrade
	if m.exec.Mode() == "live" {
		eventType = event.TypeLiveTradeExecuted
	}
	m.bus.Publish(event.Event{
		Type:   eventType,
		Symbol: symbol,
		Payload: event.TradeExecutedPayload{
			Side:     side,
			Price:    fill.Price,
			Quantity: fill.Quantity,
			OrderID:  fill.OrderID,
			Trigger:  trigger,
		},
	})
}

func (m *Manager) publishRiskLimit(kind string) {
	m.logger.Warn("Risk limit hit, entries suspended", zap.String("kind", kind))
	m.bus.Publish(event.Event{
		Type:    event.TypeRiskLimitHit,
		Payload: event.RiskLimitHitPayload{Kind: kind},
	})
}

// rolloverDay UTC 日界跨越时重置当日已实现盈亏
func (m *Manager) rolloverDay(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if day.After(m.dayStart) {
		m.logger.Info("Daily PnL rollover", zap.Float64("realized", m.dayPnL))
		m.dayStart = day
		m.dayPnL = 0
	}
}

// committedCount 资金已占用的交易对数量 (ENTERING/OPEN/CLOSING)
func (m *Manager) committedCount() int {
	var n int
	for _, st := range m.states {
		if st.state != StateFlat {
			n++
		}
	}
	return n
}

func (m *Manager) sortedSymbols() []string {
	symbols := make([]string, 0, len(m.params))
	for symbol := range m.params {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
