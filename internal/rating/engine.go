package rating

import (
	"math"
	"sort"
	"time"

	"crypto-rating-trader/internal/model"

	"go.uber.org/zap"
)

// 混合表现分的离散取值
const (
	ScoreLoss     = 0.0
	ScoreWeakLoss = 0.25
	ScoreDraw     = 0.5
	ScoreWeakWin  = 0.75
	ScoreWin      = 1.0
)

// drawEpsilon 相对涨跌幅小于该值视为平局
const drawEpsilon = 1e-4

// AssetRatingState 单个资产的评分状态；只由 Engine 修改，引擎生命周期内不销毁
type AssetRatingState struct {
	Symbol          string
	Rating          float64
	RatingDeviation float64
	Volatility      float64
	LastUpdated     time.Time
}

// Store 持有所有资产的评分状态。
// 显式实例而非包级单例：并行回测各自持有独立 Store，互不污染。
type Store struct {
	states map[string]*AssetRatingState
}

func NewStore() *Store {
	return &Store{states: make(map[string]*AssetRatingState)}
}

// symbols 返回排序后的资产列表，保证遍历顺序确定
func (s *Store) symbols() []string {
	out := make([]string, 0, len(s.states))
	for sym := range s.states {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Engine 把每个区间内交易对的价格表现当作一场 Glicko-2 对局，维护每个资产的实时评分。
// 所有方法都假定在控制循环的串行上下文内调用，不做内部加锁。
type Engine struct {
	store   *Store
	logger  *zap.Logger
	pending map[string][]Game // 当前区间累积、尚未应用的对局
}

func NewEngine(store *Store, logger *zap.Logger) *Engine {
	return &Engine{
		store:   store,
		logger:  logger.With(zap.String("component", "rating")),
		pending: make(map[string][]Game),
	}
}

// EnsureAssetExists 懒初始化：首次观测到的资产从 1500/350/0.06 起步。幂等。
func (e *Engine) EnsureAssetExists(symbol string, now time.Time) *AssetRatingState {
	if state, ok := e.store.states[symbol]; ok {
		return state
	}
	state := &AssetRatingState{
		Symbol:          symbol,
		Rating:          initialRating,
		RatingDeviation: initialDeviation,
		Volatility:      initialVolatility,
		LastUpdated:     now,
	}
	e.store.states[symbol] = state
	return state
}

// ProcessObservation 把一次配对观测转换为混合表现分，并为双方各记一场对局。
// 对局使用对手区间开始时 (即当前) 的评分，更新统一延迟到 ApplyInterval。
// 返回 (base 得分, quote 得分)，两者恒和为 1。
func (e *Engine) ProcessObservation(obs model.Observation) (scoreBase, scoreQuote float64) {
	base := e.EnsureAssetExists(obs.BaseAsset, obs.Timestamp)
	quote := e.EnsureAssetExists(obs.QuoteAsset, obs.Timestamp)

	scoreBase = e.hybridScore(obs)
	scoreQuote = 1.0 - scoreBase

	e.pending[obs.BaseAsset] = append(e.pending[obs.BaseAsset], Game{
		OpponentRating:    quote.Rating,
		OpponentDeviation: quote.RatingDeviation,
		Score:             scoreBase,
	})
	e.pending[obs.QuoteAsset] = append(e.pending[obs.QuoteAsset], Game{
		OpponentRating:    base.Rating,
		OpponentDeviation: base.RatingDeviation,
		Score:             scoreQuote,
	})
	return scoreBase, scoreQuote
}

// hybridScore 按离散规则给 base 打分：价格方向 + 主动买卖量优势。
// 非法输入 (NaN 涨跌幅、负成交量、买量超过总量) 一律按平局处理并记录数据质量日志，不上抛错误。
func (e *Engine) hybridScore(obs model.Observation) float64 {
	if !isFinite(obs.PriceChange) {
		e.logger.Warn("data quality: invalid price change, treating as draw",
			zap.String("base", obs.BaseAsset), zap.String("quote", obs.QuoteAsset))
		return ScoreDraw
	}

	if v := obs.Volume; v != nil {
		if v.TotalVolume < 0 || v.TakerBuyVolume < 0 || v.TakerBuyVolume > v.TotalVolume {
			e.logger.Warn("data quality: inconsistent volume metrics, treating as draw",
				zap.String("base", obs.BaseAsset),
				zap.Float64("total", v.TotalVolume),
				zap.Float64("takerBuy", v.TakerBuyVolume))
			return ScoreDraw
		}
	}

	if math.Abs(obs.PriceChange) < drawEpsilon {
		return ScoreDraw
	}

	up := obs.PriceChange > 0

	// 无成交量数据时只看方向，按低置信度档 0.75/0.25 归类而非平局
	if obs.Volume == nil || obs.Volume.TotalVolume == 0 {
		if up {
			return ScoreWeakWin
		}
		return ScoreWeakLoss
	}

	buyDominant := obs.Volume.TakerBuyVolume > obs.Volume.TotalVolume/2.0
	switch {
	case up && buyDominant: // 量价齐升，强胜
		return ScoreWin
	case up: // 上涨但卖方主导，弱胜
		return ScoreWeakWin
	case !up && !buyDominant: // 下跌且卖方主导，强负
		return ScoreLoss
	default: // 下跌但买方主导，弱负
		return ScoreWeakLoss
	}
}

// ApplyInterval 应用当前区间累积的全部对局，然后做一次均值回正。
// 每个资产的更新都以区间开始时的对手评分为准 (Glicko-2 的同时更新语义)。
func (e *Engine) ApplyInterval(now time.Time) {
	for _, symbol := range e.store.symbols() {
		games, ok := e.pending[symbol]
		if !ok {
			continue
		}

		state := e.store.states[symbol]
		rating, deviation, volatility, updated := glickoUpdate(
			state.Rating, state.RatingDeviation, state.Volatility, games)
		if !updated {
			// 数值退化：丢弃本区间更新，保留原评分
			e.logger.Warn("rating update discarded, keeping prior state",
				zap.String("symbol", symbol), zap.Int("games", len(games)))
			continue
		}

		state.Rating = e.clamp(symbol, "rating", rating, MinRating, MaxRating)
		state.RatingDeviation = e.clamp(symbol, "deviation", deviation, MinDeviation, MaxDeviation)
		state.Volatility = e.clamp(symbol, "volatility", volatility, MinVolatility, MaxVolatility)
		state.LastUpdated = now
	}

	e.pending = make(map[string][]Game)
	e.NormalizeRatings()
}

// NormalizeRatings 把横截面均值整体平移回 1500，抑制长期漂移。
// z-score 对平移不敏感，信号不受影响。每个区间只在对局应用完之后调用一次。
func (e *Engine) NormalizeRatings() {
	if len(e.store.states) == 0 {
		return
	}

	var sum float64
	for _, state := range e.store.states {
		sum += state.Rating
	}
	offset := baseRating - sum/float64(len(e.store.states))
	if math.Abs(offset) < 1e-9 {
		return
	}

	for symbol, state := range e.store.states {
		state.Rating = e.clamp(symbol, "rating", state.Rating+offset, MinRating, MaxRating)
	}
}

// clamp 截断到边界并记录；绝不让 NaN/Inf 落入状态
func (e *Engine) clamp(symbol, field string, v, lo, hi float64) float64 {
	if !isFinite(v) {
		e.logger.Warn("non-finite value clamped",
			zap.String("symbol", symbol), zap.String("field", field))
		if field == "volatility" {
			return initialVolatility
		}
		return (lo + hi) / 2.0
	}
	if v < lo || v > hi {
		e.logger.Debug("value clamped to bounds",
			zap.String("symbol", symbol), zap.String("field", field), zap.Float64("value", v))
		return math.Min(hi, math.Max(lo, v))
	}
	return v
}

// GetState 返回只读快照，不暴露内部指针
func (e *Engine) GetState(symbol string) (AssetRatingState, bool) {
	state, ok := e.store.states[symbol]
	if !ok {
		return AssetRatingState{}, false
	}
	return *state, true
}

// Snapshot 返回当前所有资产的评分，供信号层做横截面统计
func (e *Engine) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(e.store.states))
	for symbol, state := range e.store.states {
		out[symbol] = state.Rating
	}
	return out
}
