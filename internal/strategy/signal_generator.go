package strategy

import (
	"math"
	"sort"
	"time"

	"crypto-rating-trader/internal/model"

	"github.com/markcheno/go-talib"
	"go.uber.org/zap"
)

// historySlack 历史缓冲在最大移动平均窗口之外多保留的条数
const historySlack = 8

// SignalGenerator 消费评分快照，产出横截面 z-score 和阈值信号。
// 对 z-score 取移动平均而非瞬时值：要求统计偏离持续存在才投入资金，抑制单区间噪声。
// 只在控制循环的串行上下文内调用。
type SignalGenerator struct {
	logger     *zap.Logger
	history    map[string][]ZScoreEntry // 按资产的有界 z-score 历史，尾部最新
	historyCap int
}

// NewSignalGenerator 初始化；maxPeriod 取所有交易对配置的最大移动平均窗口
func NewSignalGenerator(maxPeriod int, logger *zap.Logger) *SignalGenerator {
	if maxPeriod < 1 {
		maxPeriod = 1
	}
	return &SignalGenerator{
		logger:     logger.With(zap.String("component", "signal")),
		history:    make(map[string][]ZScoreEntry),
		historyCap: maxPeriod + historySlack,
	}
}

// Generate 对当前评分快照做一轮完整的信号计算：
// 横截面均值/标准差 → 按资产原始 z → 追加历史 → 按交易对移动平均 z → 阈值信号。
func (sg *SignalGenerator) Generate(
	now time.Time,
	ratings map[string]float64,
	params map[string]model.TradingParameterSet,
) Result {
	stats := crossSectionalStats(now, ratings)

	res := Result{
		Signals:    make(map[string]model.Signal, len(params)),
		ZScores:    make(map[string]float64, len(ratings)),
		MovingAvgZ: make(map[string]float64, len(params)),
		Stats:      stats,
	}

	// 按资产排序遍历，保证历史追加顺序确定
	assets := make([]string, 0, len(ratings))
	for asset := range ratings {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	for _, asset := range assets {
		var rawZ float64
		if stats.StdDev > 0 {
			rawZ = (ratings[asset] - stats.Mean) / stats.StdDev
		}
		res.ZScores[asset] = rawZ
		sg.appendHistory(asset, ZScoreEntry{Timestamp: now, RawZ: rawZ, Rating: ratings[asset]})
	}

	symbols := make([]string, 0, len(params))
	for symbol := range params {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		p := params[symbol]
		rawZ, ok := res.ZScores[p.BaseAsset]
		if !ok {
			// 还没有该资产的评分 (例如尚未收到任何观测)
			continue
		}

		maZ := sg.movingAverageZ(p.BaseAsset, p.MovingAverages, rawZ)
		res.MovingAvgZ[symbol] = maZ

		if !p.Enabled {
			continue
		}

		action := classify(maZ, p.ZScoreThreshold)
		if action == model.SignalNone {
			continue
		}

		res.Signals[symbol] = model.Signal{
			Symbol:     symbol,
			Timestamp:  now,
			Action:     action,
			Rating:     ratings[p.BaseAsset],
			RawZ:       rawZ,
			MovingAvgZ: maZ,
			Threshold:  p.ZScoreThreshold,
			Reason:     "moving-average z-score threshold crossed",
		}
	}

	return res
}

// movingAverageZ 最近 period 条原始 z 的均值；历史不足时退化为当前原始 z (降级但不阻塞)
func (sg *SignalGenerator) movingAverageZ(asset string, period int, rawZ float64) float64 {
	entries := sg.history[asset]
	if period <= 1 || len(entries) < period {
		return rawZ
	}

	values := make([]float64, len(entries))
	for i, e := range entries {
		values[i] = e.RawZ
	}
	sma := talib.Sma(values, period)
	return sma[len(sma)-1]
}

// appendHistory 有界追加：超出容量时逐出最旧记录
func (sg *SignalGenerator) appendHistory(asset string, entry ZScoreEntry) {
	entries := append(sg.history[asset], entry)
	if len(entries) > sg.historyCap {
		entries = entries[len(entries)-sg.historyCap:]
	}
	sg.history[asset] = entries
}

// History 返回某资产当前的 z-score 历史快照
func (sg *SignalGenerator) History(asset string) []ZScoreEntry {
	entries := sg.history[asset]
	out := make([]ZScoreEntry, len(entries))
	copy(out, entries)
	return out
}

// classify 阈值判定：maZ ≥ +threshold → BUY，≤ -threshold → SELL
func classify(maZ, threshold float64) model.SignalAction {
	switch {
	case threshold <= 0:
		return model.SignalNone
	case maZ >= threshold:
		return model.SignalBuy
	case maZ <= -threshold:
		return model.SignalSell
	default:
		return model.SignalNone
	}
}

// crossSectionalStats 全体评分的均值和总体标准差；标准差为 0 时所有 z 取 0
func crossSectionalStats(now time.Time, ratings map[string]float64) CrossSectionalStats {
	stats := CrossSectionalStats{Timestamp: now, Count: len(ratings)}
	if len(ratings) == 0 {
		return stats
	}

	var sum float64
	for _, r := range ratings {
		sum += r
	}
	stats.Mean = sum / float64(len(ratings))

	var variance float64
	for _, r := range ratings {
		d := r - stats.Mean
		variance += d * d
	}
	stats.StdDev = math.Sqrt(variance / float64(len(ratings)))
	return stats
}
