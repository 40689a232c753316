package strategy

import (
	"time"

	"crypto-rating-trader/internal/model"
)

// ZScoreEntry 单个资产的一条 z-score 历史记录
type ZScoreEntry struct {
	Timestamp time.Time
	RawZ      float64
	Rating    float64
}

// CrossSectionalStats 当前周期全部评分的横截面统计；每周期重算，不跨周期保留
type CrossSectionalStats struct {
	Timestamp time.Time
	Mean      float64
	StdDev    float64
	Count     int
}

// Result 一次信号生成的完整输出
type Result struct {
	Signals    map[string]model.Signal // 按交易对；只包含参数表里启用的交易对
	ZScores    map[string]float64      // 按资产的原始 z-score
	MovingAvgZ map[string]float64      // 按交易对的移动平均 z-score
	Stats      CrossSectionalStats
}
