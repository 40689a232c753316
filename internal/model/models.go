package model

import "time"

// Ticker 代表价格流推送的最小粒度市场数据（单笔成交或价格快照）
type Ticker struct {
	Symbol       string  // 所属交易对，例如 "BTCUSDT"
	Timestamp    int64   // 毫秒时间戳
	Price        float64 // 成交价格
	Volume       float64 // 成交量 (0 表示价格快照)
	IsBuyerMaker bool    // 是否为 Maker 成交 (用于判断主动买卖方向)
}

// KLine 代表交易所返回的一根已完成 K 线
type KLine struct {
	Symbol         string // 所属交易对
	Interval       string // 周期，例如 "5m", "1h"
	Open           float64
	High           float64
	Low            float64
	Close          float64
	Volume         float64 // 总成交量 (基础币计)
	TakerBuyVolume float64 // 主动买入成交量 (基础币计)
	OpenTime       time.Time
	CloseTime      time.Time
}

// VolumeMetrics 一次观测附带的成交量信息 (可缺失)
type VolumeMetrics struct {
	TotalVolume    float64
	TakerBuyVolume float64
}

// Observation 一次配对观测：base 相对 quote 在一个区间内的表现。
// 即时消费，不做持久化。
type Observation struct {
	BaseAsset   string
	QuoteAsset  string
	PriceChange float64 // 相对涨跌幅 (close-open)/open；非法输入时为 NaN
	Timestamp   time.Time
	Volume      *VolumeMetrics // nil 表示无成交量数据
}
