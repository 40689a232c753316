package service

import (
	"fmt"
	"strings"
	"time"

	"crypto-rating-trader/internal/model"

	"github.com/spf13/viper"
)

// ExchangeConfig 定义了交易所的连接信息
type ExchangeConfig struct {
	Name      string
	APIKey    string
	SecretKey string
	RESTURL   string
	WSURL     string
}

// RiskConfig 定义了引擎级风控参数
type RiskConfig struct {
	MaxDailyLoss   float64       // 当日已实现亏损上限 (计价货币)，超过后暂停新开仓
	MaxDrawdown    float64       // 相对历史最高净值的回撤上限 (0.15 = 15%)
	CooldownPeriod time.Duration // 开仓失败后该交易对的冷却时长
}

// EngineConfig 定义了控制循环的运行参数
type EngineConfig struct {
	Interval          string // 决策周期，同时也是评分观测的 K 线周期，例如 "1h", "5m"
	MaxPositions      int    // 同时持有的最大仓位数
	EnableLiveTrading bool   // false 时使用纸面执行器
	QuoteAsset        string // 计价货币，例如 "USDT"
	MetricsAddr       string // Prometheus /metrics 监听地址，空则不启动
	Risk              RiskConfig
}

// PaperConfig 纸面执行器配置
type PaperConfig struct {
	InitialCapital float64 // 初始资金 (计价货币)
	FeeRate        float64 // 成交手续费率，例如 0.001
}

// Config 顶层配置
type Config struct {
	Exchange    ExchangeConfig                       `mapstructure:"Exchange"`
	Engine      EngineConfig                         `mapstructure:"Engine"`
	Paper       PaperConfig                          `mapstructure:"Paper"`
	MinNotional float64                              `mapstructure:"MinNotional"` // 交易所最小下单金额
	Defaults    model.TradingParameterSet            `mapstructure:"Defaults"`    // 全局默认参数
	Symbols     map[string]model.TradingParameterSet `mapstructure:"Symbols"`     // 按交易对覆盖
}

// LoadConfig 读取并解析配置文件
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.Interval == "" {
		return fmt.Errorf("Engine.Interval is required")
	}
	if _, err := ParseIntervalDuration(c.Engine.Interval); err != nil {
		return fmt.Errorf("Engine.Interval: %w", err)
	}
	if c.Engine.MaxPositions <= 0 {
		return fmt.Errorf("Engine.MaxPositions must be positive")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one entry under Symbols is required")
	}
	return nil
}

// ParameterSets 合并全局默认值和按交易对覆盖，返回每个交易对的最终参数。
// 未显式配置的字段取 Defaults；base/quote 缺失时从交易对名推导。
func (c *Config) ParameterSets() map[string]model.TradingParameterSet {
	quote := c.Engine.QuoteAsset
	if quote == "" {
		quote = "USDT"
	}

	out := make(map[string]model.TradingParameterSet, len(c.Symbols))
	for symbol, override := range c.Symbols {
		p := c.Defaults
		p.Symbol = symbol
		p.Enabled = override.Enabled

		if override.ZScoreThreshold != 0 {
			p.ZScoreThreshold = override.ZScoreThreshold
		}
		if override.MovingAverages != 0 {
			p.MovingAverages = override.MovingAverages
		}
		if override.ProfitPercent != 0 {
			p.ProfitPercent = override.ProfitPercent
		}
		if override.StopLossPercent != 0 {
			p.StopLossPercent = override.StopLossPercent
		}
		if override.AllocationPercent != 0 {
			p.AllocationPercent = override.AllocationPercent
		}

		p.QuoteAsset = override.QuoteAsset
		if p.QuoteAsset == "" {
			p.QuoteAsset = quote
		}
		p.BaseAsset = override.BaseAsset
		if p.BaseAsset == "" {
			p.BaseAsset = strings.TrimSuffix(symbol, p.QuoteAsset)
		}

		out[symbol] = p
	}
	return out
}
