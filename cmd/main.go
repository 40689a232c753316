package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"crypto-rating-trader/internal/allocation"
	"crypto-rating-trader/internal/api"
	"crypto-rating-trader/internal/event"
	"crypto-rating-trader/internal/executor"
	"crypto-rating-trader/internal/rating"
	"crypto-rating-trader/internal/service"
	"crypto-rating-trader/internal/strategy"
	"crypto-rating-trader/internal/trader"
	"crypto-rating-trader/pkg/metrics"

	"go.uber.org/zap"
)

func main() {
	service.InitLogger()
	defer service.Logger.Sync()

	configPath := "config"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		service.Logger.Fatal("Configuration directory 'config/' not found. Please create it.")
	}
	cfg, err := service.LoadConfig(configPath)
	if err != nil {
		service.Logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	params := cfg.ParameterSets()
	var symbols []string
	maxPeriod := 1
	for symbol, p := range params {
		symbols = append(symbols, symbol)
		if p.MovingAverages > maxPeriod {
			maxPeriod = p.MovingAverages
		}
	}
	sort.Strings(symbols)
	service.Logger.Info("Monitored universe loaded",
		zap.Strings("symbols", symbols),
		zap.String("interval", cfg.Engine.Interval),
		zap.Bool("live", cfg.Engine.EnableLiveTrading))

	// 事件总线：日志作为订阅方消费核心事件，核心不依赖消费方
	bus := event.NewBus()
	bus.Subscribe(func(e event.Event) {
		service.Logger.Info("EVENT",
			zap.String("type", string(e.Type)),
			zap.String("symbol", e.Symbol),
			zap.Any("payload", e.Payload))
	})

	rec := metrics.New()
	if cfg.Engine.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			service.Logger.Info("Metrics endpoint listening", zap.String("addr", cfg.Engine.MetricsAddr))
			if err := http.ListenAndServe(cfg.Engine.MetricsAddr, mux); err != nil {
				service.Logger.Error("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	// 交易所协作方：REST + 价格流
	client := api.NewRESTClient(cfg.Exchange, service.Logger)
	connector := api.NewConnector(cfg.Exchange.WSURL, symbols, service.Logger)
	go connector.Start()

	quote := cfg.Engine.QuoteAsset
	if quote == "" {
		quote = "USDT"
	}

	// 纸面和实盘共用同一套控制/风控逻辑，只在这里切换执行适配器
	var exec executor.Executor
	if cfg.Engine.EnableLiveTrading {
		exec = executor.NewLiveExecutor(client, quote, service.Logger)
	} else {
		exec = executor.NewPaperExecutor(cfg.Paper, service.Logger)
	}

	engine := rating.NewEngine(rating.NewStore(), service.Logger)
	signals := strategy.NewSignalGenerator(maxPeriod, service.Logger)
	alloc := allocation.NewManager(cfg.MinNotional, service.Logger)

	mgr, err := trader.New(cfg.Engine, params, engine, signals, alloc, exec, client,
		bus, rec, connector.GetTickerChannel(), service.Logger)
	if err != nil {
		service.Logger.Fatal("Failed to build control loop", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mgr.Run(ctx); err != nil {
		service.Logger.Fatal("Control loop exited with error", zap.Error(err))
	}
}
