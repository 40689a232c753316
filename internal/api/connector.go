package api

import (
	"encoding/json"
	"strings"
	"time"

	"crypto-rating-trader/internal/model"
	"crypto-rating-trader/internal/service"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// streamEnvelope 组合流的通用响应结构
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"` // 延迟解析
}

// tradePayload trade 频道数据结构
type tradePayload struct {
	EventType    string `json:"e"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// Connector 订阅全部交易对的成交流，把推送转成内部 Ticker 发给控制循环。
// 推送只写入通道，状态变更全部发生在消费方的串行上下文里。
type Connector struct {
	wsURL         string
	symbols       []string
	tickerChannel chan model.Ticker
	logger        *zap.Logger
}

func NewConnector(wsURL string, symbols []string, logger *zap.Logger) *Connector {
	return &Connector{
		wsURL:   wsURL,
		symbols: symbols,
		// 足够的缓冲区应对高频数据
		tickerChannel: make(chan model.Ticker, 2048),
		logger:        logger.With(zap.String("component", "stream")),
	}
}

// Start 维持 WebSocket 连接并持续读取；连接断开后退避重连
func (c *Connector) Start() {
	streams := make([]string, 0, len(c.symbols))
	for _, symbol := range c.symbols {
		streams = append(streams, strings.ToLower(symbol)+"@trade")
	}
	target := c.wsURL + "/stream?streams=" + strings.Join(streams, "/")

	for {
		c.logger.Info("Connecting to trade stream", zap.String("url", c.wsURL), zap.Strings("symbols", c.symbols))

		conn, _, err := websocket.DefaultDialer.Dial(target, nil)
		if err != nil {
			c.logger.Error("Failed to connect to stream, retrying", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		c.readLoop(conn)
		conn.Close()
		time.Sleep(time.Second)
	}
}

// readLoop 持续读取 WS 消息并处理；读错误时返回，由 Start 重连
func (c *Connector) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.logger.Error("Error reading stream message, reconnecting", zap.Error(err))
			return
		}

		var envelope streamEnvelope
		if err := json.Unmarshal(message, &envelope); err != nil {
			continue
		}
		if len(envelope.Data) == 0 || !strings.HasSuffix(envelope.Stream, "@trade") {
			continue
		}

		var trade tradePayload
		if err := json.Unmarshal(envelope.Data, &trade); err != nil {
			c.logger.Error("Trade data unmarshal error", zap.Error(err))
			continue
		}
		if trade.EventType != "trade" || trade.Symbol == "" {
			continue
		}

		price, err := service.StringToFloat(trade.Price)
		if err != nil {
			continue
		}
		volume, err := service.StringToFloat(trade.Quantity)
		if err != nil {
			continue
		}

		ticker := model.Ticker{
			Symbol:       trade.Symbol,
			Timestamp:    trade.TradeTime,
			Price:        price,
			Volume:       volume,
			IsBuyerMaker: trade.IsBuyerMaker,
		}

		// 使用 select/default 防止阻塞 Connector
		select {
		case c.tickerChannel <- ticker:
		default:
			c.logger.Warn("Ticker channel full! Dropping trade data", zap.String("symbol", trade.Symbol))
		}
	}
}

// GetTickerChannel 供控制循环消费
func (c *Connector) GetTickerChannel() <-chan model.Ticker {
	return c.tickerChannel
}
