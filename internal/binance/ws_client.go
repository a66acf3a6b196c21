package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fvg-trade-bot-go/internal/market"
)

const (
	wsBaseURL        = "wss://stream.binance.com:9443/ws"
	wsTestnetBaseURL = "wss://testnet.binance.vision/ws"

	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 20 * time.Second
	wsReadLimit    = 1024 * 1024 // 1MB, kline events are tiny
)

// KlineEvent is one closed candle delivered by the stream.
type KlineEvent struct {
	Symbol    string
	Timeframe market.Timeframe
	Candle    market.Candle
}

// WSClient subscribes to Binance kline streams and forwards CLOSED
// candles only. In-progress updates are dropped: the strategy operates
// strictly on completed candles.
type WSClient struct {
	url    string
	logger *zap.Logger

	Events chan KlineEvent
}

// NewWSClient builds a stream client for one symbol over one or more
// intervals. Streams are combined into a single connection.
func NewWSClient(symbol string, timeframes []market.Timeframe, testnet bool, logger *zap.Logger) *WSClient {
	base := wsBaseURL
	if testnet {
		base = wsTestnetBaseURL
	}
	streams := make([]string, 0, len(timeframes))
	for _, tf := range timeframes {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), tf))
	}
	return &WSClient{
		url:    base + "/" + strings.Join(streams, "/"),
		logger: logger,
		Events: make(chan KlineEvent, 256),
	}
}

// Run connects and pumps events until the context is cancelled. Lost
// connections are redialed with a capped backoff; the caller only sees
// a gap in events, never a broken channel.
func (c *WSClient) Run(ctx context.Context) {
	defer close(c.Events)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.logger.Warn("Websocket dial failed, retrying",
				zap.String("url", c.url),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		c.logger.Info("Websocket connected", zap.String("url", c.url))
		backoff = time.Second

		c.pump(ctx, conn)
		conn.Close()
	}
}

// pump reads one connection until it breaks or the context ends.
func (c *WSClient) pump(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	done := make(chan struct{})
	defer close(done)

	// Ping loop; also closes the connection when the context ends so the
	// blocking ReadMessage below unblocks.
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("Websocket read failed, reconnecting", zap.Error(err))
			}
			return
		}

		ev, closed, err := parseKlineEvent(message)
		if err != nil {
			c.logger.Debug("Skipping unparseable stream message", zap.Error(err))
			continue
		}
		if !closed {
			continue
		}

		select {
		case c.Events <- ev:
		default:
			c.logger.Warn("Event channel full, dropping candle",
				zap.String("symbol", ev.Symbol),
				zap.Time("open_time", ev.Candle.OpenTime),
			)
		}
	}
}

// wsKlinePayload mirrors the Binance kline stream wire format.
type wsKlinePayload struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

func parseKlineEvent(message []byte) (KlineEvent, bool, error) {
	var payload wsKlinePayload
	if err := json.Unmarshal(message, &payload); err != nil {
		return KlineEvent{}, false, fmt.Errorf("failed to unmarshal stream message: %w", err)
	}
	if payload.EventType != "kline" {
		return KlineEvent{}, false, fmt.Errorf("unexpected event type %q", payload.EventType)
	}

	k := payload.Kline
	parse := func(s string) float64 {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	ev := KlineEvent{
		Symbol:    payload.Symbol,
		Timeframe: market.Timeframe(k.Interval),
		Candle: market.Candle{
			OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
			CloseTime: time.UnixMilli(k.CloseTime).UTC(),
			Open:      parse(k.Open),
			High:      parse(k.High),
			Low:       parse(k.Low),
			Close:     parse(k.Close),
			Volume:    parse(k.Volume),
		},
	}
	return ev, k.Closed, nil
}
