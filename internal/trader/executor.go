package trader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"fvg-trade-bot-go/internal/binance"
	"fvg-trade-bot-go/internal/strategy"
)

// LiveExecutor realizes strategy orders on the exchange through the REST
// client. Entry sides follow the trade direction: longs buy, shorts sell.
type LiveExecutor struct {
	client binance.RestClientInterface
	logger *zap.Logger
	symbol string
}

var _ strategy.OrderExecutor = (*LiveExecutor)(nil)

func NewLiveExecutor(client binance.RestClientInterface, symbol string, logger *zap.Logger) *LiveExecutor {
	return &LiveExecutor{client: client, symbol: symbol, logger: logger}
}

func entrySide(d strategy.Direction) string {
	if d == strategy.Long {
		return binance.OrderSideBuy
	}
	return binance.OrderSideSell
}

// PlaceLimit implements strategy.OrderExecutor.
func (e *LiveExecutor) PlaceLimit(s *strategy.Setup) (strategy.OrderHandle, error) {
	resp, err := e.client.PlaceLimitOrder(e.symbol, entrySide(s.Direction), s.Size, s.Entry)
	if err != nil {
		return "", fmt.Errorf("failed to place limit entry: %w", err)
	}
	return strategy.OrderHandle(strconv.FormatInt(resp.OrderID, 10)), nil
}

// PlaceMarket implements strategy.OrderExecutor.
func (e *LiveExecutor) PlaceMarket(s *strategy.Setup) (float64, error) {
	resp, err := e.client.PlaceMarketOrder(e.symbol, entrySide(s.Direction), s.Size)
	if err != nil {
		return 0, fmt.Errorf("failed to place market entry: %w", err)
	}
	fill := resp.AvgFillPrice()
	if fill <= 0 {
		// Market order accepted but fills not echoed; fall back to the
		// intended entry so the position is at least approximately right.
		e.logger.Warn("Market order response had no fill price, using intended entry",
			zap.Int64("order_id", resp.OrderID))
		fill = s.Entry
	}
	return fill, nil
}

// Cancel implements strategy.OrderExecutor. An already-gone order is not
// an error.
func (e *LiveExecutor) Cancel(h strategy.OrderHandle) error {
	id, err := strconv.ParseInt(string(h), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order handle %q: %w", h, err)
	}
	if err := e.client.CancelOrder(e.symbol, id); err != nil {
		if strings.Contains(err.Error(), "-2011") || strings.Contains(err.Error(), "Unknown order") {
			return nil
		}
		return err
	}
	return nil
}

// Status implements strategy.OrderExecutor.
func (e *LiveExecutor) Status(h strategy.OrderHandle) (strategy.OrderState, error) {
	id, err := strconv.ParseInt(string(h), 10, 64)
	if err != nil {
		return strategy.OrderState{}, fmt.Errorf("invalid order handle %q: %w", h, err)
	}
	resp, err := e.client.GetOrderStatus(e.symbol, id)
	if err != nil {
		return strategy.OrderState{}, err
	}

	state := strategy.OrderState{
		Status:   mapOrderStatus(resp.Status),
		FillTime: time.UnixMilli(resp.UpdateTime).UTC(),
	}
	if state.Status == strategy.OrderFilled {
		state.FillPrice = resp.AvgFillPrice()
	}
	return state, nil
}

func mapOrderStatus(s string) strategy.OrderStatus {
	switch s {
	case "NEW":
		return strategy.OrderNew
	case "PARTIALLY_FILLED":
		return strategy.OrderPartially
	case "FILLED":
		return strategy.OrderFilled
	case "CANCELED", "PENDING_CANCEL", "REJECTED":
		return strategy.OrderCanceled
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return strategy.OrderExpired
	}
	return strategy.OrderCanceled
}
