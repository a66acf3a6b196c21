package trader

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fvg-trade-bot-go/internal/binance"
	"fvg-trade-bot-go/internal/market"
	"fvg-trade-bot-go/internal/strategy"
)

// MockRestClient is a mock implementation of the RestClientInterface.
type MockRestClient struct {
	mock.Mock
}

func (m *MockRestClient) GetServerTime() (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRestClient) GetKlines(symbol string, interval market.Timeframe, limit int) ([]market.Candle, error) {
	args := m.Called(symbol, interval, limit)
	return args.Get(0).([]market.Candle), args.Error(1)
}

func (m *MockRestClient) GetCurrentPrice(symbol string) (float64, error) {
	args := m.Called(symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockRestClient) GetExchangeInfo() (*binance.ExchangeInfoResponse, error) {
	args := m.Called()
	return args.Get(0).(*binance.ExchangeInfoResponse), args.Error(1)
}

func (m *MockRestClient) GetBalance(asset string) (float64, error) {
	args := m.Called(asset)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockRestClient) PlaceMarketOrder(symbol, side string, quantity float64) (*binance.CreateOrderResponse, error) {
	args := m.Called(symbol, side, quantity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*binance.CreateOrderResponse), args.Error(1)
}

func (m *MockRestClient) PlaceLimitOrder(symbol, side string, quantity, price float64) (*binance.CreateOrderResponse, error) {
	args := m.Called(symbol, side, quantity, price)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*binance.CreateOrderResponse), args.Error(1)
}

func (m *MockRestClient) CancelOrder(symbol string, orderID int64) error {
	args := m.Called(symbol, orderID)
	return args.Error(0)
}

func (m *MockRestClient) GetOrderStatus(symbol string, orderID int64) (*binance.OrderStatusResponse, error) {
	args := m.Called(symbol, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*binance.OrderStatusResponse), args.Error(1)
}

var _ binance.RestClientInterface = (*MockRestClient)(nil)

func shortSetup() *strategy.Setup {
	return &strategy.Setup{
		ID:        "setup-1",
		Direction: strategy.Short,
		Entry:     100,
		Stop:      102,
		Size:      5,
	}
}

func TestLiveExecutorPlaceLimit(t *testing.T) {
	client := new(MockRestClient)
	exec := NewLiveExecutor(client, "BTCUSDT", zap.NewNop())

	// Shorts sell to open.
	client.On("PlaceLimitOrder", "BTCUSDT", binance.OrderSideSell, 5.0, 100.0).
		Return(&binance.CreateOrderResponse{OrderID: 42}, nil)

	h, err := exec.PlaceLimit(shortSetup())
	require.NoError(t, err)
	assert.Equal(t, strategy.OrderHandle("42"), h)
	client.AssertExpectations(t)
}

func TestLiveExecutorPlaceMarket(t *testing.T) {
	t.Run("UsesAvgFillPrice", func(t *testing.T) {
		client := new(MockRestClient)
		exec := NewLiveExecutor(client, "BTCUSDT", zap.NewNop())

		s := shortSetup()
		s.Direction = strategy.Long
		client.On("PlaceMarketOrder", "BTCUSDT", binance.OrderSideBuy, 5.0).
			Return(&binance.CreateOrderResponse{
				OrderID:             43,
				ExecutedQuantity:    "5",
				CummulativeQuoteQty: "500.5",
			}, nil)

		fill, err := exec.PlaceMarket(s)
		require.NoError(t, err)
		assert.InDelta(t, 100.1, fill, 1e-9)
	})

	t.Run("FallsBackToIntendedEntry", func(t *testing.T) {
		client := new(MockRestClient)
		exec := NewLiveExecutor(client, "BTCUSDT", zap.NewNop())

		client.On("PlaceMarketOrder", "BTCUSDT", binance.OrderSideSell, 5.0).
			Return(&binance.CreateOrderResponse{OrderID: 44}, nil)

		fill, err := exec.PlaceMarket(shortSetup())
		require.NoError(t, err)
		assert.Equal(t, 100.0, fill)
	})

	t.Run("ErrorPropagates", func(t *testing.T) {
		client := new(MockRestClient)
		exec := NewLiveExecutor(client, "BTCUSDT", zap.NewNop())

		client.On("PlaceMarketOrder", "BTCUSDT", binance.OrderSideSell, 5.0).
			Return(nil, errors.New("insufficient balance"))

		_, err := exec.PlaceMarket(shortSetup())
		assert.Error(t, err)
	})
}

func TestLiveExecutorCancel(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		client := new(MockRestClient)
		exec := NewLiveExecutor(client, "BTCUSDT", zap.NewNop())
		client.On("CancelOrder", "BTCUSDT", int64(42)).Return(nil)
		assert.NoError(t, exec.Cancel("42"))
	})

	t.Run("UnknownOrderSwallowed", func(t *testing.T) {
		client := new(MockRestClient)
		exec := NewLiveExecutor(client, "BTCUSDT", zap.NewNop())
		client.On("CancelOrder", "BTCUSDT", int64(42)).
			Return(errors.New(`API error (status 400): {"code":-2011,"msg":"Unknown order sent."}`))
		assert.NoError(t, exec.Cancel("42"))
	})

	t.Run("OtherErrorsSurface", func(t *testing.T) {
		client := new(MockRestClient)
		exec := NewLiveExecutor(client, "BTCUSDT", zap.NewNop())
		client.On("CancelOrder", "BTCUSDT", int64(42)).
			Return(errors.New("network timeout"))
		assert.Error(t, exec.Cancel("42"))
	})

	t.Run("BadHandle", func(t *testing.T) {
		exec := NewLiveExecutor(new(MockRestClient), "BTCUSDT", zap.NewNop())
		assert.Error(t, exec.Cancel("not-a-number"))
	})
}

func TestLiveExecutorStatus(t *testing.T) {
	client := new(MockRestClient)
	exec := NewLiveExecutor(client, "BTCUSDT", zap.NewNop())

	updated := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	client.On("GetOrderStatus", "BTCUSDT", int64(42)).
		Return(&binance.OrderStatusResponse{
			OrderID:             42,
			Status:              "FILLED",
			ExecutedQuantity:    "5",
			CummulativeQuoteQty: "500",
			UpdateTime:          updated.UnixMilli(),
		}, nil)

	st, err := exec.Status("42")
	require.NoError(t, err)
	assert.Equal(t, strategy.OrderFilled, st.Status)
	assert.Equal(t, 100.0, st.FillPrice)
	assert.Equal(t, updated, st.FillTime)
}

func TestMapOrderStatus(t *testing.T) {
	cases := map[string]strategy.OrderStatus{
		"NEW":              strategy.OrderNew,
		"PARTIALLY_FILLED": strategy.OrderPartially,
		"FILLED":           strategy.OrderFilled,
		"CANCELED":         strategy.OrderCanceled,
		"PENDING_CANCEL":   strategy.OrderCanceled,
		"REJECTED":         strategy.OrderCanceled,
		"EXPIRED":          strategy.OrderExpired,
		"EXPIRED_IN_MATCH": strategy.OrderExpired,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapOrderStatus(in), in)
	}
}
