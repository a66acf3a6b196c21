package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"fvg-trade-bot-go/internal/config"
	"fvg-trade-bot-go/internal/market"
)

const (
	baseURL        = "https://api.binance.com/api/v3"
	testnetBaseURL = "https://testnet.binance.vision/api/v3"
	recvWindow     = "5000" // How long a request is valid in milliseconds

	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
	OrderSideBuy    = "BUY"
	OrderSideSell   = "SELL"
)

// RestClientInterface defines the interface for the Binance REST API client.
type RestClientInterface interface {
	GetServerTime() (int64, error)
	GetKlines(symbol string, interval market.Timeframe, limit int) ([]market.Candle, error)
	GetCurrentPrice(symbol string) (float64, error)
	GetExchangeInfo() (*ExchangeInfoResponse, error)
	GetBalance(asset string) (float64, error)
	PlaceMarketOrder(symbol, side string, quantity float64) (*CreateOrderResponse, error)
	PlaceLimitOrder(symbol, side string, quantity, price float64) (*CreateOrderResponse, error)
	CancelOrder(symbol string, orderID int64) error
	GetOrderStatus(symbol string, orderID int64) (*OrderStatusResponse, error)
}

// RestClient is a client for the Binance REST API.
// It implements the RestClientInterface.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new Binance REST API client.
func NewRestClient(cfg *config.Binance, logger *zap.Logger) *RestClient {
	var url string
	if cfg.Testnet {
		url = testnetBaseURL
		logger.Warn("Using Binance Testnet")
	} else {
		url = baseURL
		logger.Info("Using Binance Production API")
	}

	client := resty.New().SetBaseURL(url)

	// Initialize the rate limiter
	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		logger:    logger,
		limiter:   limiter,
	}
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// GetServerTime fetches the current server time from Binance.
// This is a good endpoint to test connectivity.
func (c *RestClient) GetServerTime() (int64, error) {
	type ServerTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := c.client.R().
		SetResult(&ServerTimeResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/time", req)
	if err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	result := resp.Result().(*ServerTimeResponse)
	return result.ServerTime, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 { // HTTP 429 or 418
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// GetKlines fetches the most recent candles for a symbol and interval.
// Binance returns klines oldest first, including the still-open last
// candle; the caller decides what to do with it.
func (c *RestClient) GetKlines(symbol string, interval market.Timeframe, limit int) ([]market.Candle, error) {
	var raw [][]interface{}

	req := c.client.R().
		SetResult(&raw).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": string(interval),
			"limit":    strconv.Itoa(limit),
		})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/klines", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines for %s %s: %w", symbol, interval, err)
	}

	rows := *resp.Result().(*[][]interface{})
	candles := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("failed to parse kline for %s: %w", symbol, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// parseKline converts one raw kline row into a candle. Binance encodes
// timestamps as millisecond numbers and prices as strings.
func parseKline(row []interface{}) (market.Candle, error) {
	if len(row) < 7 {
		return market.Candle{}, fmt.Errorf("kline row too short: %d fields", len(row))
	}

	openMs, ok := row[0].(float64)
	if !ok {
		return market.Candle{}, fmt.Errorf("invalid open time %v", row[0])
	}
	closeMs, ok := row[6].(float64)
	if !ok {
		return market.Candle{}, fmt.Errorf("invalid close time %v", row[6])
	}

	prices := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := row[i].(string)
		if !ok {
			return market.Candle{}, fmt.Errorf("invalid price field %v", row[i])
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return market.Candle{}, fmt.Errorf("invalid price %q: %w", s, err)
		}
		prices[i-1] = v
	}

	return market.Candle{
		OpenTime:  time.UnixMilli(int64(openMs)).UTC(),
		CloseTime: time.UnixMilli(int64(closeMs)).UTC(),
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    prices[4],
	}, nil
}

// TickerPrice represents the response for a single ticker price.
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetCurrentPrice fetches the latest price for one symbol.
func (c *RestClient) GetCurrentPrice(symbol string) (float64, error) {
	var ticker TickerPrice

	req := c.client.R().
		SetResult(&ticker).
		SetQueryParam("symbol", symbol)
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/ticker/price", req)
	if err != nil {
		return 0, fmt.Errorf("failed to get price for %s: %w", symbol, err)
	}

	result := resp.Result().(*TickerPrice)
	price, err := strconv.ParseFloat(result.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q for %s: %w", result.Price, symbol, err)
	}
	return price, nil
}

// ExchangeInfoResponse represents the full response from the /exchangeInfo endpoint.
type ExchangeInfoResponse struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo contains information about a specific trading symbol.
type SymbolInfo struct {
	Symbol  string   `json:"symbol"`
	Status  string   `json:"status"`
	Filters []Filter `json:"filters"`
}

// Filter represents a single filter for a symbol.
// We are interested in LOT_SIZE (stepSize, minQty) and NOTIONAL (minNotional).
type Filter struct {
	FilterType  string `json:"filterType"`
	MinQty      string `json:"minQty,omitempty"`
	MaxQty      string `json:"maxQty,omitempty"`
	StepSize    string `json:"stepSize,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
}

// GetExchangeInfo fetches exchange trading rules and symbol information.
func (c *RestClient) GetExchangeInfo() (*ExchangeInfoResponse, error) {
	var exchangeInfo ExchangeInfoResponse

	req := c.client.R().
		SetResult(&exchangeInfo).
		SetHeader("Content-Type", "application/json")
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/exchangeInfo", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", err)
	}

	return resp.Result().(*ExchangeInfoResponse), nil
}

// LotRules extracts the sizing constraints for one symbol from exchange
// info. Missing filters leave the corresponding field at zero.
func (r *ExchangeInfoResponse) LotRules(symbol string) (stepSize, minQty, minNotional float64) {
	for _, s := range r.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				stepSize, _ = strconv.ParseFloat(f.StepSize, 64)
				minQty, _ = strconv.ParseFloat(f.MinQty, 64)
			case "NOTIONAL", "MIN_NOTIONAL":
				minNotional, _ = strconv.ParseFloat(f.MinNotional, 64)
			}
		}
		return
	}
	return
}

// AccountResponse represents the spot account endpoint response.
type AccountResponse struct {
	Balances []AssetBalance `json:"balances"`
}

// AssetBalance is one asset's free/locked pair.
type AssetBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// GetBalance fetches the free balance of one asset.
func (c *RestClient) GetBalance(asset string) (float64, error) {
	params := url.Values{}
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)
	params.Set("signature", c.sign(params.Encode()))

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryParamsFromValues(params).
		SetResult(&AccountResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/account", req)
	if err != nil {
		return 0, fmt.Errorf("failed to get account balances: %w", err)
	}

	result := resp.Result().(*AccountResponse)
	for _, b := range result.Balances {
		if b.Asset == asset {
			free, err := strconv.ParseFloat(b.Free, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid balance %q for %s: %w", b.Free, asset, err)
			}
			return free, nil
		}
	}
	return 0, fmt.Errorf("asset %s not found in account", asset)
}

// CreateOrderResponse represents the response from creating a new order.
type CreateOrderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	TransactTime        int64  `json:"transactTime"`
	Price               string `json:"price"`
	OrigQuantity        string `json:"origQty"`
	ExecutedQuantity    string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	TimeInForce         string `json:"timeInForce"`
	Type                string `json:"type"`
	Side                string `json:"side"`
}

// AvgFillPrice derives the average fill price from the cumulative quote
// quantity. Returns 0 when nothing has executed yet.
func (r *CreateOrderResponse) AvgFillPrice() float64 {
	executed, err1 := strconv.ParseFloat(r.ExecutedQuantity, 64)
	quote, err2 := strconv.ParseFloat(r.CummulativeQuoteQty, 64)
	if err1 != nil || err2 != nil || executed <= 0 {
		return 0
	}
	return quote / executed
}

// PlaceMarketOrder places a MARKET order on Binance.
func (c *RestClient) PlaceMarketOrder(symbol, side string, quantity float64) (*CreateOrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", OrderTypeMarket)
	params.Set("quantity", fmt.Sprintf("%f", quantity))
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)

	return c.submitOrder(symbol, params)
}

// PlaceLimitOrder places a GTC LIMIT order on Binance.
func (c *RestClient) PlaceLimitOrder(symbol, side string, quantity, price float64) (*CreateOrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", OrderTypeLimit)
	params.Set("timeInForce", "GTC")
	params.Set("quantity", fmt.Sprintf("%f", quantity))
	params.Set("price", fmt.Sprintf("%f", price))
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)

	return c.submitOrder(symbol, params)
}

func (c *RestClient) submitOrder(symbol string, params url.Values) (*CreateOrderResponse, error) {
	queryString := params.Encode()
	signature := c.sign(queryString)
	params.Set("signature", signature)

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(params.Encode()).
		SetResult(&CreateOrderResponse{})

	ctx := context.Background()

	resp, err := c.doRequest(ctx, "POST", "/order", req)
	if err != nil {
		c.logger.Error("Failed to create order after multiple attempts",
			zap.Error(err),
			zap.String("symbol", symbol),
		)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	result := resp.Result().(*CreateOrderResponse)
	c.logger.Info("Successfully created order", zap.Any("order", result))
	return result, nil
}

// CancelOrder cancels an open order.
func (c *RestClient) CancelOrder(symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)
	params.Set("signature", c.sign(params.Encode()))

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryParamsFromValues(params)
	ctx := context.Background()

	if _, err := c.doRequest(ctx, "DELETE", "/order", req); err != nil {
		return fmt.Errorf("failed to cancel order %d: %w", orderID, err)
	}
	return nil
}

// OrderStatusResponse represents the response from querying an order.
type OrderStatusResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	Price               string `json:"price"`
	OrigQuantity        string `json:"origQty"`
	ExecutedQuantity    string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	UpdateTime          int64  `json:"updateTime"`
}

// AvgFillPrice derives the average fill price from the cumulative quote
// quantity. Returns 0 when nothing has executed yet.
func (r *OrderStatusResponse) AvgFillPrice() float64 {
	executed, err1 := strconv.ParseFloat(r.ExecutedQuantity, 64)
	quote, err2 := strconv.ParseFloat(r.CummulativeQuoteQty, 64)
	if err1 != nil || err2 != nil || executed <= 0 {
		return 0
	}
	return quote / executed
}

// GetOrderStatus queries the current state of an order.
func (c *RestClient) GetOrderStatus(symbol string, orderID int64) (*OrderStatusResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)
	params.Set("signature", c.sign(params.Encode()))

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryParamsFromValues(params).
		SetResult(&OrderStatusResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/order", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get order status %d: %w", orderID, err)
	}
	return resp.Result().(*OrderStatusResponse), nil
}
