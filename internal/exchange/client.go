package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"rwa-trader/internal/config"
)

// marketAPI 收敛本包用到的 ccxt 调用，便于测试替换。
type marketAPI struct {
	loadMarkets    func() error
	fetchTicker    func(symbol string) (ccxt.Ticker, error)
	fetchOrderBook func(symbol string, depth int64) (ccxt.OrderBook, error)
}

// Client 负责从参考交易所拉取行情并实现重试机制。
type Client struct {
	cfg    config.ReferenceConfig
	logger *zap.Logger
	api    marketAPI
	symbol string

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 构造基于 Binance USDⓈ-M 的参考价格客户端，只使用公开行情接口。
func NewClient(cfg config.ReferenceConfig, logger *zap.Logger) (*Client, error) {
	if cfg.Symbol == "" {
		return nil, errors.New("exchange: 参考交易对不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ex := ccxt.NewBinanceusdm(map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	})
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	api := marketAPI{
		loadMarkets: func() error {
			_, err := ex.LoadMarkets()
			return err
		},
		fetchTicker: func(symbol string) (ccxt.Ticker, error) {
			return ex.FetchTicker(symbol)
		},
		fetchOrderBook: func(symbol string, depth int64) (ccxt.OrderBook, error) {
			return ex.FetchOrderBook(symbol, ccxt.WithFetchOrderBookLimit(depth))
		},
	}

	return newClient(cfg, api, logger), nil
}

func newClient(cfg config.ReferenceConfig, api marketAPI, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger,
		api:    api,
		symbol: cfg.Symbol,
	}
}

// Symbol 返回参考交易对。
func (c *Client) Symbol() string {
	return c.symbol
}

// FetchTicker 获取最新 ticker。
func (c *Client) FetchTicker(ctx context.Context) (Ticker, error) {
	var raw ccxt.Ticker
	err := c.callWithRetry(ctx, "fetch_ticker", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		ticker, err := c.api.fetchTicker(c.symbol)
		if err != nil {
			return err
		}
		raw = ticker
		return nil
	})
	if err != nil {
		return Ticker{}, err
	}
	return convertTicker(c.symbol, raw), nil
}

// FetchOrderBook 获取订单簿快照。
func (c *Client) FetchOrderBook(ctx context.Context, depth int64) (OrderBookSnapshot, error) {
	if depth <= 0 {
		depth = 20
	}

	var raw ccxt.OrderBook
	err := c.callWithRetry(ctx, "fetch_order_book", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		orderBook, err := c.api.fetchOrderBook(c.symbol, depth)
		if err != nil {
			return err
		}
		raw = orderBook
		return nil
	})
	if err != nil {
		return OrderBookSnapshot{}, err
	}

	return convertOrderBook(c.symbol, raw), nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	if err := c.api.loadMarkets(); err != nil {
		return err
	}

	c.marketsLoaded = true
	c.logger.Info("已完成参考市场元数据加载", zap.String("symbol", c.symbol))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("参考行情调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("参考交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= maxAttempts {
			c.logger.Error("参考行情调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("参考行情调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		if ccxtErr.Type == ccxt.OnMaintenanceErrType {
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		}
		return err, IsRetryable(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}

func convertTicker(symbol string, t ccxt.Ticker) Ticker {
	ts := time.Now().UTC()
	if t.Timestamp != nil {
		ts = time.UnixMilli(*t.Timestamp).UTC()
	}
	return Ticker{
		Symbol:    symbol,
		Bid:       deref(t.Bid),
		Ask:       deref(t.Ask),
		Last:      deref(t.Last),
		Timestamp: ts,
	}
}

func convertOrderBook(symbol string, ob ccxt.OrderBook) OrderBookSnapshot {
	bids := make([]OrderBookLevel, 0, len(ob.Bids))
	for _, level := range ob.Bids {
		if len(level) < 2 {
			continue
		}
		bids = append(bids, OrderBookLevel{Price: level[0], Amount: level[1]})
	}

	asks := make([]OrderBookLevel, 0, len(ob.Asks))
	for _, level := range ob.Asks {
		if len(level) < 2 {
			continue
		}
		asks = append(asks, OrderBookLevel{Price: level[0], Amount: level[1]})
	}

	var ts time.Time
	if ob.Timestamp != nil {
		ts = time.UnixMilli(*ob.Timestamp).UTC()
	} else {
		ts = time.Now().UTC()
	}

	return OrderBookSnapshot{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ts,
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
