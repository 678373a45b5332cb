package simulation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rwa-trader/internal/config"
	"rwa-trader/internal/venue/crosschain"
	"rwa-trader/internal/wallet"
)

var _ crosschain.Client = (*CrossChain)(nil)

// CrossChain 模拟券商账户：按中间价加点报价，买入扣减购买力，卖出扣减持仓。
type CrossChain struct {
	cfg    config.SimulatedVenueConfig
	price  Pricer
	logger *zap.Logger

	mu          sync.Mutex
	buyingPower decimal.Decimal
	holdings    decimal.Decimal
}

// NewCrossChain 创建模拟券商。Balance 同时作为初始 USDC 购买力与 RWA 持仓。
func NewCrossChain(cfg config.SimulatedVenueConfig, price Pricer, logger *zap.Logger) *CrossChain {
	if logger == nil {
		logger = zap.NewNop()
	}
	balance := decimal.NewFromFloat(cfg.Balance)
	return &CrossChain{
		cfg:         cfg,
		price:       price,
		logger:      logger,
		buyingPower: balance,
		holdings:    balance,
	}
}

// AccountStatus 返回账户状态。开市判断交给交易日历。
func (c *CrossChain) AccountStatus(ctx context.Context) (crosschain.AccountStatus, error) {
	if err := sleep(ctx, c.cfg.Latency/3); err != nil {
		return crosschain.AccountStatus{}, err
	}
	return crosschain.AccountStatus{
		AccountBlocked: c.cfg.Blocked,
		MarketOpen:     true,
	}, nil
}

// AccountFunds 返回账户资金。
func (c *CrossChain) AccountFunds(ctx context.Context) (crosschain.Funds, error) {
	if err := sleep(ctx, c.cfg.Latency/3); err != nil {
		return crosschain.Funds{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return crosschain.Funds{
		Cash:                  c.buyingPower,
		BuyingPower:           c.buyingPower,
		DayTradingBuyingPower: c.buyingPower,
		EffectiveBuyingPower:  c.buyingPower,
	}, nil
}

// Quote 返回中间价加上点差后的价格。
func (c *CrossChain) Quote(ctx context.Context, symbol string) (crosschain.PriceQuote, error) {
	if err := sleep(ctx, c.cfg.Latency); err != nil {
		return crosschain.PriceQuote{}, err
	}
	mid, err := c.price(ctx)
	if err != nil {
		return crosschain.PriceQuote{}, err
	}
	return crosschain.PriceQuote{
		Symbol:    symbol,
		Rate:      mid.Mul(bps(c.cfg.SpreadBps)).Round(6),
		Timestamp: time.Now().UTC(),
	}, nil
}

// Buy 以 USDC 买入 RWA。
func (c *CrossChain) Buy(ctx context.Context, req crosschain.OrderRequest) (crosschain.Order, error) {
	if err := c.precheck(ctx, req); err != nil {
		return crosschain.Order{}, err
	}

	c.mu.Lock()
	if c.buyingPower.LessThan(req.Amount) {
		available := c.buyingPower
		c.mu.Unlock()
		return crosschain.Order{}, fmt.Errorf("%w: 需要 %s，可用 %s", crosschain.ErrInsufficientFunds, req.Amount, available)
	}
	received := req.Amount.Div(req.Rate)
	c.buyingPower = c.buyingPower.Sub(req.Amount)
	c.holdings = c.holdings.Add(received)
	c.mu.Unlock()

	return c.order("buy", req, received), nil
}

// Sell 卖出 RWA 换回 USDC。
func (c *CrossChain) Sell(ctx context.Context, req crosschain.OrderRequest) (crosschain.Order, error) {
	if err := c.precheck(ctx, req); err != nil {
		return crosschain.Order{}, err
	}

	c.mu.Lock()
	if c.holdings.LessThan(req.Amount) {
		available := c.holdings
		c.mu.Unlock()
		return crosschain.Order{}, fmt.Errorf("%w: 持仓 %s 小于 %s", crosschain.ErrInsufficientFunds, available, req.Amount)
	}
	received := req.Amount.Mul(req.Rate)
	c.holdings = c.holdings.Sub(req.Amount)
	c.buyingPower = c.buyingPower.Add(received)
	c.mu.Unlock()

	return c.order("sell", req, received), nil
}

func (c *CrossChain) precheck(ctx context.Context, req crosschain.OrderRequest) error {
	if err := sleep(ctx, c.cfg.Latency); err != nil {
		return err
	}
	if c.cfg.Blocked {
		return crosschain.ErrAccountBlocked
	}
	if !req.Amount.IsPositive() || !req.Rate.IsPositive() {
		return fmt.Errorf("simulation: 无效订单 amount=%s rate=%s", req.Amount, req.Rate)
	}
	return nil
}

func (c *CrossChain) order(action string, req crosschain.OrderRequest, received decimal.Decimal) crosschain.Order {
	orderID := uuid.NewString()
	chain := "home"
	if req.TargetChainID != nil {
		chain = fmt.Sprintf("%d", *req.TargetChainID)
	}
	txHash := wallet.TxHash("cross_chain_access", action, orderID, chain)

	c.logger.Info("模拟券商成交",
		zap.String("action", action),
		zap.String("order_id", orderID),
		zap.String("pair", req.Pair.String()),
		zap.String("amount", req.Amount.String()),
		zap.String("received", received.String()),
		zap.String("target_chain", chain),
	)

	return crosschain.Order{
		OrderID:    orderID,
		TxHash:     txHash,
		SellAmount: req.Amount,
		BuyAmount:  received,
		Rate:       req.Rate,
	}
}
