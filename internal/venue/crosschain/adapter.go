package crosschain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rwa-trader/internal/execution"
	"rwa-trader/internal/venue"
)

const source = "cross_chain_access"

var _ venue.Adapter = (*Adapter)(nil)

// Adapter 实现 Cross-Chain Access 场所：受交易时段与账户状态约束，支持跨链交付。
type Adapter struct {
	client    Client
	gate      Gate
	submitter *execution.Submitter
	quoteTTL  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// New 创建适配器。gate 为空时仅依赖券商返回的开市状态。
func New(client Client, gate Gate, submitter *execution.Submitter, quoteTTL time.Duration, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if submitter == nil {
		submitter = execution.NewSubmitter(nil, 0, logger)
	}
	return &Adapter{
		client:    client,
		gate:      gate,
		submitter: submitter,
		quoteTTL:  quoteTTL,
		logger:    logger.With(zap.String("venue", string(venue.CrossChainAccess))),
		now:       time.Now,
	}
}

// ID 返回场所标识。
func (a *Adapter) ID() venue.ID {
	return venue.CrossChainAccess
}

// CheckAvailability 依次检查交易时段与账户状态。
func (a *Adapter) CheckAvailability(ctx context.Context) (venue.Availability, error) {
	if open, message := a.marketStatus(); !open {
		return venue.Unavailable(venue.CrossChainAccess, venue.ReasonMarketClosed, message), nil
	}

	status, err := a.client.AccountStatus(ctx)
	if err != nil {
		return venue.Availability{}, venue.CallError(venue.CrossChainAccess, "查询账户状态", err)
	}

	switch {
	case status.AccountBlocked:
		return venue.Unavailable(venue.CrossChainAccess, venue.ReasonAccountBlocked, "账户已冻结"), nil
	case status.TradingBlocked:
		return venue.Unavailable(venue.CrossChainAccess, venue.ReasonTradingBlocked, "账户禁止交易"), nil
	case !status.MarketOpen:
		return venue.Unavailable(venue.CrossChainAccess, venue.ReasonMarketClosed, "券商报告休市"), nil
	}

	return venue.Available(venue.CrossChainAccess, "交易时段内，账户正常"), nil
}

// GetQuote 按股票代码获取券商报价。买入时额外校验购买力。
func (a *Adapter) GetQuote(ctx context.Context, req venue.TradeRequest) (venue.Quote, error) {
	if err := req.Validate(); err != nil {
		return venue.Quote{}, fmt.Errorf("crosschain: %w", err)
	}
	if req.Pair.Base.Symbol == "" {
		return venue.Quote{}, venue.NewUnavailable(venue.CrossChainAccess, venue.ReasonUnsupportedPair, "缺少股票代码", nil)
	}
	if open, message := a.marketStatus(); !open {
		return venue.Quote{}, venue.NewUnavailable(venue.CrossChainAccess, venue.ReasonMarketClosed, message, nil)
	}

	priced, err := a.client.Quote(ctx, req.Pair.Base.Symbol)
	if err != nil {
		if errors.Is(err, ErrSymbolNotFound) {
			return venue.Quote{}, venue.NewUnavailable(venue.CrossChainAccess, venue.ReasonUnsupportedPair, req.Pair.Base.Symbol, err)
		}
		return venue.Quote{}, venue.CallError(venue.CrossChainAccess, "获取报价", err)
	}
	if !priced.Rate.IsPositive() {
		return venue.Quote{}, venue.NewUnavailable(venue.CrossChainAccess, venue.ReasonUnsupportedPair,
			fmt.Sprintf("%s 无有效报价", req.Pair.Base.Symbol), nil)
	}

	if req.Side == venue.SideBuy {
		funds, err := a.client.AccountFunds(ctx)
		if err != nil {
			return venue.Quote{}, venue.CallError(venue.CrossChainAccess, "查询账户资金", err)
		}
		if funds.EffectiveBuyingPower.LessThan(req.Amount) {
			return venue.Quote{}, venue.NewUnavailable(venue.CrossChainAccess, venue.ReasonInsufficientBalance,
				fmt.Sprintf("购买力 %s 小于 %s", funds.EffectiveBuyingPower, req.Amount), nil)
		}
	}

	sell, buy := venue.Fill(req.Side, req.Amount, priced.Rate)
	quote := venue.Quote{
		ID:         uuid.NewString(),
		Venue:      venue.CrossChainAccess,
		Pair:       req.Pair,
		Side:       req.Side,
		Price:      priced.Rate,
		Size:       venue.BaseSize(req.Side, req.Amount, priced.Rate),
		SellAmount: sell,
		BuyAmount:  buy,
		Source:     source,
		Timestamp:  a.now().UTC(),
		ValidFor:   a.quoteTTL,
		Request:    req,
	}

	a.logger.Debug("获取报价",
		zap.String("quote_id", quote.ID),
		zap.String("pair", req.Pair.String()),
		zap.String("side", string(req.Side)),
		zap.String("price", quote.Price.String()),
	)
	return quote, nil
}

// Execute 再次确认开市后提交买入或卖出，每个报价只会提交一次。
func (a *Adapter) Execute(ctx context.Context, quote venue.Quote) (venue.ExecutionResult, error) {
	if quote.Venue != venue.CrossChainAccess {
		return venue.ExecutionResult{}, venue.Rejected(venue.CrossChainAccess, quote.ID,
			fmt.Errorf("报价来自场所 %s", quote.Venue))
	}
	if quote.Expired(a.now()) {
		return venue.ExecutionResult{}, venue.Rejected(venue.CrossChainAccess, quote.ID, venue.ErrQuoteExpired)
	}
	if open, message := a.marketStatus(); !open {
		return venue.ExecutionResult{}, venue.Rejected(venue.CrossChainAccess, quote.ID,
			venue.NewUnavailable(venue.CrossChainAccess, venue.ReasonMarketClosed, message, nil))
	}

	order := OrderRequest{
		Pair:          quote.Pair,
		Amount:        quote.SellAmount,
		Rate:          quote.Price,
		TargetChainID: quote.Request.TargetChainID,
	}

	return a.submitter.Submit(ctx, venue.CrossChainAccess, quote, func(ctx context.Context) (venue.ExecutionResult, error) {
		var (
			filled Order
			err    error
		)
		if quote.Side == venue.SideSell {
			filled, err = a.client.Sell(ctx, order)
		} else {
			filled, err = a.client.Buy(ctx, order)
		}
		if err != nil {
			if rejectedBeforeSubmit(err) {
				return venue.ExecutionResult{}, venue.Rejected(venue.CrossChainAccess, quote.ID, err)
			}
			return venue.ExecutionResult{}, err
		}

		rate := filled.Rate
		if !rate.IsPositive() {
			rate = quote.Price
		}
		return venue.ExecutionResult{
			OrderID:       filled.OrderID,
			TxHash:        filled.TxHash,
			SellAmount:    filled.SellAmount,
			BuyAmount:     filled.BuyAmount,
			Rate:          rate,
			TargetChainID: order.TargetChainID,
		}, nil
	})
}

func (a *Adapter) marketStatus() (bool, string) {
	if a.gate == nil {
		return true, ""
	}
	return a.gate.Status()
}

func rejectedBeforeSubmit(err error) bool {
	return errors.Is(err, ErrMarketClosed) ||
		errors.Is(err, ErrAccountBlocked) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrSymbolNotFound)
}
