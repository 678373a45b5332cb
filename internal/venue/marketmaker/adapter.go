package marketmaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rwa-trader/internal/execution"
	"rwa-trader/internal/venue"
)

const source = "market_maker"

var _ venue.Adapter = (*Adapter)(nil)

// Adapter 实现 Market Maker 场所：全天候可用，流动性取决于现有报单。
type Adapter struct {
	client     Client
	submitter  *execution.Submitter
	offerLimit int
	quoteTTL   time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// New 创建适配器。
func New(client Client, submitter *execution.Submitter, offerLimit int, quoteTTL time.Duration, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if submitter == nil {
		submitter = execution.NewSubmitter(nil, 0, logger)
	}
	if offerLimit <= 0 {
		offerLimit = 5
	}
	return &Adapter{
		client:     client,
		submitter:  submitter,
		offerLimit: offerLimit,
		quoteTTL:   quoteTTL,
		logger:     logger.With(zap.String("venue", string(venue.MarketMaker))),
		now:        time.Now,
	}
}

// ID 返回场所标识。
func (a *Adapter) ID() venue.ID {
	return venue.MarketMaker
}

// CheckAvailability 报单簿全天候开放，流动性在报价时判断。
func (a *Adapter) CheckAvailability(context.Context) (venue.Availability, error) {
	return venue.Available(venue.MarketMaker, "24/7"), nil
}

// GetQuote 校验余额后按最优报单组合计算加权价格。
func (a *Adapter) GetQuote(ctx context.Context, req venue.TradeRequest) (venue.Quote, error) {
	if err := req.Validate(); err != nil {
		return venue.Quote{}, fmt.Errorf("marketmaker: %w", err)
	}

	from, to := tokenKey(req.FromToken()), tokenKey(req.ToToken())

	balance, err := a.client.TokenBalance(ctx, from)
	if err != nil {
		return venue.Quote{}, venue.CallError(venue.MarketMaker, "查询余额", err)
	}
	if balance.LessThan(req.Amount) {
		return venue.Quote{}, venue.NewUnavailable(venue.MarketMaker, venue.ReasonInsufficientBalance,
			fmt.Sprintf("%s 余额 %s 小于 %s", req.FromToken().Symbol, balance, req.Amount), nil)
	}

	selection, err := a.client.BestOffers(ctx, OfferQuery{
		SellToken: from,
		BuyToken:  to,
		Amount:    req.Amount,
		Limit:     a.offerLimit,
	})
	if err != nil {
		if errors.Is(err, ErrNoOffers) {
			return venue.Quote{}, venue.NewUnavailable(venue.MarketMaker, venue.ReasonNoOffers, req.Pair.String(), err)
		}
		return venue.Quote{}, venue.CallError(venue.MarketMaker, "查询最优报单", err)
	}

	price, filled, ids := weigh(selection.Offers)
	if len(ids) == 0 || !price.IsPositive() {
		return venue.Quote{}, venue.NewUnavailable(venue.MarketMaker, venue.ReasonNoOffers,
			fmt.Sprintf("%s 无可用报单", req.Pair.String()), nil)
	}
	if filled.LessThan(req.Amount) {
		return venue.Quote{}, venue.NewUnavailable(venue.MarketMaker, venue.ReasonNoOffers,
			fmt.Sprintf("报单流动性 %s 小于 %s", filled, req.Amount), nil)
	}

	sell, buy := venue.Fill(req.Side, req.Amount, price)
	quote := venue.Quote{
		ID:         uuid.NewString(),
		Venue:      venue.MarketMaker,
		Pair:       req.Pair,
		Side:       req.Side,
		Price:      price,
		Size:       venue.BaseSize(req.Side, req.Amount, price),
		SellAmount: sell,
		BuyAmount:  buy,
		Source:     source,
		Refs:       ids,
		Timestamp:  a.now().UTC(),
		ValidFor:   a.quoteTTL,
		Request:    req,
	}

	a.logger.Debug("获取报价",
		zap.String("quote_id", quote.ID),
		zap.String("pair", req.Pair.String()),
		zap.String("side", string(req.Side)),
		zap.String("price", price.String()),
		zap.Int("offers", len(ids)),
	)
	return quote, nil
}

// Execute 按报价选中的报单吃单，每个报价只会提交一次。
func (a *Adapter) Execute(ctx context.Context, quote venue.Quote) (venue.ExecutionResult, error) {
	if quote.Venue != venue.MarketMaker {
		return venue.ExecutionResult{}, venue.Rejected(venue.MarketMaker, quote.ID,
			fmt.Errorf("报价来自场所 %s", quote.Venue))
	}
	if quote.Expired(a.now()) {
		return venue.ExecutionResult{}, venue.Rejected(venue.MarketMaker, quote.ID, venue.ErrQuoteExpired)
	}

	order := TradeOrder{
		SellToken: tokenKey(quote.Request.FromToken()),
		BuyToken:  tokenKey(quote.Request.ToToken()),
		Amount:    quote.SellAmount,
		OfferIDs:  quote.Refs,
	}

	return a.submitter.Submit(ctx, venue.MarketMaker, quote, func(ctx context.Context) (venue.ExecutionResult, error) {
		filled, err := a.client.Trade(ctx, order)
		if err != nil {
			if errors.Is(err, ErrOfferTaken) || errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrNoOffers) {
				return venue.ExecutionResult{}, venue.Rejected(venue.MarketMaker, quote.ID, err)
			}
			return venue.ExecutionResult{}, err
		}

		rate := quote.Price
		if filled.SellAmount.IsPositive() && filled.BuyAmount.IsPositive() {
			if quote.Side == venue.SideSell {
				rate = filled.BuyAmount.Div(filled.SellAmount)
			} else {
				rate = filled.SellAmount.Div(filled.BuyAmount)
			}
		}
		return venue.ExecutionResult{
			OrderID:    filled.OrderID,
			TxHash:     filled.TxHash,
			SellAmount: filled.SellAmount,
			BuyAmount:  filled.BuyAmount,
			Rate:       rate,
		}, nil
	})
}

// weigh 返回报单的加权平均价格、总量与报单 ID。
func weigh(offers []Offer) (decimal.Decimal, decimal.Decimal, []string) {
	total := decimal.Zero
	notional := decimal.Zero
	ids := make([]string, 0, len(offers))
	for _, offer := range offers {
		if !offer.Amount.IsPositive() || !offer.Price.IsPositive() {
			continue
		}
		total = total.Add(offer.Amount)
		notional = notional.Add(offer.Amount.Mul(offer.Price))
		ids = append(ids, offer.ID)
	}
	if total.IsZero() {
		return decimal.Zero, decimal.Zero, nil
	}
	return notional.Div(total), total, ids
}

func tokenKey(t venue.Token) string {
	if t.Address != "" {
		return t.Address
	}
	return t.Symbol
}
