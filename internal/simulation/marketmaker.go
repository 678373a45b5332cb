package simulation

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rwa-trader/internal/config"
	"rwa-trader/internal/venue"
	"rwa-trader/internal/venue/marketmaker"
	"rwa-trader/internal/wallet"
)

var _ marketmaker.Client = (*MarketMaker)(nil)

// MarketMaker 模拟 OTC 报单簿。Liquidity 为可成交的 RWA 总量，按档位拆分成报单，档位越深价格越差。
type MarketMaker struct {
	cfg    config.SimulatedVenueConfig
	pair   venue.Pair
	price  Pricer
	logger *zap.Logger

	mu        sync.Mutex
	liquidity decimal.Decimal
	balances  map[string]decimal.Decimal
	offers    map[string]quotedOffer
	own       []ownOffer
}

type ownOffer struct {
	id   string
	spec marketmaker.OfferSpec
}

type quotedOffer struct {
	offer marketmaker.Offer
	buy   bool
}

// NewMarketMaker 创建模拟报单簿。Balance 同时作为钱包中计价代币与 RWA 的初始余额。
func NewMarketMaker(cfg config.SimulatedVenueConfig, pair venue.Pair, price Pricer, logger *zap.Logger) *MarketMaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	balance := decimal.NewFromFloat(cfg.Balance)
	return &MarketMaker{
		cfg:       cfg,
		pair:      pair,
		price:     price,
		logger:    logger,
		liquidity: decimal.NewFromFloat(cfg.Liquidity),
		balances: map[string]decimal.Decimal{
			tokenKey(pair.Base):  balance,
			tokenKey(pair.Quote): balance,
		},
		offers: make(map[string]quotedOffer),
	}
}

// TokenBalance 返回钱包余额。
func (m *MarketMaker) TokenBalance(ctx context.Context, token string) (decimal.Decimal, error) {
	if err := sleep(ctx, m.cfg.Latency/3); err != nil {
		return decimal.Zero, err
	}
	key, err := m.resolve(token)
	if err != nil {
		return decimal.Zero, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[key], nil
}

// BestOffers 从最优档位开始挑选报单，直到覆盖目标数量或达到数量上限。
func (m *MarketMaker) BestOffers(ctx context.Context, query marketmaker.OfferQuery) (marketmaker.OfferSelection, error) {
	if err := sleep(ctx, m.cfg.Latency); err != nil {
		return marketmaker.OfferSelection{}, err
	}
	sellKey, err := m.resolve(query.SellToken)
	if err != nil {
		return marketmaker.OfferSelection{}, err
	}
	if _, err := m.resolve(query.BuyToken); err != nil {
		return marketmaker.OfferSelection{}, err
	}
	buy := sellKey == tokenKey(m.pair.Quote)

	mid, err := m.price(ctx)
	if err != nil {
		return marketmaker.OfferSelection{}, err
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 5
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.liquidity.IsPositive() {
		return marketmaker.OfferSelection{}, marketmaker.ErrNoOffers
	}

	remaining := query.Amount
	selection := marketmaker.OfferSelection{TargetAmount: query.Amount, Mode: "sell"}
	if buy {
		selection.Mode = "buy"
	}

	for level := 1; level <= limit && remaining.IsPositive(); level++ {
		price, capacity := m.level(mid, buy, level, limit)
		amount := decimal.Min(capacity, remaining)

		offer := marketmaker.Offer{
			ID:     uuid.NewString(),
			Amount: amount,
			Price:  price,
			Type:   "partial",
		}
		m.offers[offer.ID] = quotedOffer{offer: offer, buy: buy}
		selection.Offers = append(selection.Offers, offer)
		selection.TotalPaid = selection.TotalPaid.Add(amount)
		remaining = remaining.Sub(amount)
	}

	return selection, nil
}

// Trade 吃掉报价中的报单。报单只能成交一次。
func (m *MarketMaker) Trade(ctx context.Context, order marketmaker.TradeOrder) (marketmaker.Fill, error) {
	if err := sleep(ctx, m.cfg.Latency); err != nil {
		return marketmaker.Fill{}, err
	}
	sellKey, err := m.resolve(order.SellToken)
	if err != nil {
		return marketmaker.Fill{}, err
	}
	buyKey, err := m.resolve(order.BuyToken)
	if err != nil {
		return marketmaker.Fill{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(order.OfferIDs) == 0 {
		return marketmaker.Fill{}, marketmaker.ErrNoOffers
	}
	if m.balances[sellKey].LessThan(order.Amount) {
		return marketmaker.Fill{}, fmt.Errorf("%w: 余额 %s 小于 %s", marketmaker.ErrInsufficientBalance, m.balances[sellKey], order.Amount)
	}

	paid := decimal.Zero
	received := decimal.Zero
	base := decimal.Zero
	for _, id := range order.OfferIDs {
		quoted, ok := m.offers[id]
		if !ok {
			return marketmaker.Fill{}, fmt.Errorf("%w: %s", marketmaker.ErrOfferTaken, id)
		}
		paid = paid.Add(quoted.offer.Amount)
		if quoted.buy {
			got := quoted.offer.Amount.Div(quoted.offer.Price)
			received = received.Add(got)
			base = base.Add(got)
		} else {
			received = received.Add(quoted.offer.Amount.Mul(quoted.offer.Price))
			base = base.Add(quoted.offer.Amount)
		}
	}

	for _, id := range order.OfferIDs {
		delete(m.offers, id)
	}
	m.liquidity = decimal.Max(decimal.Zero, m.liquidity.Sub(base))
	m.balances[sellKey] = m.balances[sellKey].Sub(paid)
	m.balances[buyKey] = m.balances[buyKey].Add(received)

	orderID := uuid.NewString()
	fill := marketmaker.Fill{
		OrderID:    orderID,
		TxHash:     wallet.TxHash("market_maker", orderID),
		SellAmount: paid,
		BuyAmount:  received,
	}

	m.logger.Info("模拟报单簿成交",
		zap.String("order_id", orderID),
		zap.Int("offers", len(order.OfferIDs)),
		zap.String("paid", paid.String()),
		zap.String("received", received.String()),
		zap.String("liquidity_left", m.liquidity.String()),
	)
	return fill, nil
}

// Offers 列出吃单方可见的报单：先列本钱包挂出的反向报单，再列做市档位。
func (m *MarketMaker) Offers(ctx context.Context, query marketmaker.OfferListQuery) ([]marketmaker.BookOffer, error) {
	if err := sleep(ctx, m.cfg.Latency); err != nil {
		return nil, err
	}
	sellKey, buyKey, err := m.direction(query.SellToken, query.BuyToken)
	if err != nil {
		return nil, err
	}
	buy := sellKey == tokenKey(m.pair.Quote)

	mid, err := m.price(ctx)
	if err != nil {
		return nil, err
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 5
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	book := make([]marketmaker.BookOffer, 0, limit)
	for _, own := range m.own {
		if own.spec.SellToken != buyKey || own.spec.BuyToken != sellKey {
			continue
		}
		book = append(book, marketmaker.BookOffer{
			ID:              own.id,
			DepositToken:    sellKey,
			WithdrawalToken: buyKey,
			AmountIn:        own.spec.BuyAmount,
			AmountOut:       own.spec.SellAmount,
			Available:       own.spec.SellAmount,
			Type:            "full",
			Status:          "not_taken",
			Dynamic:         own.spec.Dynamic,
		})
	}

	if m.liquidity.IsPositive() {
		for level := 1; level <= limit && len(book) < limit; level++ {
			price, capacity := m.level(mid, buy, level, limit)
			out := capacity.Mul(price)
			if buy {
				out = capacity.Div(price)
			}
			offer := marketmaker.Offer{ID: uuid.NewString(), Amount: capacity, Price: price, Type: "partial"}
			m.offers[offer.ID] = quotedOffer{offer: offer, buy: buy}
			book = append(book, marketmaker.BookOffer{
				ID:              offer.ID,
				DepositToken:    sellKey,
				WithdrawalToken: buyKey,
				AmountIn:        capacity,
				AmountOut:       out,
				Available:       out,
				Type:            offer.Type,
				Status:          "not_taken",
			})
		}
	}

	if len(book) == 0 {
		return nil, marketmaker.ErrNoOffers
	}
	if len(book) > limit {
		book = book[:limit]
	}
	return book, nil
}

// MakeOffer 挂出报单并冻结卖出代币。
func (m *MarketMaker) MakeOffer(ctx context.Context, spec marketmaker.OfferSpec) (marketmaker.OfferReceipt, error) {
	if err := sleep(ctx, m.cfg.Latency); err != nil {
		return marketmaker.OfferReceipt{}, err
	}
	sellKey, buyKey, err := m.direction(spec.SellToken, spec.BuyToken)
	if err != nil {
		return marketmaker.OfferReceipt{}, err
	}
	if !spec.SellAmount.IsPositive() || !spec.BuyAmount.IsPositive() {
		return marketmaker.OfferReceipt{}, fmt.Errorf("simulation: 挂单数量必须为正 (%s/%s)", spec.SellAmount, spec.BuyAmount)
	}
	if spec.Dynamic {
		if _, ok := m.feeds()[sellKey]; !ok {
			return marketmaker.OfferReceipt{}, fmt.Errorf("%w: %s", marketmaker.ErrNoPriceFeed, sellKey)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.balances[sellKey].LessThan(spec.SellAmount) {
		return marketmaker.OfferReceipt{}, fmt.Errorf("%w: 余额 %s 小于 %s", marketmaker.ErrInsufficientBalance, m.balances[sellKey], spec.SellAmount)
	}
	m.balances[sellKey] = m.balances[sellKey].Sub(spec.SellAmount)

	spec.SellToken, spec.BuyToken = sellKey, buyKey
	id := uuid.NewString()
	m.own = append(m.own, ownOffer{id: id, spec: spec})

	m.logger.Info("模拟挂单",
		zap.String("offer_id", id),
		zap.String("sell_amount", spec.SellAmount.String()),
		zap.String("buy_amount", spec.BuyAmount.String()),
		zap.Bool("dynamic", spec.Dynamic),
	)
	return marketmaker.OfferReceipt{
		TxHash:     wallet.TxHash("market_maker", "make_offer", id),
		OfferID:    id,
		SellAmount: spec.SellAmount,
		BuyAmount:  spec.BuyAmount,
		Rate:       spec.BuyAmount.Div(spec.SellAmount),
	}, nil
}

// PriceFeeds 为交易对两个代币各提供一个确定性的价格源地址。
func (m *MarketMaker) PriceFeeds(ctx context.Context) (marketmaker.PriceFeeds, error) {
	if err := sleep(ctx, m.cfg.Latency/3); err != nil {
		return nil, err
	}
	return m.feeds(), nil
}

func (m *MarketMaker) feeds() marketmaker.PriceFeeds {
	feeds := make(marketmaker.PriceFeeds, 2)
	for _, t := range []venue.Token{m.pair.Base, m.pair.Quote} {
		key := tokenKey(t)
		feeds[key] = wallet.DeriveAddress("price_feed", key)
	}
	return feeds
}

// level 返回第 n 档报单的价格与以付出代币计的容量，调用方需持有锁。
func (m *MarketMaker) level(mid decimal.Decimal, buy bool, n, limit int) (decimal.Decimal, decimal.Decimal) {
	step := m.cfg.SpreadBps * float64(n) / float64(limit)
	price := mid.Mul(bps(step))
	if !buy {
		price = mid.Mul(bps(-step))
	}
	price = price.Round(6)

	capacity := m.liquidity.Div(decimal.NewFromInt(int64(limit)))
	if buy {
		capacity = capacity.Mul(price)
	}
	return price, capacity
}

func (m *MarketMaker) direction(sell, buy string) (string, string, error) {
	sellKey, err := m.resolve(sell)
	if err != nil {
		return "", "", err
	}
	buyKey, err := m.resolve(buy)
	if err != nil {
		return "", "", err
	}
	if sellKey == buyKey {
		return "", "", fmt.Errorf("simulation: 买卖代币相同 %q", sell)
	}
	return sellKey, buyKey, nil
}

func (m *MarketMaker) resolve(token string) (string, error) {
	for _, t := range []venue.Token{m.pair.Base, m.pair.Quote} {
		if token != "" && (token == t.Address || token == t.Symbol) {
			return tokenKey(t), nil
		}
	}
	return "", fmt.Errorf("simulation: 不支持的代币 %q", token)
}

func tokenKey(t venue.Token) string {
	if t.Address != "" {
		return t.Address
	}
	return t.Symbol
}
