package marketmaker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rwa-trader/internal/venue"
)

// OfferRequest 为挂单请求。Side 相对 RWA：sell 卖出 RWA 换取计价代币，buy 付出计价代币换取 RWA。
// Amount 为付出代币数量，Price 为每单位 RWA 的计价代币价格。
type OfferRequest struct {
	Pair    venue.Pair
	Side    venue.Side
	Amount  decimal.Decimal
	Price   decimal.Decimal
	Dynamic bool
}

// Offers 列出按 side 方向可吃的报单，没有报单时返回空列表。
func (a *Adapter) Offers(ctx context.Context, pair venue.Pair, side venue.Side, limit int) ([]BookOffer, error) {
	req := venue.TradeRequest{Pair: pair, Side: side}
	if side != venue.SideBuy && side != venue.SideSell {
		return nil, fmt.Errorf("marketmaker: 无效交易方向 %q", side)
	}
	if limit <= 0 {
		limit = a.offerLimit
	}

	offers, err := a.client.Offers(ctx, OfferListQuery{
		BuyToken:  tokenKey(req.ToToken()),
		SellToken: tokenKey(req.FromToken()),
		Limit:     limit,
	})
	if err != nil {
		if errors.Is(err, ErrNoOffers) {
			return []BookOffer{}, nil
		}
		return nil, fmt.Errorf("marketmaker: 查询报单失败: %w", err)
	}
	if len(offers) > limit {
		offers = offers[:limit]
	}
	return offers, nil
}

// PriceFeeds 返回动态报单可用的价格源。
func (a *Adapter) PriceFeeds(ctx context.Context) (PriceFeeds, error) {
	feeds, err := a.client.PriceFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("marketmaker: 查询价格源失败: %w", err)
	}
	return feeds, nil
}

// MakeOffer 校验余额与价格源后挂出一笔报单。挂单不重试。
func (a *Adapter) MakeOffer(ctx context.Context, req OfferRequest) (OfferReceipt, error) {
	trade := venue.TradeRequest{Pair: req.Pair, Side: req.Side, Amount: req.Amount}
	if err := trade.Validate(); err != nil {
		return OfferReceipt{}, fmt.Errorf("marketmaker: %w", err)
	}
	if !req.Price.IsPositive() {
		return OfferReceipt{}, fmt.Errorf("marketmaker: 挂单价格必须为正，当前 %s", req.Price)
	}

	from, to := tokenKey(trade.FromToken()), tokenKey(trade.ToToken())

	if req.Dynamic {
		feeds, err := a.PriceFeeds(ctx)
		if err != nil {
			return OfferReceipt{}, err
		}
		if !feeds.Has(from) {
			return OfferReceipt{}, fmt.Errorf("%w: %s", ErrNoPriceFeed, trade.FromToken().Symbol)
		}
	}

	balance, err := a.client.TokenBalance(ctx, from)
	if err != nil {
		return OfferReceipt{}, fmt.Errorf("marketmaker: 查询余额失败: %w", err)
	}
	if balance.LessThan(req.Amount) {
		return OfferReceipt{}, fmt.Errorf("%w: %s 余额 %s 小于 %s", ErrInsufficientBalance, trade.FromToken().Symbol, balance, req.Amount)
	}

	sell, buy := venue.Fill(req.Side, req.Amount, req.Price)
	receipt, err := a.client.MakeOffer(ctx, OfferSpec{
		SellToken:  from,
		SellAmount: sell,
		BuyToken:   to,
		BuyAmount:  buy,
		Dynamic:    req.Dynamic,
	})
	if err != nil {
		return OfferReceipt{}, fmt.Errorf("marketmaker: 挂单失败: %w", err)
	}

	a.logger.Info("挂单成功",
		zap.String("offer_id", receipt.OfferID),
		zap.String("tx_hash", receipt.TxHash),
		zap.String("pair", req.Pair.String()),
		zap.String("side", string(req.Side)),
		zap.String("sell_amount", receipt.SellAmount.String()),
		zap.String("buy_amount", receipt.BuyAmount.String()),
		zap.Bool("dynamic", req.Dynamic),
	)
	return receipt, nil
}

// Has 判断代币是否有价格源，地址比较忽略大小写。
func (f PriceFeeds) Has(token string) bool {
	for contract := range f {
		if strings.EqualFold(contract, token) {
			return true
		}
	}
	return false
}
