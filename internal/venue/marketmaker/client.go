// Package marketmaker 将 Market Maker 场所（RPQ 报价 + 链上 OTC 报单簿）适配为统一的场所能力。
package marketmaker

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoOffers 由客户端返回，表示没有可用报单。
	ErrNoOffers = errors.New("marketmaker: no offers available")
	// ErrInsufficientBalance 由客户端返回，表示钱包余额不足。
	ErrInsufficientBalance = errors.New("marketmaker: insufficient balance")
	// ErrOfferTaken 由客户端返回，表示报单在成交前已被他人吃掉，交易未上链。
	ErrOfferTaken = errors.New("marketmaker: offer no longer available")
	// ErrNoPriceFeed 表示卖出代币没有价格源，无法创建动态报单。
	ErrNoPriceFeed = errors.New("marketmaker: no price feed for token")
)

// Offer 为报单簿上的一笔报单。Amount 为在该报单上付出的代币数量，Price 为每单位 RWA 的计价代币价格。
type Offer struct {
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"withdrawal_amount_paid"`
	Price  decimal.Decimal `json:"price_per_unit"`
	Type   string          `json:"offer_type"`
}

// OfferQuery 为最优报单查询参数。
type OfferQuery struct {
	SellToken string          `json:"sell_token"`
	BuyToken  string          `json:"buy_token"`
	Amount    decimal.Decimal `json:"target_amount"`
	Limit     int             `json:"limit"`
}

// OfferSelection 为 RPQ 返回的最优报单组合。
type OfferSelection struct {
	TargetAmount decimal.Decimal `json:"target_amount"`
	TotalPaid    decimal.Decimal `json:"total_withdrawal_amount_paid"`
	Mode         string          `json:"mode"`
	Offers       []Offer         `json:"selected_offers"`
}

// TradeOrder 为吃单请求。
type TradeOrder struct {
	SellToken string          `json:"sell_token"`
	BuyToken  string          `json:"buy_token"`
	Amount    decimal.Decimal `json:"amount"`
	OfferIDs  []string        `json:"offer_ids"`
}

// Fill 为链上成交回执。
type Fill struct {
	TxHash     string          `json:"tx_hash"`
	OrderID    string          `json:"order_id"`
	SellAmount decimal.Decimal `json:"sell_amount"`
	BuyAmount  decimal.Decimal `json:"buy_amount"`
}

// BookOffer 为报单簿列表中的一笔报单，从吃单方视角描述：存入 AmountIn 的 DepositToken，取得 AmountOut 的 WithdrawalToken。
type BookOffer struct {
	ID              string          `json:"id"`
	DepositToken    string          `json:"deposit_asset"`
	WithdrawalToken string          `json:"withdrawal_asset"`
	AmountIn        decimal.Decimal `json:"amount_in"`
	AmountOut       decimal.Decimal `json:"amount_out"`
	Available       decimal.Decimal `json:"available_amount"`
	Type            string          `json:"offer_type"`
	Status          string          `json:"offer_status"`
	Dynamic         bool            `json:"is_dynamic"`
}

// OfferListQuery 为报单列表查询参数。
type OfferListQuery struct {
	BuyToken  string `json:"buy_asset_address"`
	SellToken string `json:"sell_asset_address"`
	Limit     int    `json:"limit"`
}

// OfferSpec 描述一笔待创建的报单：卖出 SellAmount 的 SellToken，换取 BuyAmount 的 BuyToken。
type OfferSpec struct {
	SellToken  string          `json:"sell_token"`
	SellAmount decimal.Decimal `json:"sell_amount"`
	BuyToken   string          `json:"buy_token"`
	BuyAmount  decimal.Decimal `json:"buy_amount"`
	Dynamic    bool            `json:"is_dynamic"`
}

// OfferReceipt 为创建报单的链上回执。
type OfferReceipt struct {
	TxHash     string          `json:"tx_hash"`
	OfferID    string          `json:"order_id"`
	SellAmount decimal.Decimal `json:"sell_amount"`
	BuyAmount  decimal.Decimal `json:"buy_amount"`
	Rate       decimal.Decimal `json:"rate"`
}

// PriceFeeds 为代币合约地址到价格源地址的映射，动态报单依赖它定价。
type PriceFeeds map[string]string

// Client 为 Market Maker SDK 暴露的能力。
type Client interface {
	BestOffers(ctx context.Context, query OfferQuery) (OfferSelection, error)
	Offers(ctx context.Context, query OfferListQuery) ([]BookOffer, error)
	TokenBalance(ctx context.Context, token string) (decimal.Decimal, error)
	Trade(ctx context.Context, order TradeOrder) (Fill, error)
	MakeOffer(ctx context.Context, spec OfferSpec) (OfferReceipt, error)
	PriceFeeds(ctx context.Context) (PriceFeeds, error)
}
