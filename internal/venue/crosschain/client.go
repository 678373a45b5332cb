// Package crosschain 将 Cross-Chain Access 场所的客户端接口适配为统一的场所能力。
package crosschain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"rwa-trader/internal/venue"
)

var (
	// ErrMarketClosed 由客户端返回，表示券商拒绝了休市时段的下单。
	ErrMarketClosed = errors.New("crosschain: market closed")
	// ErrAccountBlocked 由客户端返回，表示账户被冻结。
	ErrAccountBlocked = errors.New("crosschain: account blocked")
	// ErrInsufficientFunds 由客户端返回，表示购买力不足。
	ErrInsufficientFunds = errors.New("crosschain: insufficient funds")
	// ErrSymbolNotFound 由客户端返回，表示券商不支持该股票代码。
	ErrSymbolNotFound = errors.New("crosschain: symbol not found")
)

// AccountStatus 为券商账户状态。
type AccountStatus struct {
	AccountBlocked   bool `json:"account_blocked"`
	TradingBlocked   bool `json:"trading_blocked"`
	TransfersBlocked bool `json:"transfers_blocked"`
	MarketOpen       bool `json:"market_open"`
}

// TradingAllowed 判断账户当前能否交易。
func (s AccountStatus) TradingAllowed() bool {
	return !s.AccountBlocked && !s.TradingBlocked && s.MarketOpen
}

// Funds 为账户资金，单位为美元。
type Funds struct {
	Cash                  decimal.Decimal `json:"cash"`
	BuyingPower           decimal.Decimal `json:"buying_power"`
	DayTradingBuyingPower decimal.Decimal `json:"day_trading_buying_power"`
	EffectiveBuyingPower  decimal.Decimal `json:"effective_buying_power"`
}

// PriceQuote 为券商给出的股票报价，Rate 为每股美元价格。
type PriceQuote struct {
	Symbol    string          `json:"symbol"`
	Rate      decimal.Decimal `json:"rate"`
	Timestamp time.Time       `json:"timestamp"`
}

// OrderRequest 为下单请求。买入时 Amount 为 USDC 数量，卖出时为 RWA 数量。
type OrderRequest struct {
	Pair          venue.Pair      `json:"pair"`
	Amount        decimal.Decimal `json:"amount"`
	Rate          decimal.Decimal `json:"rate"`
	TargetChainID *int64          `json:"target_chain_id,omitempty"`
}

// Order 为券商成交回执。
type Order struct {
	OrderID    string          `json:"order_id"`
	TxHash     string          `json:"tx_hash"`
	SellAmount decimal.Decimal `json:"sell_amount"`
	BuyAmount  decimal.Decimal `json:"buy_amount"`
	Rate       decimal.Decimal `json:"rate"`
}

// Client 为 Cross-Chain Access SDK 暴露的能力。
type Client interface {
	AccountStatus(ctx context.Context) (AccountStatus, error)
	AccountFunds(ctx context.Context) (Funds, error)
	Quote(ctx context.Context, symbol string) (PriceQuote, error)
	Buy(ctx context.Context, req OrderRequest) (Order, error)
	Sell(ctx context.Context, req OrderRequest) (Order, error)
}

// Gate 判断股票市场是否开市，通常由 markethours.Calendar 实现。
type Gate interface {
	Status() (bool, string)
}
