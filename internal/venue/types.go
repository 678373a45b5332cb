package venue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ID 标识一个交易场所。
type ID string

const (
	CrossChainAccess ID = "cross_chain_access"
	MarketMaker      ID = "market_maker"
)

// ParseID 解析场所名称。
func ParseID(s string) (ID, error) {
	switch id := ID(strings.ToLower(strings.TrimSpace(s))); id {
	case CrossChainAccess, MarketMaker:
		return id, nil
	default:
		return "", fmt.Errorf("venue: 未知场所 %q", s)
	}
}

// Side 表示交易方向，相对于基础 RWA 代币。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide 解析交易方向。
func ParseSide(s string) (Side, error) {
	switch side := Side(strings.ToLower(strings.TrimSpace(s))); side {
	case SideBuy, SideSell:
		return side, nil
	default:
		return "", fmt.Errorf("venue: 未知交易方向 %q", s)
	}
}

// Token 描述链上代币。
type Token struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

// Pair 由 RWA 基础代币与计价代币（通常为 USDC）组成。
type Pair struct {
	Base  Token `json:"base"`
	Quote Token `json:"quote"`
}

func (p Pair) String() string {
	return p.Base.Symbol + "/" + p.Quote.Symbol
}

// TradeRequest 为一次交易请求。Amount 以卖出的代币计：买入时为计价代币数量，卖出时为 RWA 数量。
type TradeRequest struct {
	Pair          Pair            `json:"pair"`
	Side          Side            `json:"side"`
	Amount        decimal.Decimal `json:"amount"`
	TargetChainID *int64          `json:"target_chain_id,omitempty"`
}

// FromToken 返回本次交易付出的代币。
func (r TradeRequest) FromToken() Token {
	if r.Side == SideSell {
		return r.Pair.Base
	}
	return r.Pair.Quote
}

// ToToken 返回本次交易获得的代币。
func (r TradeRequest) ToToken() Token {
	if r.Side == SideSell {
		return r.Pair.Quote
	}
	return r.Pair.Base
}

// Validate 校验请求的基本合法性。
func (r TradeRequest) Validate() error {
	if r.Pair.Base.Symbol == "" && r.Pair.Base.Address == "" {
		return errors.New("venue: 缺少基础代币")
	}
	if r.Pair.Quote.Symbol == "" && r.Pair.Quote.Address == "" {
		return errors.New("venue: 缺少计价代币")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("venue: 无效交易方向 %q", r.Side)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("venue: 交易数量必须为正，当前 %s", r.Amount)
	}
	if r.TargetChainID != nil && *r.TargetChainID <= 0 {
		return fmt.Errorf("venue: 无效目标链 %d", *r.TargetChainID)
	}
	return nil
}

// Quote 为一个带时效的报价。Price 为每单位 RWA 的计价代币价格。
type Quote struct {
	ID         string          `json:"id"`
	Venue      ID              `json:"venue"`
	Pair       Pair            `json:"pair"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	SellAmount decimal.Decimal `json:"sell_amount"`
	BuyAmount  decimal.Decimal `json:"buy_amount"`
	Source     string          `json:"source,omitempty"`
	Refs       []string        `json:"refs,omitempty"` // 场所内部引用，例如选中的报单 ID
	Timestamp  time.Time       `json:"timestamp"`
	ValidFor   time.Duration   `json:"valid_for"`
	Request    TradeRequest    `json:"request"`
}

// ExpiresAt 返回报价失效时间，ValidFor 为零表示不过期。
func (q Quote) ExpiresAt() time.Time {
	if q.ValidFor <= 0 {
		return time.Time{}
	}
	return q.Timestamp.Add(q.ValidFor)
}

// Expired 判断报价在 now 时刻是否已失效。
func (q Quote) Expired(now time.Time) bool {
	exp := q.ExpiresAt()
	return !exp.IsZero() && !now.Before(exp)
}

// Better 判断 q 对于交易方向是否比 other 更优：买入价低者优，卖出价高者优。
func (q Quote) Better(other Quote) bool {
	if q.Side == SideSell {
		return q.Price.GreaterThan(other.Price)
	}
	return q.Price.LessThan(other.Price)
}

// Fill 根据方向、数量与价格计算卖出与买入数量。
func Fill(side Side, amount, price decimal.Decimal) (sell, buy decimal.Decimal) {
	if !price.IsPositive() {
		return amount, decimal.Zero
	}
	if side == SideSell {
		return amount, amount.Mul(price)
	}
	return amount, amount.Div(price)
}

// BaseSize 返回请求对应的 RWA 数量。
func BaseSize(side Side, amount, price decimal.Decimal) decimal.Decimal {
	if side == SideSell {
		return amount
	}
	_, buy := Fill(side, amount, price)
	return buy
}

// Availability 描述场所当前能否交易。
type Availability struct {
	Venue     ID        `json:"venue"`
	Available bool      `json:"available"`
	Reason    Reason    `json:"reason,omitempty"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Available 构造可用状态。
func Available(id ID, message string) Availability {
	return Availability{Venue: id, Available: true, Message: message, CheckedAt: time.Now().UTC()}
}

// Unavailable 构造不可用状态。
func Unavailable(id ID, reason Reason, message string) Availability {
	return Availability{Venue: id, Reason: reason, Message: message, CheckedAt: time.Now().UTC()}
}

// Err 将不可用状态转换为 *UnavailableError，可用时返回 nil。
func (a Availability) Err() error {
	if a.Available {
		return nil
	}
	return &UnavailableError{Venue: a.Venue, Reason: a.Reason, Message: a.Message}
}

// ExecutionResult 为成交结果。
type ExecutionResult struct {
	Venue         ID              `json:"venue"`
	QuoteID       string          `json:"quote_id"`
	OrderID       string          `json:"order_id"`
	TxHash        string          `json:"tx_hash"`
	SellAmount    decimal.Decimal `json:"sell_amount"`
	BuyAmount     decimal.Decimal `json:"buy_amount"`
	Rate          decimal.Decimal `json:"rate"`
	TargetChainID *int64          `json:"target_chain_id,omitempty"`
	ExecutedAt    time.Time       `json:"executed_at"`
}
