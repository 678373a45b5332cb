package routing

import (
	"errors"
	"fmt"
	"strings"

	"rwa-trader/internal/venue"
)

// ErrUnknownStrategy 表示无法识别的路由策略。
var ErrUnknownStrategy = errors.New("routing: unknown strategy")

// Strategy 为路由策略，一次路由决策只受一个策略约束。
type Strategy string

const (
	BestPrice             Strategy = "best_price"
	CrossChainAccessFirst Strategy = "cross_chain_access_first"
	MarketMakerFirst      Strategy = "market_maker_first"
	CrossChainAccessOnly  Strategy = "cross_chain_access_only"
	MarketMakerOnly       Strategy = "market_maker_only"
)

// Strategies 返回全部策略。
func Strategies() []Strategy {
	return []Strategy{BestPrice, CrossChainAccessFirst, MarketMakerFirst, CrossChainAccessOnly, MarketMakerOnly}
}

// ParseStrategy 解析策略名称，大小写不敏感。
func ParseStrategy(s string) (Strategy, error) {
	candidate := Strategy(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Strategies() {
		if candidate == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

func (s Strategy) String() string {
	return string(s)
}

// MarshalText 实现 encoding.TextMarshaler。
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type planMode int

const (
	// modeCompare 并发报价，择优成交，成交失败不回退。
	modeCompare planMode = iota
	// modeSequential 依次尝试，前一个场所确定失败后才联系下一个。
	modeSequential
	// modeSingle 只联系一个场所，失败直接返回。
	modeSingle
)

func (m planMode) String() string {
	switch m {
	case modeCompare:
		return "compare"
	case modeSequential:
		return "sequential"
	case modeSingle:
		return "single"
	default:
		return "unknown"
	}
}

// plan 为策略展开后的执行计划。
type plan struct {
	mode   planMode
	venues []venue.ID
}

// planFor 是策略到执行计划的唯一映射，所有回退规则都由这里决定。
func planFor(strategy Strategy, enabled []venue.ID) (plan, error) {
	switch strategy {
	case BestPrice:
		return plan{mode: modeCompare, venues: enabled}, nil
	case CrossChainAccessFirst:
		return plan{mode: modeSequential, venues: []venue.ID{venue.CrossChainAccess, venue.MarketMaker}}, nil
	case MarketMakerFirst:
		return plan{mode: modeSequential, venues: []venue.ID{venue.MarketMaker, venue.CrossChainAccess}}, nil
	case CrossChainAccessOnly:
		return plan{mode: modeSingle, venues: []venue.ID{venue.CrossChainAccess}}, nil
	case MarketMakerOnly:
		return plan{mode: modeSingle, venues: []venue.ID{venue.MarketMaker}}, nil
	default:
		return plan{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, string(strategy))
	}
}
