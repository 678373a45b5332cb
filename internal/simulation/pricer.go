// Package simulation 提供模拟的场所后端，实现 Cross-Chain Access 与 Market Maker 的客户端接口，
// 供命令行演练与测试使用。
package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rwa-trader/internal/exchange"
)

// Pricer 返回当前中间价。
type Pricer func(ctx context.Context) (decimal.Decimal, error)

// Fixed 返回固定价格。
func Fixed(price float64) Pricer {
	p := decimal.NewFromFloat(price)
	return func(context.Context) (decimal.Decimal, error) {
		if !p.IsPositive() {
			return decimal.Zero, errors.New("simulation: 未配置价格")
		}
		return p, nil
	}
}

// ReferenceSource 为参考价格来源，由 exchange.PriceService 实现。
type ReferenceSource interface {
	MidPrice(ctx context.Context) (exchange.ReferencePrice, error)
}

// FromReference 使用 ccxt 参考市场的中间价。
func FromReference(source ReferenceSource) Pricer {
	return func(ctx context.Context) (decimal.Decimal, error) {
		price, err := source.MidPrice(ctx)
		if err != nil {
			return decimal.Zero, fmt.Errorf("simulation: 获取参考价格失败: %w", err)
		}
		return decimal.NewFromFloat(price.Mid), nil
	}
}

// bps 返回 1 + n 个基点的乘数。
func bps(n float64) decimal.Decimal {
	return decimal.NewFromInt(1).Add(decimal.NewFromFloat(n).Div(decimal.NewFromInt(10000)))
}

// sleep 模拟网络延迟，ctx 结束时提前返回。
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
