package venue

import "context"

// Adapter 为路由器消费的统一场所能力。
//
// CheckAvailability 只报告状态，不可用不视为错误；返回 error 表示无法获得状态。
// GetQuote 在场所不可用时返回 *UnavailableError。
// Execute 对同一报价至多提交一次，失败返回 *ExecutionError。
type Adapter interface {
	ID() ID
	CheckAvailability(ctx context.Context) (Availability, error)
	GetQuote(ctx context.Context, req TradeRequest) (Quote, error)
	Execute(ctx context.Context, quote Quote) (ExecutionResult, error)
}
