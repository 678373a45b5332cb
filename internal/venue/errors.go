package venue

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrVenueUnavailable 表示场所当前无法报价或交易。
	ErrVenueUnavailable = errors.New("venue unavailable")
	// ErrQuoteTimeout 表示场所调用超时，按不可用处理。
	ErrQuoteTimeout = errors.New("quote timeout")
	// ErrExecutionFailed 表示成交失败。
	ErrExecutionFailed = errors.New("execution failed")
	// ErrDuplicateExecution 表示同一报价已提交过成交。
	ErrDuplicateExecution = errors.New("duplicate execution")
	// ErrVenueDisabled 表示场所未在配置中启用。
	ErrVenueDisabled = errors.New("venue disabled")
	// ErrQuoteExpired 表示报价已超过有效期。
	ErrQuoteExpired = errors.New("quote expired")
)

// Reason 为不可用原因。
type Reason string

const (
	ReasonMarketClosed        Reason = "market_closed"
	ReasonAccountBlocked      Reason = "account_blocked"
	ReasonTradingBlocked      Reason = "trading_blocked"
	ReasonNoOffers            Reason = "no_offers"
	ReasonInsufficientBalance Reason = "insufficient_balance"
	ReasonTimeout             Reason = "timeout"
	ReasonUnreachable         Reason = "unreachable"
	ReasonUnsupportedPair     Reason = "unsupported_pair"
	ReasonDisabled            Reason = "disabled"
)

// Category 将错误归类，便于调用方区分无流动性、平台故障与用户错误。
type Category string

const (
	CategoryNoLiquidity  Category = "no_liquidity"
	CategoryPlatformDown Category = "platform_down"
	CategoryUserError    Category = "user_error"
	CategoryUnknown      Category = "unknown"
)

// Category 返回原因所属类别。
func (r Reason) Category() Category {
	switch r {
	case ReasonNoOffers, ReasonUnsupportedPair:
		return CategoryNoLiquidity
	case ReasonMarketClosed, ReasonTimeout, ReasonUnreachable, ReasonDisabled:
		return CategoryPlatformDown
	case ReasonAccountBlocked, ReasonTradingBlocked, ReasonInsufficientBalance:
		return CategoryUserError
	default:
		return CategoryUnknown
	}
}

// UnavailableError 表示场所不可用。
type UnavailableError struct {
	Venue   ID
	Reason  Reason
	Message string
	Err     error
}

func (e *UnavailableError) Error() string {
	msg := fmt.Sprintf("%s 不可用 (%s)", e.Venue, e.Reason)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool {
	return target == ErrVenueUnavailable
}

// NewUnavailable 构造不可用错误。
func NewUnavailable(id ID, reason Reason, message string, cause error) *UnavailableError {
	return &UnavailableError{Venue: id, Reason: reason, Message: message, Err: cause}
}

// Timeout 构造超时错误，同时匹配 ErrVenueUnavailable 与 ErrQuoteTimeout。
func Timeout(id ID, operation string) *UnavailableError {
	return &UnavailableError{Venue: id, Reason: ReasonTimeout, Message: operation, Err: ErrQuoteTimeout}
}

// ExecutionError 表示成交失败。Submitted 为 false 时可以确定订单未提交到场所。
type ExecutionError struct {
	Venue     ID
	QuoteID   string
	Submitted bool
	Err       error
}

func (e *ExecutionError) Error() string {
	state := "未提交"
	if e.Submitted {
		state = "提交状态未知"
	}
	return fmt.Sprintf("%s 成交失败 (%s, quote=%s): %v", e.Venue, state, e.QuoteID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecutionFailed
}

// Rejected 构造确定未提交的成交错误。
func Rejected(id ID, quoteID string, cause error) *ExecutionError {
	return &ExecutionError{Venue: id, QuoteID: quoteID, Submitted: false, Err: cause}
}

// Failed 构造提交状态未知的成交错误。
func Failed(id ID, quoteID string, cause error) *ExecutionError {
	return &ExecutionError{Venue: id, QuoteID: quoteID, Submitted: true, Err: cause}
}

// SafeToFallback 判断错误发生后能否转向其他场所而不会重复成交。
func SafeToFallback(err error) bool {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return !execErr.Submitted
	}
	return true
}

// ReasonOf 提取错误链中的不可用原因。
func ReasonOf(err error) (Reason, bool) {
	var unavailable *UnavailableError
	if errors.As(err, &unavailable) {
		return unavailable.Reason, true
	}
	return "", false
}

// multiUnwrapper 对应 errors.Join 与 multierr 的多错误展开接口。
type multiUnwrapper interface {
	Unwrap() []error
}

// Classify 将错误归类；聚合错误仅当所有原因类别一致时返回该类别。
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var multi multiUnwrapper
	if errors.As(err, &multi) {
		causes := multi.Unwrap()
		if len(causes) == 0 {
			return CategoryUnknown
		}
		first := Classify(causes[0])
		for _, cause := range causes[1:] {
			if Classify(cause) != first {
				return CategoryUnknown
			}
		}
		return first
	}

	if reason, ok := ReasonOf(err); ok {
		return reason.Category()
	}
	if errors.Is(err, ErrVenueDisabled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryPlatformDown
	}
	if errors.Is(err, ErrDuplicateExecution) || errors.Is(err, ErrQuoteExpired) {
		return CategoryUserError
	}

	if next := errors.Unwrap(err); next != nil {
		return Classify(next)
	}
	return CategoryUnknown
}

// CallError 将场所调用错误规范化：超时映射为 Timeout，已分类的不可用错误原样返回，其余视为不可达。
func CallError(id ID, operation string, err error) error {
	if err == nil {
		return nil
	}
	var unavailable *UnavailableError
	if errors.As(err, &unavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(id, operation)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return NewUnavailable(id, ReasonUnreachable, operation, err)
}
