package routing

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"rwa-trader/internal/venue"
)

// ErrAllVenuesFailed 表示策略允许的所有场所都未能完成交易。
var ErrAllVenuesFailed = errors.New("all venues failed")

// Stage 为场所失败所处的阶段。
type Stage string

const (
	StageAvailability Stage = "availability"
	StageQuote        Stage = "quote"
	StageExecute      Stage = "execute"
)

// VenueFailure 记录单个场所的失败原因。
type VenueFailure struct {
	Venue venue.ID
	Stage Stage
	Err   error
}

func (f VenueFailure) Error() string {
	return fmt.Sprintf("%s[%s]: %v", f.Venue, f.Stage, f.Err)
}

func (f VenueFailure) Unwrap() error { return f.Err }

// AllVenuesFailedError 聚合每个场所的失败原因，errors.Is/As 可以匹配其中任意一个。
type AllVenuesFailedError struct {
	Strategy Strategy
	Failures []VenueFailure
}

func (e *AllVenuesFailedError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("routing: %s: 没有可用场所", e.Strategy)
	}
	return fmt.Sprintf("routing: %s: 所有场所均失败: %v", e.Strategy, multierr.Combine(e.Unwrap()...))
}

// Unwrap 返回每个场所的失败。
func (e *AllVenuesFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, failure := range e.Failures {
		errs = append(errs, failure)
	}
	return errs
}

func (e *AllVenuesFailedError) Is(target error) bool {
	return target == ErrAllVenuesFailed
}

// Category 返回聚合错误的类别，各场所类别不一致时为 unknown。
func (e *AllVenuesFailedError) Category() venue.Category {
	return venue.Classify(e)
}

// FailureFor 返回指定场所的失败记录。
func (e *AllVenuesFailedError) FailureFor(id venue.ID) (VenueFailure, bool) {
	for _, failure := range e.Failures {
		if failure.Venue == id {
			return failure, true
		}
	}
	return VenueFailure{}, false
}
