// Package routing 在 Cross-Chain Access 与 Market Maker 两个场所之间路由 RWA 交易：
// 按策略报价、比较、择优成交，并在允许时回退到另一场所。
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rwa-trader/internal/venue"
)

// TieBreak 决定价格相同时的取舍。
type TieBreak string

const (
	// TieBreakEarliest 选择最先返回的报价。
	TieBreakEarliest TieBreak = "earliest_response"
	// TieBreakVenueOrder 选择配置顺序靠前的场所。
	TieBreakVenueOrder TieBreak = "venue_order"
)

// Options 控制路由行为。
type Options struct {
	Venues              []venue.ID // 启用的场所及其顺序，为空时使用全部适配器
	TieBreak            TieBreak
	AvailabilityTimeout time.Duration
	QuoteTimeout        time.Duration
	QuoteTimeouts       map[venue.ID]time.Duration // 按场所覆盖报价超时
	ExecuteTimeout      time.Duration
}

// QuoteOutcome 为单个场所的报价结果，Err 与 Quote 二选一。
type QuoteOutcome struct {
	Venue      venue.ID
	Quote      venue.Quote
	Err        error
	Stage      Stage
	ReceivedAt time.Time
	Latency    time.Duration
}

// OK 判断是否得到了可用报价。
func (o QuoteOutcome) OK() bool {
	return o.Err == nil
}

// Outcome 为一次路由的结果。
type Outcome struct {
	RouteID    string
	Strategy   Strategy
	Request    venue.TradeRequest
	Quotes     []QuoteOutcome
	Selected   *venue.Quote
	Execution  *venue.ExecutionResult
	Failures   []VenueFailure
	StartedAt  time.Time
	FinishedAt time.Time
}

// Router 根据策略选择场所并执行交易。Router 本身不做成交去重，该保证由场所适配器提供。
type Router struct {
	adapters map[venue.ID]venue.Adapter
	enabled  []venue.ID
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// New 创建路由器。Options.Venues 中的每个场所都必须有对应适配器。
func New(adapters []venue.Adapter, opts Options, logger *zap.Logger) (*Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	byID := make(map[venue.ID]venue.Adapter, len(adapters))
	order := make([]venue.ID, 0, len(adapters))
	for _, adapter := range adapters {
		if adapter == nil {
			return nil, errors.New("routing: 适配器不能为空")
		}
		id := adapter.ID()
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("routing: 重复的场所适配器 %s", id)
		}
		byID[id] = adapter
		order = append(order, id)
	}

	enabled := opts.Venues
	if len(enabled) == 0 {
		enabled = order
	}
	for _, id := range enabled {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("routing: 场所 %s 缺少适配器", id)
		}
	}
	if len(enabled) == 0 {
		return nil, errors.New("routing: 至少需要一个场所")
	}

	if opts.TieBreak == "" {
		opts.TieBreak = TieBreakEarliest
	}
	if opts.TieBreak != TieBreakEarliest && opts.TieBreak != TieBreakVenueOrder {
		return nil, fmt.Errorf("routing: 不支持的 tie_break %q", opts.TieBreak)
	}
	if opts.AvailabilityTimeout <= 0 {
		opts.AvailabilityTimeout = 3 * time.Second
	}
	if opts.QuoteTimeout <= 0 {
		opts.QuoteTimeout = 5 * time.Second
	}
	if opts.ExecuteTimeout <= 0 {
		opts.ExecuteTimeout = 60 * time.Second
	}

	return &Router{
		adapters: byID,
		enabled:  append([]venue.ID(nil), enabled...),
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Venues 返回启用的场所。
func (r *Router) Venues() []venue.ID {
	return append([]venue.ID(nil), r.enabled...)
}

// Availability 并发检查所有启用场所的可用性，超时或出错的场所记为不可用。
func (r *Router) Availability(ctx context.Context) []venue.Availability {
	results := make([]venue.Availability, len(r.enabled))

	var group errgroup.Group
	for i, id := range r.enabled {
		group.Go(func() error {
			adapter := r.adapters[id]
			avail, err := within(ctx, r.opts.AvailabilityTimeout, id, "检查可用性", adapter.CheckAvailability)
			if err != nil {
				reason, ok := venue.ReasonOf(err)
				if !ok {
					reason = venue.ReasonUnreachable
				}
				avail = venue.Unavailable(id, reason, err.Error())
			}
			avail.Venue = id
			results[i] = avail
			return nil
		})
	}
	_ = group.Wait()

	return results
}

// Quotes 并发向所有启用场所询价，按配置顺序返回每个场所的结果。
func (r *Router) Quotes(ctx context.Context, req venue.TradeRequest) ([]QuoteOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}
	return r.collect(ctx, req, r.enabled), nil
}

// Route 按策略完成一次路由：询价、选择、成交，并按策略规则回退。
func (r *Router) Route(ctx context.Context, req venue.TradeRequest, strategy Strategy) (Outcome, error) {
	if err := req.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("routing: %w", err)
	}

	p, err := planFor(strategy, r.enabled)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{
		RouteID:   uuid.NewString(),
		Strategy:  strategy,
		Request:   req,
		StartedAt: r.now().UTC(),
	}
	logger := r.logger.With(
		zap.String("route_id", out.RouteID),
		zap.String("strategy", strategy.String()),
		zap.String("mode", p.mode.String()),
		zap.String("pair", req.Pair.String()),
		zap.String("side", string(req.Side)),
		zap.String("amount", req.Amount.String()),
	)

	switch p.mode {
	case modeCompare:
		err = r.compare(ctx, req, p, &out, logger)
	case modeSequential:
		err = r.sequential(ctx, req, p, &out, logger)
	case modeSingle:
		err = r.single(ctx, req, p, &out, logger)
	default:
		err = fmt.Errorf("routing: 未知执行模式 %s", p.mode)
	}
	out.FinishedAt = r.now().UTC()

	if err != nil {
		logger.Warn("路由失败", zap.Int("failures", len(out.Failures)), zap.Error(err))
		return out, err
	}

	logger.Info("路由完成",
		zap.String("venue", string(out.Execution.Venue)),
		zap.String("price", out.Selected.Price.String()),
		zap.String("tx_hash", out.Execution.TxHash),
		zap.Int("failures", len(out.Failures)),
		zap.Duration("elapsed", out.FinishedAt.Sub(out.StartedAt)),
	)
	return out, nil
}

// compare 并发询价，选择价格最优者成交。不可用场所被排除，全部不可用时返回聚合错误。
func (r *Router) compare(ctx context.Context, req venue.TradeRequest, p plan, out *Outcome, logger *zap.Logger) error {
	out.Quotes = r.collect(ctx, req, p.venues)
	if err := ctx.Err(); err != nil {
		return err
	}

	now := r.now()
	var best *QuoteOutcome
	for i := range out.Quotes {
		candidate := &out.Quotes[i]
		if candidate.OK() {
			if err := usable(candidate.Venue, candidate.Quote, now); err != nil {
				candidate.Err = err
				candidate.Stage = StageQuote
			}
		}
		if !candidate.OK() {
			out.Failures = append(out.Failures, VenueFailure{Venue: candidate.Venue, Stage: candidate.Stage, Err: candidate.Err})
			logger.Info("场所被排除", zap.String("venue", string(candidate.Venue)), zap.Error(candidate.Err))
			continue
		}
		if best == nil || r.preferred(*candidate, *best) {
			best = candidate
		}
	}

	if best == nil {
		return &AllVenuesFailedError{Strategy: out.Strategy, Failures: out.Failures}
	}

	selected := best.Quote
	out.Selected = &selected
	logger.Info("已选择最优报价",
		zap.String("venue", string(selected.Venue)),
		zap.String("quote_id", selected.ID),
		zap.String("price", selected.Price.String()),
	)

	result, err := r.execute(ctx, best.Venue, selected)
	if err != nil {
		out.Failures = append(out.Failures, VenueFailure{Venue: best.Venue, Stage: StageExecute, Err: err})
		return err
	}
	out.Execution = &result
	return nil
}

// sequential 依次尝试各场所，只有确定前一个场所失败且未提交订单时才联系下一个。
func (r *Router) sequential(ctx context.Context, req venue.TradeRequest, p plan, out *Outcome, logger *zap.Logger) error {
	for i, id := range p.venues {
		if i > 0 {
			logger.Info("回退到下一个场所", zap.String("venue", string(id)))
		}

		if !r.isEnabled(id) {
			out.Failures = append(out.Failures, VenueFailure{Venue: id, Stage: StageAvailability, Err: disabled(id)})
			continue
		}

		attempt := r.quoteVenue(ctx, id, req)
		out.Quotes = append(out.Quotes, attempt)
		if attempt.OK() {
			if err := usable(id, attempt.Quote, r.now()); err != nil {
				attempt.Err, attempt.Stage = err, StageQuote
				out.Quotes[len(out.Quotes)-1] = attempt
			}
		}
		if !attempt.OK() {
			if err := ctx.Err(); err != nil {
				return err
			}
			out.Failures = append(out.Failures, VenueFailure{Venue: id, Stage: attempt.Stage, Err: attempt.Err})
			logger.Info("场所报价失败", zap.String("venue", string(id)), zap.Error(attempt.Err))
			continue
		}

		selected := attempt.Quote
		out.Selected = &selected
		result, err := r.execute(ctx, id, selected)
		if err != nil {
			out.Failures = append(out.Failures, VenueFailure{Venue: id, Stage: StageExecute, Err: err})
			if !venue.SafeToFallback(err) {
				logger.Error("成交状态未知，停止回退", zap.String("venue", string(id)), zap.Error(err))
				return combined(out, err)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return combined(out, err)
			}
			out.Selected = nil
			continue
		}

		out.Execution = &result
		return nil
	}

	return &AllVenuesFailedError{Strategy: out.Strategy, Failures: out.Failures}
}

// single 只联系一个场所，任何失败直接返回。
func (r *Router) single(ctx context.Context, req venue.TradeRequest, p plan, out *Outcome, _ *zap.Logger) error {
	id := p.venues[0]
	if !r.isEnabled(id) {
		err := disabled(id)
		out.Failures = append(out.Failures, VenueFailure{Venue: id, Stage: StageAvailability, Err: err})
		return err
	}

	attempt := r.quoteVenue(ctx, id, req)
	if attempt.OK() {
		if err := usable(id, attempt.Quote, r.now()); err != nil {
			attempt.Err, attempt.Stage = err, StageQuote
		}
	}
	out.Quotes = append(out.Quotes, attempt)
	if !attempt.OK() {
		out.Failures = append(out.Failures, VenueFailure{Venue: id, Stage: attempt.Stage, Err: attempt.Err})
		return attempt.Err
	}

	selected := attempt.Quote
	out.Selected = &selected
	result, err := r.execute(ctx, id, selected)
	if err != nil {
		out.Failures = append(out.Failures, VenueFailure{Venue: id, Stage: StageExecute, Err: err})
		return err
	}
	out.Execution = &result
	return nil
}

// collect 并发询价，每个 goroutine 只写自己的结果槽位。
func (r *Router) collect(ctx context.Context, req venue.TradeRequest, ids []venue.ID) []QuoteOutcome {
	results := make([]QuoteOutcome, len(ids))

	var group errgroup.Group
	for i, id := range ids {
		group.Go(func() error {
			results[i] = r.quoteVenue(ctx, id, req)
			return nil
		})
	}
	_ = group.Wait()

	return results
}

// quoteVenue 先检查可用性再询价，两步各有独立超时。
func (r *Router) quoteVenue(ctx context.Context, id venue.ID, req venue.TradeRequest) QuoteOutcome {
	start := r.now()
	outcome := QuoteOutcome{Venue: id}
	finish := func() QuoteOutcome {
		outcome.ReceivedAt = r.now()
		outcome.Latency = outcome.ReceivedAt.Sub(start)
		return outcome
	}

	adapter := r.adapters[id]

	avail, err := within(ctx, r.opts.AvailabilityTimeout, id, "检查可用性", adapter.CheckAvailability)
	if err == nil && !avail.Available {
		avail.Venue = id
		err = avail.Err()
	}
	if err != nil {
		outcome.Err, outcome.Stage = err, StageAvailability
		return finish()
	}

	quote, err := within(ctx, r.quoteTimeout(id), id, "获取报价", func(ctx context.Context) (venue.Quote, error) {
		return adapter.GetQuote(ctx, req)
	})
	if err != nil {
		outcome.Err, outcome.Stage = err, StageQuote
		return finish()
	}

	outcome.Quote = quote
	return finish()
}

// execute 单次提交成交，不重试。非 ExecutionError 的失败视为提交状态未知。
func (r *Router) execute(ctx context.Context, id venue.ID, quote venue.Quote) (venue.ExecutionResult, error) {
	adapter := r.adapters[id]
	result, err := within(ctx, r.opts.ExecuteTimeout, id, "提交成交", func(ctx context.Context) (venue.ExecutionResult, error) {
		return adapter.Execute(ctx, quote)
	})
	if err != nil {
		var execErr *venue.ExecutionError
		if !errors.As(err, &execErr) {
			err = venue.Failed(id, quote.ID, err)
		}
		return venue.ExecutionResult{}, err
	}
	if result.Venue == "" {
		result.Venue = id
	}
	if result.QuoteID == "" {
		result.QuoteID = quote.ID
	}
	return result, nil
}

// preferred 判断 a 是否优于当前最优 b。
func (r *Router) preferred(a, b QuoteOutcome) bool {
	if a.Quote.Better(b.Quote) {
		return true
	}
	if b.Quote.Better(a.Quote) {
		return false
	}
	if r.opts.TieBreak == TieBreakEarliest {
		return a.ReceivedAt.Before(b.ReceivedAt)
	}
	return false
}

func (r *Router) quoteTimeout(id venue.ID) time.Duration {
	if timeout, ok := r.opts.QuoteTimeouts[id]; ok && timeout > 0 {
		return timeout
	}
	return r.opts.QuoteTimeout
}

func (r *Router) isEnabled(id venue.ID) bool {
	for _, enabled := range r.enabled {
		if enabled == id {
			return true
		}
	}
	return false
}

// usable 判断报价在 now 时刻能否用于成交。
func usable(id venue.ID, quote venue.Quote, now time.Time) error {
	if !quote.Price.IsPositive() {
		return venue.NewUnavailable(id, venue.ReasonNoOffers, "报价价格无效", nil)
	}
	if quote.Expired(now) {
		return venue.NewUnavailable(id, venue.ReasonTimeout, "报价已过期", venue.ErrQuoteExpired)
	}
	return nil
}

// combined 在已有前序场所失败时返回包含全部失败的聚合错误，否则返回 err 本身。
func combined(out *Outcome, err error) error {
	if len(out.Failures) > 1 {
		return &AllVenuesFailedError{Strategy: out.Strategy, Failures: out.Failures}
	}
	return err
}

func disabled(id venue.ID) error {
	return venue.NewUnavailable(id, venue.ReasonDisabled, "未在配置中启用", venue.ErrVenueDisabled)
}

// within 在独立超时内调用场所。适配器忽略 ctx 时也会按时返回，迟到的结果被丢弃。
func within[T any](ctx context.Context, timeout time.Duration, id venue.ID, operation string, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(callCtx)
		done <- result{value: value, err: err}
	}()

	var zero T
	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && bareDeadline(res.err) {
			return zero, venue.Timeout(id, operation)
		}
		return res.value, res.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, venue.Timeout(id, operation)
	}
}

// bareDeadline 判断错误是否为未经场所分类的超时。
func bareDeadline(err error) bool {
	var execErr *venue.ExecutionError
	var unavailable *venue.UnavailableError
	return errors.Is(err, context.DeadlineExceeded) && !errors.As(err, &execErr) && !errors.As(err, &unavailable)
}
