package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rwa-trader/internal/venue"
)

// SubmitFunc 向场所提交一笔成交。
type SubmitFunc func(ctx context.Context) (venue.ExecutionResult, error)

// Submitter 为场所适配器提供单次提交语义：先占用报价，再提交，不做任何重试。
type Submitter struct {
	guard  Guard
	ttl    time.Duration
	logger *zap.Logger
}

// NewSubmitter 创建提交器。
func NewSubmitter(guard Guard, ttl time.Duration, logger *zap.Logger) *Submitter {
	if guard == nil {
		guard = NewMemoryGuard()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		guard:  guard,
		ttl:    ttl,
		logger: logger,
	}
}

// Submit 占用报价后调用 submit。占用失败或重复时不会调用 submit。
func (s *Submitter) Submit(ctx context.Context, id venue.ID, quote venue.Quote, submit SubmitFunc) (venue.ExecutionResult, error) {
	if quote.ID == "" {
		return venue.ExecutionResult{}, venue.Rejected(id, quote.ID, errors.New("报价缺少 ID"))
	}

	claimed, err := s.guard.Claim(ctx, string(id)+":"+quote.ID, s.ttl)
	if err != nil {
		return venue.ExecutionResult{}, venue.Rejected(id, quote.ID, err)
	}
	if !claimed {
		s.logger.Warn("报价已提交过成交，拒绝重复提交",
			zap.String("venue", string(id)),
			zap.String("quote_id", quote.ID),
		)
		return venue.ExecutionResult{}, venue.Rejected(id, quote.ID, venue.ErrDuplicateExecution)
	}

	start := time.Now()
	result, err := submit(ctx)
	latency := time.Since(start)
	if err != nil {
		s.logger.Error("成交提交失败",
			zap.String("venue", string(id)),
			zap.String("quote_id", quote.ID),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		var execErr *venue.ExecutionError
		if errors.As(err, &execErr) {
			return venue.ExecutionResult{}, err
		}
		return venue.ExecutionResult{}, venue.Failed(id, quote.ID, fmt.Errorf("提交成交: %w", err))
	}

	result.Venue = id
	result.QuoteID = quote.ID
	if result.ExecutedAt.IsZero() {
		result.ExecutedAt = time.Now().UTC()
	}

	s.logger.Info("成交已提交",
		zap.String("venue", string(id)),
		zap.String("quote_id", quote.ID),
		zap.String("order_id", result.OrderID),
		zap.String("tx_hash", result.TxHash),
		zap.Duration("latency", latency),
	)
	return result, nil
}
