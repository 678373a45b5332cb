package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rwa-trader/internal/routing"
	"rwa-trader/internal/store"
	"rwa-trader/internal/venue"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	route_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);`,
	`CREATE INDEX IF NOT EXISTS idx_monitor_events_route ON monitor_events(route_id);`,
}

// Service 负责持久化路由事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(ctx context.Context, store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := store.Migrate(ctx, schema...); err != nil {
		return nil, fmt.Errorf("monitor: 初始化表失败: %w", err)
	}

	return &Service{
		db:     store.DB(),
		logger: logger,
	}, nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, route_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), event.RouteID, string(payload), event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordAvailability 记录场所可用性。
func (s *Service) RecordAvailability(ctx context.Context, venues []venue.Availability) {
	s.record(ctx, Event{
		Type:    EventAvailability,
		Payload: AvailabilityPayload{Venues: venues},
	}, "记录可用性事件失败")
}

// RecordQuotes 记录一次询价的全部结果。
func (s *Service) RecordQuotes(ctx context.Context, routeID string, req venue.TradeRequest, quotes []routing.QuoteOutcome) {
	summaries := make([]QuoteSummary, 0, len(quotes))
	for _, q := range quotes {
		summaries = append(summaries, SummarizeQuote(q))
	}
	s.record(ctx, Event{
		Type:    EventQuotes,
		RouteID: routeID,
		Payload: QuotesPayload{
			Pair:   req.Pair.String(),
			Side:   req.Side,
			Amount: req.Amount.String(),
			Quotes: summaries,
		},
	}, "记录询价事件失败")
}

// RecordRoute 记录一次路由：询价、决策，成功时记录成交，失败时记录异常。
func (s *Service) RecordRoute(ctx context.Context, out routing.Outcome, routeErr error) {
	if len(out.Quotes) > 0 {
		s.RecordQuotes(ctx, out.RouteID, out.Request, out.Quotes)
	}

	decision := RouteDecisionPayload{
		Strategy: out.Strategy.String(),
		Pair:     out.Request.Pair.String(),
		Side:     out.Request.Side,
		Amount:   out.Request.Amount.String(),
		Elapsed:  out.FinishedAt.Sub(out.StartedAt).String(),
	}
	if out.Selected != nil {
		decision.Venue = out.Selected.Venue
		decision.QuoteID = out.Selected.ID
		decision.Price = out.Selected.Price.String()
	}
	for _, failure := range out.Failures {
		decision.Failures = append(decision.Failures, SummarizeFailure(failure))
	}
	s.record(ctx, Event{Type: EventRouteDecision, RouteID: out.RouteID, Payload: decision}, "记录路由决策失败")

	if routeErr != nil {
		s.RecordError(ctx, out.RouteID, "路由失败", routeErr, map[string]interface{}{
			"strategy": out.Strategy.String(),
			"pair":     out.Request.Pair.String(),
			"side":     string(out.Request.Side),
		})
		return
	}

	if out.Execution != nil {
		s.record(ctx, Event{
			Type:    EventExecution,
			RouteID: out.RouteID,
			Payload: ExecutionPayload{Strategy: out.Strategy.String(), Result: *out.Execution},
		}, "记录成交事件失败")
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, routeID, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message:  msg,
		Category: venue.Classify(err),
		Context:  ctxMap,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	s.record(ctx, Event{Type: EventError, RouteID: routeID, Payload: payload}, "记录异常事件失败")
}

func (s *Service) record(ctx context.Context, event Event, failure string) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := s.Record(ctx, event); err != nil {
		s.logger.Warn(failure, zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

// ListEvents 按条件检索最近事件。
func (s *Service) ListEvents(ctx context.Context, filter Filter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, route_id, payload, created_at FROM monitor_events WHERE 1=1`
	args := make([]interface{}, 0, 3)
	if filter.Type != "" {
		query += ` AND event_type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.RouteID != "" {
		query += ` AND route_id = ?`
		args = append(args, filter.RouteID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			routeID string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &routeID, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			RouteID:   routeID,
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}

// SummarizeQuote 将报价结果转换为可序列化的摘要。
func SummarizeQuote(q routing.QuoteOutcome) QuoteSummary {
	summary := QuoteSummary{
		Venue:     q.Venue,
		OK:        q.OK(),
		LatencyMS: q.Latency.Milliseconds(),
	}
	if q.OK() {
		summary.QuoteID = q.Quote.ID
		summary.Price = q.Quote.Price.String()
		summary.SellAmount = q.Quote.SellAmount.String()
		summary.BuyAmount = q.Quote.BuyAmount.String()
		return summary
	}
	summary.Stage = string(q.Stage)
	summary.Reason, _ = venue.ReasonOf(q.Err)
	summary.Category = venue.Classify(q.Err)
	summary.Error = q.Err.Error()
	return summary
}

// SummarizeFailure 将场所失败转换为可序列化的摘要。
func SummarizeFailure(f routing.VenueFailure) FailureSummary {
	summary := FailureSummary{
		Venue:    f.Venue,
		Stage:    string(f.Stage),
		Category: venue.Classify(f.Err),
	}
	summary.Reason, _ = venue.ReasonOf(f.Err)
	if f.Err != nil {
		summary.Error = f.Err.Error()
	}
	var execErr *venue.ExecutionError
	if errors.As(f.Err, &execErr) && summary.Reason == "" {
		summary.Reason = "execution_failed"
	}
	return summary
}
