package monitor

import (
	"time"

	"rwa-trader/internal/venue"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventAvailability  EventType = "availability"
	EventQuotes        EventType = "quotes"
	EventRouteDecision EventType = "route_decision"
	EventExecution     EventType = "execution"
	EventError         EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	RouteID   string      `json:"route_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Filter 为事件查询条件。
type Filter struct {
	Type    EventType
	RouteID string
	Limit   int
}

// AvailabilityPayload 记录各场所可用性。
type AvailabilityPayload struct {
	Venues []venue.Availability `json:"venues"`
}

// QuoteSummary 为单个场所的报价摘要。
type QuoteSummary struct {
	Venue      venue.ID       `json:"venue"`
	OK         bool           `json:"ok"`
	QuoteID    string         `json:"quote_id,omitempty"`
	Price      string         `json:"price,omitempty"`
	SellAmount string         `json:"sell_amount,omitempty"`
	BuyAmount  string         `json:"buy_amount,omitempty"`
	Stage      string         `json:"stage,omitempty"`
	Reason     venue.Reason   `json:"reason,omitempty"`
	Category   venue.Category `json:"category,omitempty"`
	Error      string         `json:"error,omitempty"`
	LatencyMS  int64          `json:"latency_ms"`
}

// QuotesPayload 记录一次询价。
type QuotesPayload struct {
	Pair   string         `json:"pair"`
	Side   venue.Side     `json:"side"`
	Amount string         `json:"amount"`
	Quotes []QuoteSummary `json:"quotes"`
}

// FailureSummary 为单个场所的失败摘要。
type FailureSummary struct {
	Venue    venue.ID       `json:"venue"`
	Stage    string         `json:"stage"`
	Reason   venue.Reason   `json:"reason,omitempty"`
	Category venue.Category `json:"category"`
	Error    string         `json:"error"`
}

// RouteDecisionPayload 记录路由决策。
type RouteDecisionPayload struct {
	Strategy string           `json:"strategy"`
	Pair     string           `json:"pair"`
	Side     venue.Side       `json:"side"`
	Amount   string           `json:"amount"`
	Venue    venue.ID         `json:"venue,omitempty"`
	QuoteID  string           `json:"quote_id,omitempty"`
	Price    string           `json:"price,omitempty"`
	Failures []FailureSummary `json:"failures,omitempty"`
	Elapsed  string           `json:"elapsed"`
}

// ExecutionPayload 记录成交结果。
type ExecutionPayload struct {
	Strategy string                `json:"strategy"`
	Result   venue.ExecutionResult `json:"result"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message  string                 `json:"message"`
	Error    string                 `json:"error"`
	Category venue.Category         `json:"category"`
	Context  map[string]interface{} `json:"context,omitempty"`
}
