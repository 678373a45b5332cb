package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"rwa-trader/internal/config"
	"rwa-trader/internal/monitor"
	"rwa-trader/internal/routing"
	"rwa-trader/internal/store"
	"rwa-trader/internal/venue"
	"rwa-trader/internal/venue/marketmaker"
)

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Environment: "dev", Network: "polygon", ChainID: 137},
		Routing: config.RoutingConfig{
			Strategy:            "best_price",
			Venues:              []string{"cross_chain_access", "market_maker"},
			TieBreak:            "earliest_response",
			AvailabilityTimeout: time.Second,
			QuoteTimeout:        time.Second,
			ExecuteTimeout:      time.Second,
			QuoteTTL:            30 * time.Second,
		},
		CrossChain: config.CrossChainConfig{
			MarketHours: config.MarketHoursConfig{Open: "14:30", Close: "21:00", Timezone: "UTC"},
		},
		MarketMaker: config.MarketMakerConfig{OfferLimit: 5},
		Simulation: config.SimulationConfig{
			Base:        config.TokenConfig{Address: "0x267fc8b95345916c9740cbc007ed65c71b052395", Symbol: "NVDA"},
			Quote:       config.TokenConfig{Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Symbol: "USDC"},
			CrossChain:  config.SimulatedVenueConfig{Price: 1.02, Balance: 10000},
			MarketMaker: config.SimulatedVenueConfig{Price: 1.00, Balance: 10000, Liquidity: 5000},
		},
		Execution: config.ExecutionConfig{Guard: "memory", GuardTTL: time.Hour},
		Database:  config.DatabaseConfig{InMemory: true},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	st, err := store.NewSQLite(cfg.Database)
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	a, err := New(context.Background(), cfg, nil, st)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestTradeBestPriceBuysOnCheaperVenue(t *testing.T) {
	a := newTestApp(t, testConfig())

	var buf bytes.Buffer
	err := a.Run(context.Background(), Request{Mode: ModeTrade, Side: "buy", Amount: "100"}, &buf)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var report TradeReport
	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Execution == nil || report.Execution.Venue != venue.MarketMaker {
		t.Fatalf("expected execution on market maker, got %+v", report.Execution)
	}
	if report.Strategy != "best_price" || report.Pair != "NVDA/USDC" {
		t.Fatalf("unexpected report header %+v", report)
	}
	if report.Execution.TxHash == "" || !report.Execution.SellAmount.IsPositive() {
		t.Fatalf("unexpected execution %+v", report.Execution)
	}

	events, err := a.monitor.ListEvents(context.Background(), monitor.Filter{RouteID: report.RouteID})
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 3 || events[0].Type != monitor.EventExecution {
		t.Fatalf("expected recorded route events, got %d", len(events))
	}
}

func TestQuotesReportsEveryVenue(t *testing.T) {
	a := newTestApp(t, testConfig())

	var buf bytes.Buffer
	if err := a.Run(context.Background(), Request{Mode: ModeQuotes, Side: "buy", Amount: "100"}, &buf); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var report QuotesReport
	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(report.Quotes) != 2 {
		t.Fatalf("expected both venues in report, got %d", len(report.Quotes))
	}
	if report.Quotes[0].Venue != venue.CrossChainAccess || report.Quotes[1].Venue != venue.MarketMaker {
		t.Fatalf("unexpected venue order %+v", report.Quotes)
	}
	if report.Best == nil || report.Best.Venue != venue.MarketMaker {
		t.Fatalf("expected market maker as best quote, got %+v", report.Best)
	}
}

func TestTradeOnlyStrategyWithDisabledVenue(t *testing.T) {
	cfg := testConfig()
	cfg.Routing.Venues = []string{"market_maker"}
	a := newTestApp(t, cfg)

	var buf bytes.Buffer
	err := a.Run(context.Background(), Request{Mode: ModeTrade, Strategy: "cross_chain_access_only", Side: "buy", Amount: "100"}, &buf)
	if err == nil {
		t.Fatalf("expected error for disabled venue")
	}
	reason, ok := venue.ReasonOf(err)
	if !ok || reason != venue.ReasonDisabled {
		t.Fatalf("expected disabled reason, got %v", err)
	}
}

func TestTradeReportsVenueFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.MarketMaker.Liquidity = 0
	a := newTestApp(t, cfg)

	var buf bytes.Buffer
	err := a.Run(context.Background(), Request{Mode: ModeTrade, Strategy: "market_maker_only", Side: "buy", Amount: "100"}, &buf)
	if reason, ok := venue.ReasonOf(err); !ok || reason != venue.ReasonNoOffers {
		t.Fatalf("expected no_offers, got %v", err)
	}

	var report TradeReport
	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Execution != nil || len(report.Failures) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Failures[0].Venue != venue.MarketMaker || report.Failures[0].Stage != string(routing.StageQuote) {
		t.Fatalf("unexpected failure %+v", report.Failures[0])
	}
	if report.Category != venue.CategoryNoLiquidity {
		t.Fatalf("expected no_liquidity category, got %s", report.Category)
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	a := newTestApp(t, testConfig())
	ctx := context.Background()
	var buf bytes.Buffer

	if err := a.Run(ctx, Request{Mode: ModeTrade, Side: "hold", Amount: "1"}, &buf); err == nil {
		t.Fatalf("expected error for bad side")
	}
	if err := a.Run(ctx, Request{Mode: ModeTrade, Side: "buy", Amount: "abc"}, &buf); err == nil {
		t.Fatalf("expected error for bad amount")
	}
	if err := a.Run(ctx, Request{Mode: ModeTrade, Side: "buy", Amount: "-5"}, &buf); err == nil {
		t.Fatalf("expected error for negative amount")
	}
	if err := a.Run(ctx, Request{Mode: ModeTrade, Strategy: "cheapest", Side: "buy", Amount: "1"}, &buf); !errors.Is(err, routing.ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
	if err := a.Run(ctx, Request{Mode: "backtest"}, &buf); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
	if buf.Len() != 0 {
		t.Fatalf("rejected input must not produce a report")
	}
}

func TestNewRejectsBadToken(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.Base.Address = "not-an-address"
	if _, err := New(context.Background(), cfg, nil, nil); err == nil {
		t.Fatalf("expected error for invalid token address")
	}
}

func TestMonitorHandler(t *testing.T) {
	a := newTestApp(t, testConfig())
	ctx := context.Background()

	var buf bytes.Buffer
	if err := a.Run(ctx, Request{Mode: ModeTrade, Strategy: "market_maker_first", Side: "buy", Amount: "50"}, &buf); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	var trade TradeReport
	if err := json.Unmarshal(buf.Bytes(), &trade); err != nil {
		t.Fatalf("decode report: %v", err)
	}

	handler := newMonitorHandler(a.monitor, a.Status, a.logger)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?type=execution&route="+trade.RouteID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var events []monitor.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 1 || events[0].RouteID != trade.RouteID {
		t.Fatalf("unexpected events %+v", events)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var status StatusReport
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(status.Venues) != 2 || status.Pair != "NVDA/USDC" {
		t.Fatalf("unexpected status %+v", status)
	}
	if !status.Venues[1].Available || status.Venues[1].Venue != venue.MarketMaker {
		t.Fatalf("market maker must always be available, got %+v", status.Venues[1])
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.PollInterval = 10 * time.Millisecond
	a := newTestApp(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected deadline error from Serve")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after context ended")
	}
}

func TestOffersListsBookAndPriceFeeds(t *testing.T) {
	a := newTestApp(t, testConfig())

	var buf bytes.Buffer
	if err := a.Run(context.Background(), Request{Mode: ModeOffers, Side: "sell"}, &buf); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var report OffersReport
	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Side != venue.SideSell || len(report.Offers) != 5 {
		t.Fatalf("unexpected offers report %+v", report)
	}
	if report.Offers[0].DepositToken != a.pair.Base.Address {
		t.Fatalf("sell side should deposit the RWA token, got %s", report.Offers[0].DepositToken)
	}
	if !report.PriceFeeds.Has(a.pair.Base.Address) || !report.PriceFeeds.Has(a.pair.Quote.Address) {
		t.Fatalf("expected a price feed per pair token, got %v", report.PriceFeeds)
	}
}

func TestMakeOfferReportsReceipt(t *testing.T) {
	a := newTestApp(t, testConfig())
	ctx := context.Background()

	var buf bytes.Buffer
	req := Request{Mode: ModeMakeOffer, Side: "sell", Amount: "10", Price: "1.5", Dynamic: true}
	if err := a.Run(ctx, req, &buf); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var report MakeOfferReport
	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Receipt.OfferID == "" || report.Receipt.TxHash == "" || !report.Dynamic {
		t.Fatalf("unexpected make_offer report %+v", report)
	}
	if report.Receipt.BuyAmount.String() != "15" {
		t.Fatalf("10 RWA at 1.5 should ask 15 USDC, got %s", report.Receipt.BuyAmount)
	}

	buf.Reset()
	if err := a.Run(ctx, Request{Mode: ModeMakeOffer, Side: "sell", Amount: "10", Price: "abc"}, &buf); err == nil {
		t.Fatalf("expected error for bad price")
	}
	if err := a.Run(ctx, Request{Mode: ModeMakeOffer, Side: "sell", Amount: "1000000", Price: "1"}, &buf); !errors.Is(err, marketmaker.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("failed offers must not produce a report")
	}
}

func TestCloseAggregatesErrors(t *testing.T) {
	var order []string
	a := &App{closers: []func() error{
		func() error { order = append(order, "redis"); return errors.New("redis closed") },
		func() error { order = append(order, "feed"); return errors.New("feed closed") },
	}}

	err := a.Close()
	if got := multierr.Errors(err); len(got) != 2 {
		t.Fatalf("expected both close errors, got %v", err)
	}
	if len(order) != 2 || order[0] != "feed" {
		t.Fatalf("closers should run in reverse order, got %v", order)
	}
}

func TestNewWarnsAboutMissingCredentials(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg := testConfig()
	cfg.Credentials.RPQAPIKey = "key"

	a, err := New(context.Background(), cfg, zap.New(core), nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	entries := logs.FilterField(zap.Strings("missing", []string{"PRIVATE_KEY", "USER_EMAIL"})).All()
	if len(entries) != 1 {
		t.Fatalf("expected one warning naming the missing credentials, got %v", logs.All())
	}
}

func TestBuyFixedRWAQuantityFromQuotedPrice(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.MarketMaker.Price = 2.5
	a := newTestApp(t, cfg)
	ctx := context.Background()

	var buf bytes.Buffer
	if err := a.Run(ctx, Request{Mode: ModeQuotes, Side: "buy", Amount: "1"}, &buf); err != nil {
		t.Fatalf("quotes returned error: %v", err)
	}
	var quotes QuotesReport
	if err := json.Unmarshal(buf.Bytes(), &quotes); err != nil {
		t.Fatalf("decode quotes: %v", err)
	}
	var price decimal.Decimal
	for _, q := range quotes.Quotes {
		if q.Venue == venue.MarketMaker {
			price = decimal.RequireFromString(q.Price)
		}
	}

	amount := decimal.NewFromInt(40).Mul(price)
	buf.Reset()
	req := Request{Mode: ModeTrade, Strategy: "market_maker_only", Side: "buy", Amount: amount.String()}
	if err := a.Run(ctx, req, &buf); err != nil {
		t.Fatalf("trade returned error: %v", err)
	}
	var report TradeReport
	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Execution == nil || !report.Execution.BuyAmount.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("spending 40 x quoted price should buy 40 RWA, got %+v", report.Execution)
	}
}
