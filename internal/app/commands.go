package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rwa-trader/internal/monitor"
	"rwa-trader/internal/routing"
	"rwa-trader/internal/venue"
	"rwa-trader/internal/venue/marketmaker"
)

// Mode 为命令行运行模式。
type Mode string

const (
	ModeQuotes Mode = "quotes"
	ModeTrade  Mode = "trade"
	ModeStatus Mode = "status"
	ModeServe  Mode = "serve"

	ModeOffers    Mode = "offers"
	ModeMakeOffer Mode = "make_offer"
)

// Request 描述一次命令行调用。
type Request struct {
	Mode          Mode
	Strategy      string
	Side          string
	Amount        string
	TargetChainID int64

	// Price 与 Dynamic 仅用于 make_offer 模式。
	Price   string
	Dynamic bool
}

// QuotesReport 为 quotes 模式输出。
type QuotesReport struct {
	RouteID string                 `json:"route_id"`
	Pair    string                 `json:"pair"`
	Side    venue.Side             `json:"side"`
	Amount  string                 `json:"amount"`
	Best    *monitor.QuoteSummary  `json:"best,omitempty"`
	Quotes  []monitor.QuoteSummary `json:"quotes"`
}

// TradeReport 为 trade 模式输出。
type TradeReport struct {
	RouteID   string                   `json:"route_id"`
	Strategy  string                   `json:"strategy"`
	Pair      string                   `json:"pair"`
	Side      venue.Side               `json:"side"`
	Amount    string                   `json:"amount"`
	Quotes    []monitor.QuoteSummary   `json:"quotes,omitempty"`
	Execution *venue.ExecutionResult   `json:"execution,omitempty"`
	Failures  []monitor.FailureSummary `json:"failures,omitempty"`
	Category  venue.Category           `json:"category,omitempty"`
	Error     string                   `json:"error,omitempty"`
	Elapsed   string                   `json:"elapsed"`
}

// OffersReport 为 offers 模式输出，列出按 side 方向可吃的做市报单与动态报单可用的价格源。
type OffersReport struct {
	Pair       string                  `json:"pair"`
	Side       venue.Side              `json:"side"`
	Offers     []marketmaker.BookOffer `json:"offers"`
	PriceFeeds marketmaker.PriceFeeds  `json:"price_feeds"`
}

// MakeOfferReport 为 make_offer 模式输出。
type MakeOfferReport struct {
	Pair    string                   `json:"pair"`
	Side    venue.Side               `json:"side"`
	Amount  string                   `json:"amount"`
	Price   string                   `json:"price"`
	Dynamic bool                     `json:"dynamic"`
	Receipt marketmaker.OfferReceipt `json:"receipt"`
}

// StatusReport 为 status 模式与 /status 接口输出。
type StatusReport struct {
	Pair        string               `json:"pair"`
	Strategy    string               `json:"strategy"`
	Wallet      string               `json:"wallet,omitempty"`
	MarketOpen  bool                 `json:"market_open"`
	MarketHours string               `json:"market_hours"`
	Venues      []venue.Availability `json:"venues"`
	CheckedAt   time.Time            `json:"checked_at"`
}

// Run 按模式执行一次命令，结果以 JSON 写入 w。
func (a *App) Run(ctx context.Context, req Request, w io.Writer) error {
	switch req.Mode {
	case ModeQuotes:
		return a.runQuotes(ctx, req, w)
	case ModeTrade:
		return a.runTrade(ctx, req, w)
	case ModeStatus:
		return writeJSON(w, a.Status(ctx))
	case ModeOffers:
		return a.runOffers(ctx, req, w)
	case ModeMakeOffer:
		return a.runMakeOffer(ctx, req, w)
	case ModeServe, "":
		return a.Serve(ctx)
	default:
		return fmt.Errorf("app: 未知运行模式 %q", req.Mode)
	}
}

// Status 检查各场所可用性并记录。
func (a *App) Status(ctx context.Context) StatusReport {
	venues := a.router.Availability(ctx)
	if a.monitor != nil {
		a.monitor.RecordAvailability(ctx, venues)
	}
	open, hours := a.calendar.Status()
	report := StatusReport{
		Pair:        a.pair.String(),
		Strategy:    a.cfg.Routing.Strategy,
		MarketOpen:  open,
		MarketHours: hours,
		Venues:      venues,
		CheckedAt:   time.Now().UTC(),
	}
	if a.account != nil {
		report.Wallet = a.account.Hex()
	}
	return report
}

func (a *App) runQuotes(ctx context.Context, req Request, w io.Writer) error {
	tradeReq, err := a.tradeRequest(req)
	if err != nil {
		return err
	}

	quotes, err := a.router.Quotes(ctx, tradeReq)
	if err != nil {
		return err
	}

	report := QuotesReport{
		RouteID: uuid.NewString(),
		Pair:    tradeReq.Pair.String(),
		Side:    tradeReq.Side,
		Amount:  tradeReq.Amount.String(),
		Quotes:  make([]monitor.QuoteSummary, 0, len(quotes)),
	}
	var best *routing.QuoteOutcome
	for i := range quotes {
		report.Quotes = append(report.Quotes, monitor.SummarizeQuote(quotes[i]))
		if !quotes[i].OK() {
			continue
		}
		if best == nil || quotes[i].Quote.Better(best.Quote) {
			best = &quotes[i]
		}
	}
	if best != nil {
		summary := monitor.SummarizeQuote(*best)
		report.Best = &summary
	}

	if a.monitor != nil {
		a.monitor.RecordQuotes(ctx, report.RouteID, tradeReq, quotes)
	}
	return writeJSON(w, report)
}

func (a *App) runTrade(ctx context.Context, req Request, w io.Writer) error {
	tradeReq, err := a.tradeRequest(req)
	if err != nil {
		return err
	}
	strategy, err := a.strategy(req.Strategy)
	if err != nil {
		return err
	}

	out, routeErr := a.router.Route(ctx, tradeReq, strategy)
	if out.RouteID == "" {
		// 输入或策略校验失败，未产生路由
		return routeErr
	}
	if a.monitor != nil {
		a.monitor.RecordRoute(ctx, out, routeErr)
	}

	report := TradeReport{
		RouteID:   out.RouteID,
		Strategy:  strategy.String(),
		Pair:      tradeReq.Pair.String(),
		Side:      tradeReq.Side,
		Amount:    tradeReq.Amount.String(),
		Execution: out.Execution,
		Elapsed:   out.FinishedAt.Sub(out.StartedAt).String(),
	}
	for _, q := range out.Quotes {
		report.Quotes = append(report.Quotes, monitor.SummarizeQuote(q))
	}
	for _, f := range out.Failures {
		report.Failures = append(report.Failures, monitor.SummarizeFailure(f))
	}
	if routeErr != nil {
		report.Error = routeErr.Error()
		report.Category = venue.Classify(routeErr)
	}

	if err := writeJSON(w, report); err != nil {
		return err
	}
	return routeErr
}

func (a *App) runOffers(ctx context.Context, req Request, w io.Writer) error {
	side, err := venue.ParseSide(req.Side)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	offers, err := a.marketMaker.Offers(ctx, a.pair, side, 0)
	if err != nil {
		return err
	}
	feeds, err := a.marketMaker.PriceFeeds(ctx)
	if err != nil {
		return err
	}
	return writeJSON(w, OffersReport{
		Pair:       a.pair.String(),
		Side:       side,
		Offers:     offers,
		PriceFeeds: feeds,
	})
}

func (a *App) runMakeOffer(ctx context.Context, req Request, w io.Writer) error {
	tradeReq, err := a.tradeRequest(req)
	if err != nil {
		return err
	}
	price, err := decimal.NewFromString(strings.TrimSpace(req.Price))
	if err != nil {
		return fmt.Errorf("app: 无效挂单价格 %q: %w", req.Price, err)
	}

	receipt, err := a.marketMaker.MakeOffer(ctx, marketmaker.OfferRequest{
		Pair:    tradeReq.Pair,
		Side:    tradeReq.Side,
		Amount:  tradeReq.Amount,
		Price:   price,
		Dynamic: req.Dynamic,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, MakeOfferReport{
		Pair:    tradeReq.Pair.String(),
		Side:    tradeReq.Side,
		Amount:  tradeReq.Amount.String(),
		Price:   price.String(),
		Dynamic: req.Dynamic,
		Receipt: receipt,
	})
}

func (a *App) tradeRequest(req Request) (venue.TradeRequest, error) {
	side, err := venue.ParseSide(req.Side)
	if err != nil {
		return venue.TradeRequest{}, fmt.Errorf("app: %w", err)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return venue.TradeRequest{}, fmt.Errorf("app: 无效交易数量 %q: %w", req.Amount, err)
	}

	tradeReq := venue.TradeRequest{Pair: a.pair, Side: side, Amount: amount}
	if req.TargetChainID != 0 {
		chain := req.TargetChainID
		tradeReq.TargetChainID = &chain
	}
	return tradeReq, nil
}

func (a *App) strategy(name string) (routing.Strategy, error) {
	if strings.TrimSpace(name) == "" {
		name = a.cfg.Routing.Strategy
	}
	return routing.ParseStrategy(name)
}

// Serve 启动监控接口并周期性记录场所可用性，直到 ctx 结束。
func (a *App) Serve(ctx context.Context) error {
	a.logger.Info("路由服务已启动",
		zap.String("pair", a.pair.String()),
		zap.Int("monitor_port", a.cfg.Monitor.Port),
	)

	if a.memoryGuard != nil {
		go a.memoryGuard.RunCleanup(ctx, time.Minute)
	}

	if a.monitor != nil && a.cfg.Monitor.Port > 0 {
		if err := startMonitorServer(ctx, newMonitorHandler(a.monitor, a.Status, a.logger), a.cfg.Monitor.Port, a.logger); err != nil {
			return err
		}
	}

	interval := a.cfg.Monitor.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}

	a.logStatus(a.Status(ctx))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			a.logStatus(a.Status(ctx))
		}
	}
}

func (a *App) logStatus(report StatusReport) {
	for _, av := range report.Venues {
		if av.Available {
			a.logger.Debug("场所可用", zap.String("venue", string(av.Venue)), zap.String("message", av.Message))
			continue
		}
		a.logger.Info("场所不可用",
			zap.String("venue", string(av.Venue)),
			zap.String("reason", string(av.Reason)),
			zap.String("message", av.Message),
		)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("app: 输出结果失败: %w", err)
	}
	return nil
}
