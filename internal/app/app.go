package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"rwa-trader/internal/config"
	"rwa-trader/internal/exchange"
	"rwa-trader/internal/execution"
	"rwa-trader/internal/markethours"
	"rwa-trader/internal/monitor"
	"rwa-trader/internal/routing"
	"rwa-trader/internal/simulation"
	"rwa-trader/internal/store"
	"rwa-trader/internal/venue"
	"rwa-trader/internal/venue/crosschain"
	"rwa-trader/internal/venue/marketmaker"
	"rwa-trader/internal/wallet"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.Store
	monitor  *monitor.Service
	router   *routing.Router
	calendar *markethours.Calendar
	pair     venue.Pair
	account  *wallet.Account

	marketMaker *marketmaker.Adapter
	memoryGuard *execution.MemoryGuard
	closers     []func() error
}

// New 按配置装配场所适配器、路由器与监控服务。
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, store *store.Store) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: 配置不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{cfg: cfg, logger: logger, store: store}

	if cfg.Credentials.PrivateKey != "" {
		account, err := wallet.FromPrivateKey(cfg.Credentials.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.account = &account
		logger.Info("已加载钱包", zap.String("address", account.Hex()))
	}
	if missing := cfg.Credentials.Missing(); len(missing) > 0 {
		logger.Warn("场所凭证未配置，仅可使用模拟场所", zap.Strings("missing", missing))
	}

	pair, err := buildPair(cfg.Simulation)
	if err != nil {
		return nil, err
	}
	a.pair = pair

	if store != nil {
		svc, err := monitor.NewService(ctx, store, logger.Named("monitor"))
		if err != nil {
			return nil, err
		}
		a.monitor = svc
	}

	guard, err := a.buildGuard(ctx)
	if err != nil {
		return nil, err
	}
	submitter := execution.NewSubmitter(guard, cfg.Execution.GuardTTL, logger.Named("execution"))

	calendar, err := markethours.New(cfg.CrossChain.MarketHours)
	if err != nil {
		return nil, err
	}
	a.calendar = calendar

	ccaPrice, mmPrice, err := a.buildPricers()
	if err != nil {
		return nil, err
	}

	ccaClient := simulation.NewCrossChain(cfg.Simulation.CrossChain, ccaPrice, logger.Named("sim.cca"))
	mmClient := simulation.NewMarketMaker(cfg.Simulation.MarketMaker, pair, mmPrice, logger.Named("sim.mm"))

	a.marketMaker = marketmaker.New(mmClient, submitter, cfg.MarketMaker.OfferLimit, cfg.Routing.QuoteTTL, logger)
	adapters := []venue.Adapter{
		crosschain.New(ccaClient, calendar, submitter, cfg.Routing.QuoteTTL, logger),
		a.marketMaker,
	}

	enabled := make([]venue.ID, 0, len(cfg.Routing.Venues))
	for _, name := range cfg.Routing.Venues {
		id, err := venue.ParseID(name)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		enabled = append(enabled, id)
	}

	router, err := routing.New(adapters, routing.Options{
		Venues:              enabled,
		TieBreak:            routing.TieBreak(cfg.Routing.TieBreak),
		AvailabilityTimeout: cfg.Routing.AvailabilityTimeout,
		QuoteTimeout:        cfg.Routing.QuoteTimeout,
		QuoteTimeouts: map[venue.ID]time.Duration{
			venue.CrossChainAccess: cfg.VenueQuoteTimeout(string(venue.CrossChainAccess)),
			venue.MarketMaker:      cfg.VenueQuoteTimeout(string(venue.MarketMaker)),
		},
		ExecuteTimeout: cfg.Routing.ExecuteTimeout,
	}, logger.Named("router"))
	if err != nil {
		return nil, err
	}
	a.router = router

	logger.Info("路由服务已初始化",
		zap.String("environment", cfg.App.Environment),
		zap.String("network", cfg.App.Network),
		zap.String("pair", pair.String()),
		zap.String("strategy", cfg.Routing.Strategy),
		zap.Strings("venues", cfg.Routing.Venues),
		zap.String("guard", cfg.Execution.Guard),
	)

	return a, nil
}

// Router 返回路由器。
func (a *App) Router() *routing.Router {
	return a.router
}

// Pair 返回交易对。
func (a *App) Pair() venue.Pair {
	return a.pair
}

// Close 释放外部连接。
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	return err
}

func (a *App) buildGuard(ctx context.Context) (execution.Guard, error) {
	switch a.cfg.Execution.Guard {
	case "redis":
		guard, err := execution.NewRedisGuard(ctx, a.cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("app: 初始化 Redis 去重失败: %w", err)
		}
		a.closers = append(a.closers, guard.Close)
		a.logger.Info("使用 Redis 成交去重", zap.String("addr", a.cfg.Redis.Addr))
		return guard, nil
	default:
		a.memoryGuard = execution.NewMemoryGuard()
		return a.memoryGuard, nil
	}
}

// buildPricers 配置了参考交易对时两个模拟场所共享 ccxt 中间价，否则使用各自的固定价格。
func (a *App) buildPricers() (simulation.Pricer, simulation.Pricer, error) {
	sim := a.cfg.Simulation
	if sim.Reference.Symbol == "" {
		return simulation.Fixed(sim.CrossChain.Price), simulation.Fixed(sim.MarketMaker.Price), nil
	}

	client, err := exchange.NewClient(sim.Reference, a.logger.Named("exchange"))
	if err != nil {
		return nil, nil, err
	}
	service := exchange.NewPriceService(client, 5*time.Second, a.logger.Named("exchange"))
	price := simulation.FromReference(service)
	a.logger.Info("模拟场所使用参考价格", zap.String("symbol", client.Symbol()))
	return price, price, nil
}

func buildPair(sim config.SimulationConfig) (venue.Pair, error) {
	base, err := buildToken(sim.Base)
	if err != nil {
		return venue.Pair{}, err
	}
	quote, err := buildToken(sim.Quote)
	if err != nil {
		return venue.Pair{}, err
	}
	return venue.Pair{Base: base, Quote: quote}, nil
}

func buildToken(cfg config.TokenConfig) (venue.Token, error) {
	token := venue.Token{Symbol: cfg.Symbol}
	if cfg.Address == "" {
		return token, nil
	}
	addr, err := wallet.NormalizeAddress(cfg.Address)
	if err != nil {
		return venue.Token{}, fmt.Errorf("app: 代币 %s 地址无效: %w", cfg.Symbol, err)
	}
	token.Address = addr
	return token, nil
}
