package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"rwa-trader/internal/app"
	"rwa-trader/internal/config"
	"rwa-trader/internal/log"
	"rwa-trader/internal/store"
)

func main() {
	var (
		configPath  string
		mode        string
		strategy    string
		side        string
		amount      string
		targetChain int64
		price       string
		dynamic     bool
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.StringVar(&mode, "mode", string(app.ModeServe), "运行模式: quotes | trade | status | serve | offers | make_offer")
	flag.StringVar(&strategy, "strategy", "", "路由策略，默认使用配置中的 routing.strategy")
	flag.StringVar(&side, "side", "buy", "交易方向: buy | sell")
	flag.StringVar(&amount, "amount", "", "卖出代币数量：买入时为计价代币，卖出时为 RWA")
	flag.Int64Var(&targetChain, "target-chain", 0, "跨链成交的目标链 ID，0 表示不跨链")
	flag.StringVar(&price, "price", "", "挂单价格，每单位 RWA 的计价代币数量（make_offer 模式）")
	flag.BoolVar(&dynamic, "dynamic", false, "挂出跟随价格源的动态报单（make_offer 模式）")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging, cfg.App)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	routerApp, err := app.New(ctx, cfg, logger, sqliteStore)
	if err != nil {
		logger.Error("初始化路由服务失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := routerApp.Close(); closeErr != nil {
			logger.Warn("释放资源失败", zap.Error(closeErr))
		}
	}()

	req := app.Request{
		Mode:          app.Mode(mode),
		Strategy:      strategy,
		Side:          side,
		Amount:        amount,
		TargetChainID: targetChain,
		Price:         price,
		Dynamic:       dynamic,
	}
	if err := routerApp.Run(ctx, req, os.Stdout); err != nil {
		logger.Error("运行失败", zap.String("mode", mode), zap.Error(err))
		stop()
		os.Exit(1)
	}

	logger.Info("系统已安全退出")
}
