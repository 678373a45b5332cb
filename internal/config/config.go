package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "rwa"
)

// sdkEnvBindings 与场所 SDK 示例使用的环境变量名保持一致。
var sdkEnvBindings = map[string]string{
	"credentials.private_key": "PRIVATE_KEY",
	"credentials.rpq_api_key": "RPQ_API_KEY",
	"credentials.user_email":  "USER_EMAIL",
	"app.environment":         "SWARM_COLLECTION_MODE",
}

// Load 读取配置文件并结合 .env 与环境变量返回 Config。
func Load(path string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	for key, env := range sdkEnvBindings {
		prefixed := strings.ToUpper(envPrefix + "_" + replacer.Replace(key))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.App.Environment = strings.ToLower(strings.TrimSpace(cfg.App.Environment))
	cfg.Routing.Strategy = strings.ToLower(strings.TrimSpace(cfg.Routing.Strategy))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "prod")
	v.SetDefault("app.network", "polygon")
	v.SetDefault("app.chain_id", 137)

	v.SetDefault("routing.strategy", "best_price")
	v.SetDefault("routing.venues", []string{"cross_chain_access", "market_maker"})
	v.SetDefault("routing.tie_break", "earliest_response")
	v.SetDefault("routing.availability_timeout", "3s")
	v.SetDefault("routing.quote_timeout", "5s")
	v.SetDefault("routing.execute_timeout", "60s")
	v.SetDefault("routing.quote_ttl", "30s")

	v.SetDefault("cross_chain_access.quote_timeout", "0s")
	v.SetDefault("cross_chain_access.market_hours.open", "14:30")
	v.SetDefault("cross_chain_access.market_hours.close", "21:00")
	v.SetDefault("cross_chain_access.market_hours.timezone", "UTC")

	v.SetDefault("market_maker.quote_timeout", "0s")
	v.SetDefault("market_maker.offer_limit", 5)

	v.SetDefault("simulation.base.address", "0x267fc8b95345916c9740cbc007ed65c71b052395")
	v.SetDefault("simulation.base.symbol", "NVDA")
	v.SetDefault("simulation.quote.address", "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359")
	v.SetDefault("simulation.quote.symbol", "USDC")
	v.SetDefault("simulation.reference.symbol", "")
	v.SetDefault("simulation.reference.retry.max_attempts", 3)
	v.SetDefault("simulation.reference.retry.min_delay", "500ms")
	v.SetDefault("simulation.reference.retry.max_delay", "5s")
	v.SetDefault("simulation.cross_chain_access.price", 1.02)
	v.SetDefault("simulation.cross_chain_access.spread_bps", 10)
	v.SetDefault("simulation.cross_chain_access.latency", "150ms")
	v.SetDefault("simulation.cross_chain_access.balance", 10000)
	v.SetDefault("simulation.market_maker.price", 1.00)
	v.SetDefault("simulation.market_maker.spread_bps", 25)
	v.SetDefault("simulation.market_maker.latency", "300ms")
	v.SetDefault("simulation.market_maker.balance", 10000)
	v.SetDefault("simulation.market_maker.liquidity", 5000)

	v.SetDefault("execution.guard", "memory")
	v.SetDefault("execution.guard_ttl", "24h")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.path", "data/rwa_trader.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("monitor.port", 8090)
	v.SetDefault("monitor.poll_interval", "1m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
