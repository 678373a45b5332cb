package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Routing     RoutingConfig     `mapstructure:"routing"`
	CrossChain  CrossChainConfig  `mapstructure:"cross_chain_access"`
	MarketMaker MarketMakerConfig `mapstructure:"market_maker"`
	Simulation  SimulationConfig  `mapstructure:"simulation"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"` // dev | prod
	Network     string `mapstructure:"network"`
	ChainID     int64  `mapstructure:"chain_id"`
}

// CredentialsConfig 为场所客户端凭证。路由器只使用私钥推导钱包地址，其余凭证启动时检查是否缺失。
type CredentialsConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	RPQAPIKey  string `mapstructure:"rpq_api_key"`
	UserEmail  string `mapstructure:"user_email"`
}

// Missing 返回未配置的凭证对应的环境变量名。
func (c CredentialsConfig) Missing() []string {
	var missing []string
	for _, item := range []struct{ env, value string }{
		{"PRIVATE_KEY", c.PrivateKey},
		{"RPQ_API_KEY", c.RPQAPIKey},
		{"USER_EMAIL", c.UserEmail},
	} {
		if item.value == "" {
			missing = append(missing, item.env)
		}
	}
	return missing
}

// RoutingConfig 控制路由策略与超时。
type RoutingConfig struct {
	Strategy            string        `mapstructure:"strategy"`
	Venues              []string      `mapstructure:"venues"`
	TieBreak            string        `mapstructure:"tie_break"`
	AvailabilityTimeout time.Duration `mapstructure:"availability_timeout"`
	QuoteTimeout        time.Duration `mapstructure:"quote_timeout"`
	ExecuteTimeout      time.Duration `mapstructure:"execute_timeout"`
	QuoteTTL            time.Duration `mapstructure:"quote_ttl"`
}

// CrossChainConfig 描述 Cross-Chain Access 场所。
type CrossChainConfig struct {
	QuoteTimeout time.Duration     `mapstructure:"quote_timeout"`
	MarketHours  MarketHoursConfig `mapstructure:"market_hours"`
}

// MarketHoursConfig 描述股票市场交易时段。
type MarketHoursConfig struct {
	Open     string   `mapstructure:"open"`  // HH:MM
	Close    string   `mapstructure:"close"` // HH:MM
	Timezone string   `mapstructure:"timezone"`
	Holidays []string `mapstructure:"holidays"` // YYYY-MM-DD
}

// MarketMakerConfig 描述 Market Maker 场所。
type MarketMakerConfig struct {
	QuoteTimeout time.Duration `mapstructure:"quote_timeout"`
	OfferLimit   int           `mapstructure:"offer_limit"`
}

// SimulationConfig 控制模拟场所后端。
type SimulationConfig struct {
	Base        TokenConfig          `mapstructure:"base"`
	Quote       TokenConfig          `mapstructure:"quote"`
	Reference   ReferenceConfig      `mapstructure:"reference"`
	CrossChain  SimulatedVenueConfig `mapstructure:"cross_chain_access"`
	MarketMaker SimulatedVenueConfig `mapstructure:"market_maker"`
}

// TokenConfig 描述一个代币。
type TokenConfig struct {
	Address string `mapstructure:"address"`
	Symbol  string `mapstructure:"symbol"`
}

// ReferenceConfig 描述 ccxt 参考价格来源，symbol 为空时使用固定价格。
type ReferenceConfig struct {
	Symbol     string      `mapstructure:"symbol"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// SimulatedVenueConfig 描述单个模拟场所。
type SimulatedVenueConfig struct {
	Price     float64       `mapstructure:"price"`
	SpreadBps float64       `mapstructure:"spread_bps"`
	Latency   time.Duration `mapstructure:"latency"`
	Balance   float64       `mapstructure:"balance"`
	Liquidity float64       `mapstructure:"liquidity"`
	Blocked   bool          `mapstructure:"blocked"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// ExecutionConfig 控制成交去重。
type ExecutionConfig struct {
	Guard    string        `mapstructure:"guard"` // memory | redis
	GuardTTL time.Duration `mapstructure:"guard_ttl"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制监控接口。
type MonitorConfig struct {
	Port         int           `mapstructure:"port"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

var knownVenues = map[string]struct{}{
	"cross_chain_access": {},
	"market_maker":       {},
}

var knownStrategies = map[string]struct{}{
	"best_price":               {},
	"cross_chain_access_first": {},
	"market_maker_first":       {},
	"cross_chain_access_only":  {},
	"market_maker_only":        {},
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	switch strings.ToLower(c.App.Environment) {
	case "dev", "prod":
	default:
		err = multierr.Append(err, fmt.Errorf("app.environment 必须为 dev 或 prod，当前为 %q", c.App.Environment))
	}
	if c.App.Network == "" {
		err = multierr.Append(err, errors.New("app.network 不能为空"))
	}
	if c.App.ChainID <= 0 {
		err = multierr.Append(err, errors.New("app.chain_id 必须大于0"))
	}

	if _, ok := knownStrategies[strings.ToLower(c.Routing.Strategy)]; !ok {
		err = multierr.Append(err, fmt.Errorf("routing.strategy 不支持: %q", c.Routing.Strategy))
	}
	if len(c.Routing.Venues) == 0 {
		err = multierr.Append(err, errors.New("routing.venues 至少包含一个场所"))
	}
	seen := make(map[string]struct{}, len(c.Routing.Venues))
	for _, name := range c.Routing.Venues {
		if _, ok := knownVenues[name]; !ok {
			err = multierr.Append(err, fmt.Errorf("routing.venues 包含未知场所 %q", name))
		}
		if _, dup := seen[name]; dup {
			err = multierr.Append(err, fmt.Errorf("routing.venues 重复场所 %q", name))
		}
		seen[name] = struct{}{}
	}
	switch c.Routing.TieBreak {
	case "earliest_response", "venue_order":
	default:
		err = multierr.Append(err, fmt.Errorf("routing.tie_break 不支持: %q", c.Routing.TieBreak))
	}
	if c.Routing.AvailabilityTimeout <= 0 {
		err = multierr.Append(err, errors.New("routing.availability_timeout 必须大于0"))
	}
	if c.Routing.QuoteTimeout <= 0 {
		err = multierr.Append(err, errors.New("routing.quote_timeout 必须大于0"))
	}
	if c.Routing.ExecuteTimeout <= 0 {
		err = multierr.Append(err, errors.New("routing.execute_timeout 必须大于0"))
	}
	if c.Routing.QuoteTTL <= 0 {
		err = multierr.Append(err, errors.New("routing.quote_ttl 必须大于0"))
	}
	if c.CrossChain.QuoteTimeout < 0 || c.MarketMaker.QuoteTimeout < 0 {
		err = multierr.Append(err, errors.New("场所 quote_timeout 不能为负"))
	}
	if c.CrossChain.MarketHours.Open == "" || c.CrossChain.MarketHours.Close == "" {
		err = multierr.Append(err, errors.New("cross_chain_access.market_hours.open/close 不能为空"))
	}
	if c.MarketMaker.OfferLimit <= 0 {
		err = multierr.Append(err, errors.New("market_maker.offer_limit 必须大于0"))
	}

	if c.Simulation.Base.Symbol == "" || c.Simulation.Quote.Symbol == "" {
		err = multierr.Append(err, errors.New("simulation.base/quote.symbol 不能为空"))
	}
	if c.Simulation.Reference.Symbol == "" {
		if c.Simulation.CrossChain.Price <= 0 || c.Simulation.MarketMaker.Price <= 0 {
			err = multierr.Append(err, errors.New("未配置 simulation.reference.symbol 时必须配置正的模拟价格"))
		}
	} else {
		if c.Simulation.Reference.Retry.MaxAttempts <= 0 {
			err = multierr.Append(err, errors.New("simulation.reference.retry.max_attempts 必须大于0"))
		}
		if c.Simulation.Reference.Retry.MinDelay > c.Simulation.Reference.Retry.MaxDelay {
			err = multierr.Append(err, errors.New("simulation.reference.retry.min_delay 不能大于 max_delay"))
		}
	}

	switch c.Execution.Guard {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			err = multierr.Append(err, errors.New("execution.guard=redis 时 redis.addr 不能为空"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("execution.guard 不支持: %q", c.Execution.Guard))
	}
	if c.Execution.GuardTTL <= 0 {
		err = multierr.Append(err, errors.New("execution.guard_ttl 必须大于0"))
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
		err = multierr.Append(err, errors.New("monitor.port 超出范围"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

// VenueQuoteTimeout 返回指定场所的报价超时，未单独配置时使用路由默认值。
func (c *Config) VenueQuoteTimeout(venue string) time.Duration {
	var override time.Duration
	switch venue {
	case "cross_chain_access":
		override = c.CrossChain.QuoteTimeout
	case "market_maker":
		override = c.MarketMaker.QuoteTimeout
	}
	if override > 0 {
		return override
	}
	return c.Routing.QuoteTimeout
}
