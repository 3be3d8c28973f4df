package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"stablecoin-payments/internal/logging"
)

// EnvPrefix is prepended to every environment override, e.g. STABLEPAY_CHAIN_RPC_URL.
const EnvPrefix = "STABLEPAY"

// Config materialises application configuration.
type Config struct {
	App        AppConfig              `mapstructure:"app"`
	Logging    logging.Config         `mapstructure:"logging"`
	HTTP       HTTPConfig             `mapstructure:"http"`
	Database   DatabaseConfig         `mapstructure:"database"`
	Chain      ChainConfig            `mapstructure:"chain"`
	Tokens     map[string]TokenConfig `mapstructure:"tokens"`
	Prices     PricesConfig           `mapstructure:"prices"`
	Reconciler ReconcilerConfig       `mapstructure:"reconciler"`
	Alerting   AlertingConfig         `mapstructure:"alerting"`
	Export     ExportConfig           `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN keeps
// everything in memory.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// Enabled reports whether persistence is configured.
func (d DatabaseConfig) Enabled() bool {
	return strings.TrimSpace(d.DSN) != ""
}

// ChainConfig covers the payment contract and signing account.
type ChainConfig struct {
	RPCURL                string        `mapstructure:"rpc_url"`
	ChainID               uint64        `mapstructure:"chain_id"`
	ContractAddress       string        `mapstructure:"contract_address"`
	PrivateKey            string        `mapstructure:"private_key"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	GasLimit              uint64        `mapstructure:"gas_limit"`
	GasPriceMultiplier    float64       `mapstructure:"gas_price_multiplier"`
	RequiredConfirmations uint64        `mapstructure:"required_confirmations"`
}

// TokenConfig is the static address table entry of one stablecoin.
type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Decimals int32  `mapstructure:"decimals"`
}

// PricesConfig captures the aggregator and cache settings.
type PricesConfig struct {
	URL            string        `mapstructure:"url"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	TrackedSymbols []string      `mapstructure:"tracked_symbols"`
	FallbackChain  string        `mapstructure:"fallback_chain"`
	WarmInterval   time.Duration `mapstructure:"warm_interval"`
}

// ReconcilerConfig governs the background status refresh of submitted payments.
type ReconcilerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines settlement notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram notification parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv populates the process environment from path without
// overriding variables that are already set.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "stablepay")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("http.addr", ":8000")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("http.allowed_origins", []string{"*"})

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("chain.rpc_url", "https://sepolia-rpc.scroll.io/")
	v.SetDefault("chain.chain_id", 534351)
	v.SetDefault("chain.contract_address", "")
	v.SetDefault("chain.private_key", "")
	v.SetDefault("chain.request_timeout", "10s")
	v.SetDefault("chain.gas_limit", 100000)
	v.SetDefault("chain.gas_price_multiplier", 1.0)
	v.SetDefault("chain.required_confirmations", 12)

	v.SetDefault("tokens.usdc.address", "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	v.SetDefault("tokens.usdc.decimals", 6)
	v.SetDefault("tokens.usdt.address", "0x186C0C26c45A8DA1Da34339ee513624a9609156d")
	v.SetDefault("tokens.usdt.decimals", 6)
	v.SetDefault("tokens.dai.address", "0x3e622317f8C93f7328350cF0B56d9eD4C620C5d6")
	v.SetDefault("tokens.dai.decimals", 18)

	v.SetDefault("prices.url", "https://stablecoins.llama.fi/stablecoins")
	v.SetDefault("prices.cache_ttl", "300s")
	v.SetDefault("prices.request_timeout", "10s")
	v.SetDefault("prices.user_agent", "stablepay/1.0")
	v.SetDefault("prices.tracked_symbols", []string{"USDC", "USDT", "DAI"})
	v.SetDefault("prices.fallback_chain", "scroll")
	v.SetDefault("prices.warm_interval", "300s")

	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.interval", "30s")
	v.SetDefault("reconciler.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
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

func (c *Config) normalize() {
	tokens := make(map[string]TokenConfig, len(c.Tokens))
	for symbol, token := range c.Tokens {
		token.Address = strings.TrimSpace(token.Address)
		tokens[strings.ToUpper(symbol)] = token
	}
	c.Tokens = tokens

	for i, s := range c.Prices.TrackedSymbols {
		c.Prices.TrackedSymbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Prices.CacheTTL <= 0 {
		return fmt.Errorf("prices.cache_ttl must be greater than zero")
	}
	if c.Prices.WarmInterval < 0 {
		return fmt.Errorf("prices.warm_interval cannot be negative")
	}
	if len(c.Prices.TrackedSymbols) == 0 {
		return fmt.Errorf("prices.tracked_symbols must not be empty")
	}
	if c.Reconciler.Enabled && c.Reconciler.Interval <= 0 {
		return fmt.Errorf("reconciler.interval must be greater than zero")
	}
	if c.Chain.GasPriceMultiplier < 0 {
		return fmt.Errorf("chain.gas_price_multiplier cannot be negative")
	}
	if addr := c.Chain.ContractAddress; addr != "" && !common.IsHexAddress(addr) {
		return fmt.Errorf("chain.contract_address is not a valid address: %s", addr)
	}
	for symbol, token := range c.Tokens {
		if token.Address != "" && !common.IsHexAddress(token.Address) {
			return fmt.Errorf("tokens.%s.address is not a valid address: %s", strings.ToLower(symbol), token.Address)
		}
		if token.Decimals < 0 || token.Decimals > 36 {
			return fmt.Errorf("tokens.%s.decimals out of range: %d", strings.ToLower(symbol), token.Decimals)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
