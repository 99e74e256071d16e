package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"time"
	"unicode"

	"github.com/gimlee/settlement/internal/core/application"
	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	envPrefix = "SETTLE"
	appName   = "settlement"

	sqliteDb   = "sqlite"
	badgerDb   = "badger"
	postgresDb = "postgres"

	logNotifier     = "log"
	webhookNotifier = "webhook"
)

type Config struct {
	Datadir     string `mapstructure:"DATADIR" envDefault:"settlement" envInfo:"Data directory for the settlement engine state"`
	DbType      string `mapstructure:"DB_TYPE" envDefault:"sqlite" envInfo:"Database backend: sqlite | badger | postgres"`
	PostgresDsn string `mapstructure:"POSTGRES_DSN" envDefault:"" envInfo:"Postgres connection string (required when DB_TYPE=postgres)"`
	HTTPPort    uint32 `mapstructure:"HTTP_PORT" envDefault:"7080" envInfo:"HTTP read API port"`
	LogLevel    uint32 `mapstructure:"LOG_LEVEL" envDefault:"4" envInfo:"Log verbosity (higher = more verbose)"`
	SentryDsn   string `mapstructure:"SENTRY_DSN" envDefault:"" envInfo:"Report errors to sentry when set"`

	MemoPrefix       string        `mapstructure:"MEMO_PREFIX" envDefault:"gimlee:" envInfo:"Prefix of the memo attached to every payment"`
	PaymentTimeout   time.Duration `mapstructure:"PAYMENT_TIMEOUT" envDefault:"1h" envInfo:"Time a buyer has to pay"`
	HardTimeoutGrace time.Duration `mapstructure:"HARD_TIMEOUT_GRACE" envDefault:"24h" envInfo:"Expiries noticed later than this are hard timeouts"`

	ArrrEnabled          bool          `mapstructure:"ARRR_ENABLED" envDefault:"true" envInfo:"Monitor payments on the ARRR rail"`
	ArrrRpcURL           string        `mapstructure:"ARRR_RPC_URL" envDefault:"" envInfo:"ARRR node RPC endpoint (e.g., http://pirated:45453)"`
	ArrrRpcUser          string        `mapstructure:"ARRR_RPC_USER" envDefault:"" envInfo:"ARRR node RPC user"`
	ArrrRpcPassword      string        `mapstructure:"ARRR_RPC_PASSWORD" envDefault:"" envInfo:"ARRR node RPC password"`
	ArrrPollInterval     time.Duration `mapstructure:"ARRR_POLL_INTERVAL" envDefault:"30s" envInfo:"ARRR reconciliation interval"`
	ArrrMinConfirmations int64         `mapstructure:"ARRR_MIN_CONFIRMATIONS" envDefault:"1" envInfo:"Confirmations before an ARRR output counts"`
	ArrrWorkers          int           `mapstructure:"ARRR_WORKERS" envDefault:"4" envInfo:"Concurrent calls to the ARRR node"`

	YecEnabled          bool          `mapstructure:"YEC_ENABLED" envDefault:"false" envInfo:"Monitor payments on the YEC rail"`
	YecRpcURL           string        `mapstructure:"YEC_RPC_URL" envDefault:"" envInfo:"YEC node RPC endpoint (e.g., http://ycashd:8832)"`
	YecRpcUser          string        `mapstructure:"YEC_RPC_USER" envDefault:"" envInfo:"YEC node RPC user"`
	YecRpcPassword      string        `mapstructure:"YEC_RPC_PASSWORD" envDefault:"" envInfo:"YEC node RPC password"`
	YecPollInterval     time.Duration `mapstructure:"YEC_POLL_INTERVAL" envDefault:"30s" envInfo:"YEC reconciliation interval"`
	YecMinConfirmations int64         `mapstructure:"YEC_MIN_CONFIRMATIONS" envDefault:"1" envInfo:"Confirmations before a YEC output counts"`
	YecWorkers          int           `mapstructure:"YEC_WORKERS" envDefault:"4" envInfo:"Concurrent calls to the YEC node"`

	RateFetchInterval time.Duration `mapstructure:"RATE_FETCH_INTERVAL" envDefault:"1m" envInfo:"Exchange rate refresh interval"`
	RateRetention     time.Duration `mapstructure:"RATE_RETENTION" envDefault:"720h" envInfo:"How long exchange rate history is kept"`
	RetentionInterval time.Duration `mapstructure:"RETENTION_INTERVAL" envDefault:"1h" envInfo:"Exchange rate cleanup interval"`
	RatePairs         string        `mapstructure:"RATE_PAIRS" envDefault:"ARRR/USDT,YEC/USDT,USDT/USD,USD/PLN,EUR/PLN,XAU/USD" envInfo:"Comma separated BASE/QUOTE pairs to fetch"`
	PriceProviders    string        `mapstructure:"PRICE_PROVIDERS" envDefault:"tradeogre,coingecko,nbp,peg" envInfo:"Comma separated price providers in priority order"`
	PriceFeedTimeout  time.Duration `mapstructure:"PRICE_FEED_TIMEOUT" envDefault:"10s" envInfo:"Timeout of a single price provider request"`

	VolatilityCurrencies    string        `mapstructure:"VOLATILITY_CURRENCIES" envDefault:"ARRR,YEC" envInfo:"Comma separated currencies watched for price drops"`
	VolatilityQuote         string        `mapstructure:"VOLATILITY_QUOTE" envDefault:"USDT" envInfo:"Reference currency of the watched prices"`
	VolatilityWindow        time.Duration `mapstructure:"VOLATILITY_WINDOW" envDefault:"1h" envInfo:"Rolling window of the price drop check"`
	VolatilityDropThreshold string        `mapstructure:"VOLATILITY_DROP_THRESHOLD" envDefault:"0.10" envInfo:"Drop from the window's max that enters volatility"`
	VolatilityCooldown      time.Duration `mapstructure:"VOLATILITY_COOLDOWN" envDefault:"30m" envInfo:"Minimum time a currency stays volatile"`
	VolatilityStaleAfter    time.Duration `mapstructure:"VOLATILITY_STALE_AFTER" envDefault:"" envInfo:"Price age after which a currency is volatile (default twice RATE_FETCH_INTERVAL)"`

	NotifierType       string        `mapstructure:"NOTIFIER_TYPE" envDefault:"log" envInfo:"Payment notifier: log | webhook"`
	NotifierWebhookURL string        `mapstructure:"NOTIFIER_WEBHOOK_URL" envDefault:"" envInfo:"Endpoint receiving resolved payments (when NOTIFIER_TYPE=webhook)"`
	NotifierTimeout    time.Duration `mapstructure:"NOTIFIER_TIMEOUT" envDefault:"5s" envInfo:"Webhook request timeout"`

	rails           []RailConfig
	ratePairs       []domain.CurrencyPair
	providers       []string
	volatility      []domain.Currency
	volatilityQuote domain.Currency
	dropThreshold   decimal.Decimal
}

// RailConfig is the connection and polling setup of one enabled rail.
type RailConfig struct {
	Currency         domain.Currency
	RpcURL           string
	RpcUser          string
	RpcPassword      string
	PollInterval     time.Duration
	MinConfirmations int64
	Workers          int
}

func LoadConfig() (*Config, error) {
	// A .env file in the working directory is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := setDefaultConfig(v); err != nil {
		return nil, fmt.Errorf("error setting default config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %v", err)
	}

	if err := config.initDb(); err != nil {
		return nil, fmt.Errorf("error initializing data directory: %w", err)
	}

	if err := config.deriveRails(); err != nil {
		return nil, err
	}

	if err := config.deriveRates(); err != nil {
		return nil, err
	}

	if err := config.deriveVolatility(); err != nil {
		return nil, err
	}

	if err := config.validateNotifier(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Rails() []RailConfig {
	return c.rails
}

func (c *Config) RatePairList() []domain.CurrencyPair {
	return c.ratePairs
}

func (c *Config) PriceProviderList() []string {
	return c.providers
}

// ApplicationConfig maps the environment onto the settlement engine setup.
func (c *Config) ApplicationConfig() application.Config {
	rails := make([]application.MonitorConfig, 0, len(c.rails))
	for _, r := range c.rails {
		rails = append(rails, application.MonitorConfig{
			Currency:         r.Currency,
			PollInterval:     r.PollInterval,
			MinConfirmations: r.MinConfirmations,
			Workers:          r.Workers,
			HardTimeoutGrace: c.HardTimeoutGrace,
		})
	}
	return application.Config{
		MemoPrefix:      c.MemoPrefix,
		PaymentTimeout:  c.PaymentTimeout,
		Rails:           rails,
		RatePairs:       c.ratePairs,
		FetchInterval:   c.RateFetchInterval,
		Retention:       c.RateRetention,
		CleanupInterval: c.RetentionInterval,
		CleanupLockTTL:  c.RetentionInterval,
		Volatility: application.VolatilityConfig{
			Currencies:    c.volatility,
			Quote:         c.volatilityQuote,
			Window:        c.VolatilityWindow,
			DropThreshold: c.dropThreshold,
			Cooldown:      c.VolatilityCooldown,
			StaleAfter:    c.VolatilityStaleAfter,
		},
		FetchOnStart:   true,
		RestoreOnStart: true,
	}
}

// DbConfig is the storage specific part of db.ServiceConfig.
func (c *Config) DbConfig() []any {
	switch c.DbType {
	case postgresDb:
		return []any{c.PostgresDsn}
	case badgerDb:
		return []any{filepath.Join(c.Datadir, "db"), nil}
	default:
		return []any{c.Datadir}
	}
}

func (c *Config) initDb() error {
	supportedDbType := map[string]struct{}{
		sqliteDb:   {},
		badgerDb:   {},
		postgresDb: {},
	}

	if _, ok := supportedDbType[c.DbType]; !ok {
		return fmt.Errorf("unsupported db type: %s", c.DbType)
	}

	if c.DbType == postgresDb && c.PostgresDsn == "" {
		return fmt.Errorf("missing postgres dsn")
	}

	if c.Datadir == appName {
		c.Datadir = appDatadir(appName, false)
	} else {
		c.Datadir = cleanAndExpandPath(c.Datadir)
	}

	return makeDirectoryIfNotExists(c.Datadir)
}

func (c *Config) deriveRails() error {
	candidates := []struct {
		enabled bool
		rail    RailConfig
	}{
		{c.ArrrEnabled, RailConfig{
			domain.ARRR, c.ArrrRpcURL, c.ArrrRpcUser, c.ArrrRpcPassword,
			c.ArrrPollInterval, c.ArrrMinConfirmations, c.ArrrWorkers,
		}},
		{c.YecEnabled, RailConfig{
			domain.YEC, c.YecRpcURL, c.YecRpcUser, c.YecRpcPassword,
			c.YecPollInterval, c.YecMinConfirmations, c.YecWorkers,
		}},
	}

	c.rails = nil
	for _, cand := range candidates {
		if !cand.enabled {
			continue
		}
		r := cand.rail
		prefix := strings.ToUpper(string(r.Currency))
		if r.RpcURL == "" {
			return fmt.Errorf("%s rail is enabled but %s_RPC_URL is missing", r.Currency, prefix)
		}
		if r.RpcUser == "" || r.RpcPassword == "" {
			return fmt.Errorf(
				"%s rail is enabled but %s_RPC_USER or %s_RPC_PASSWORD is missing",
				r.Currency, prefix, prefix,
			)
		}
		if r.PollInterval <= 0 {
			return fmt.Errorf("%s_POLL_INTERVAL must be positive", prefix)
		}
		if r.MinConfirmations < 0 {
			return fmt.Errorf("%s_MIN_CONFIRMATIONS must not be negative", prefix)
		}
		c.rails = append(c.rails, r)
	}
	return nil
}

func (c *Config) deriveRates() error {
	if c.RateFetchInterval <= 0 {
		return fmt.Errorf("RATE_FETCH_INTERVAL must be positive")
	}
	if c.RateRetention <= 0 || c.RetentionInterval <= 0 {
		return fmt.Errorf("RATE_RETENTION and RETENTION_INTERVAL must be positive")
	}

	c.ratePairs = nil
	for _, s := range splitList(c.RatePairs) {
		pair, err := domain.ParseCurrencyPair(s)
		if err != nil {
			return fmt.Errorf("invalid RATE_PAIRS: %w", err)
		}
		c.ratePairs = append(c.ratePairs, pair)
	}
	if len(c.ratePairs) == 0 {
		return fmt.Errorf("RATE_PAIRS must not be empty")
	}

	c.providers = splitList(c.PriceProviders)
	if len(c.providers) == 0 {
		return fmt.Errorf("PRICE_PROVIDERS must not be empty")
	}
	return nil
}

func (c *Config) deriveVolatility() error {
	quote, err := domain.ParseCurrency(c.VolatilityQuote)
	if err != nil {
		return fmt.Errorf("invalid VOLATILITY_QUOTE: %w", err)
	}
	c.volatilityQuote = quote

	c.volatility = nil
	for _, s := range splitList(c.VolatilityCurrencies) {
		currency, err := domain.ParseCurrency(s)
		if err != nil {
			return fmt.Errorf("invalid VOLATILITY_CURRENCIES: %w", err)
		}
		c.volatility = append(c.volatility, currency)
	}

	threshold, err := decimal.NewFromString(c.VolatilityDropThreshold)
	if err != nil {
		return fmt.Errorf("invalid VOLATILITY_DROP_THRESHOLD: %w", err)
	}
	if !threshold.IsPositive() || threshold.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("VOLATILITY_DROP_THRESHOLD must be between 0 and 1, got %s", threshold)
	}
	c.dropThreshold = threshold

	if c.VolatilityWindow <= 0 {
		return fmt.Errorf("VOLATILITY_WINDOW must be positive")
	}
	if c.VolatilityCooldown < 0 || c.VolatilityStaleAfter < 0 {
		return fmt.Errorf("VOLATILITY_COOLDOWN and VOLATILITY_STALE_AFTER must not be negative")
	}
	return nil
}

func (c *Config) validateNotifier() error {
	switch c.NotifierType {
	case logNotifier:
		return nil
	case webhookNotifier:
		if c.NotifierWebhookURL == "" {
			return fmt.Errorf("NOTIFIER_WEBHOOK_URL is required when NOTIFIER_TYPE=webhook")
		}
		return nil
	default:
		return fmt.Errorf("unknown notifier type: %s", c.NotifierType)
	}
}

func splitList(s string) []string {
	list := make([]string, 0)
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

func setDefaultConfig(v *viper.Viper) error {
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		key := f.Tag.Get("mapstructure")
		def := f.Tag.Get("envDefault")
		if def != "" {
			v.SetDefault(key, def)
		}
		err := v.BindEnv(key)
		if err != nil {
			return fmt.Errorf("error binding env variable for key %s: %w", key, err)
		}
	}
	return nil
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

// appDatadir returns an operating system specific directory to be used for
// storing application data for an application.
func appDatadir(appName string, roaming bool) string {
	if appName == "" || appName == "." {
		return "."
	}

	appName = strings.TrimPrefix(appName, ".")
	appNameUpper := string(unicode.ToUpper(rune(appName[0]))) + appName[1:]
	appNameLower := string(unicode.ToLower(rune(appName[0]))) + appName[1:]

	var homeDir string
	usr, err := user.Current()
	if err == nil {
		homeDir = usr.HomeDir
	}

	// Fall back to standard HOME environment variable that works
	// for most POSIX OSes.
	if err != nil || homeDir == "" {
		homeDir = os.Getenv("HOME")
	}

	switch runtime.GOOS {
	case "windows":
		// Windows XP and before didn't have a LOCALAPPDATA, so fallback
		// to regular APPDATA when LOCALAPPDATA is not set.
		appData := os.Getenv("LOCALAPPDATA")
		if roaming || appData == "" {
			appData = os.Getenv("APPDATA")
		}

		if appData != "" {
			return filepath.Join(appData, appNameUpper)
		}

	case "darwin":
		if homeDir != "" {
			return filepath.Join(homeDir, "Library",
				"Application Support", appNameUpper)
		}

	default:
		if homeDir != "" {
			return filepath.Join(homeDir, "."+appNameLower)
		}
	}

	// Fall back to the current directory if all else fails.
	return "."
}

func cleanAndExpandPath(path string) string {
	if path == "" {
		return path
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

//go:generate go run ../../tools/gen-env-doc/main.go
