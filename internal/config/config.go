package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"lendingScope/internal/lending"
)

const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"

	OracleStatic    = "static"
	OracleFile      = "file"
	OracleChainlink = "chainlink"

	PlannerNone        = "none"
	PlannerCloseFactor = "close-factor"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Store      string
	LedgerFile string
	PGDSN      string
	PGMigrate  bool

	Oracle        string
	Prices        map[string]uint64
	PricesFile    string
	RPCURL        string
	Feeds         map[string]string
	PriceDecimals int32
	OracleMaxAge  time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration

	AlertJSONL   string
	NATSURL      string
	NATSSubject  string
	KafkaBrokers []string
	KafkaTopic   string

	TransferJournal    string
	LiquidationPlanner string

	Listen string
	// AccrueInterval drives background accrual in serve. Zero leaves accrual
	// to operations, which keeps the truncation loss to one per operation.
	AccrueInterval time.Duration
	LogLevel       string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LENDING")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("store", StoreFile)
	v.SetDefault("ledger-file", "./data/ledger.json")
	v.SetDefault("pg-migrate", true)
	v.SetDefault("oracle", OracleStatic)
	v.SetDefault("price-decimals", 0)
	v.SetDefault("oracle-max-age", lending.DefaultOracleMaxAge)
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("nats-subject", "lending.alerts")
	v.SetDefault("kafka-topic", "lending.alerts")
	v.SetDefault("liquidation-planner", PlannerNone)
	v.SetDefault("listen", ":8080")
	v.SetDefault("accrue-interval", time.Duration(0))
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	prices, err := parsePrices(upperKeys(getStringMap(v, "prices")))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Store:              strings.ToLower(v.GetString("store")),
		LedgerFile:         v.GetString("ledger-file"),
		PGDSN:              v.GetString("pg-dsn"),
		PGMigrate:          v.GetBool("pg-migrate"),
		Oracle:             strings.ToLower(v.GetString("oracle")),
		Prices:             prices,
		PricesFile:         v.GetString("prices-file"),
		RPCURL:             v.GetString("rpc"),
		Feeds:              upperKeys(getStringMap(v, "feeds")),
		PriceDecimals:      v.GetInt32("price-decimals"),
		OracleMaxAge:       v.GetDuration("oracle-max-age"),
		MaxRetries:         v.GetInt("max-retries"),
		RetryBackoff:       v.GetDuration("retry-backoff"),
		AlertJSONL:         v.GetString("alert-jsonl"),
		NATSURL:            v.GetString("nats-url"),
		NATSSubject:        v.GetString("nats-subject"),
		KafkaBrokers:       getStringSlice(v, "kafka-brokers"),
		KafkaTopic:         v.GetString("kafka-topic"),
		TransferJournal:    v.GetString("transfer-journal"),
		LiquidationPlanner: strings.ToLower(v.GetString("liquidation-planner")),
		Listen:             v.GetString("listen"),
		AccrueInterval:     v.GetDuration("accrue-interval"),
		LogLevel:           v.GetString("log-level"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StoreFile:
		if c.LedgerFile == "" {
			return fmt.Errorf("ledger-file is required for the file store")
		}
	case StorePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg-dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("unsupported store %q", c.Store)
	}

	switch c.Oracle {
	case OracleStatic:
	case OracleFile:
		if c.PricesFile == "" {
			return fmt.Errorf("prices-file is required for the file oracle")
		}
	case OracleChainlink:
		if c.RPCURL == "" {
			return fmt.Errorf("rpc is required for the chainlink oracle")
		}
		if len(c.Feeds) == 0 {
			return fmt.Errorf("feeds are required for the chainlink oracle")
		}
	default:
		return fmt.Errorf("unsupported oracle %q", c.Oracle)
	}

	switch c.LiquidationPlanner {
	case PlannerNone, PlannerCloseFactor:
	default:
		return fmt.Errorf("unsupported liquidation-planner %q", c.LiquidationPlanner)
	}

	if c.OracleMaxAge <= 0 || c.OracleMaxAge > lending.DefaultOracleMaxAge {
		return fmt.Errorf("oracle-max-age must be in (0, %s]", lending.DefaultOracleMaxAge)
	}
	if c.AccrueInterval < 0 {
		return fmt.Errorf("accrue-interval must not be negative")
	}
	return nil
}

func parsePrices(raw map[string]string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(raw))
	for asset, value := range raw {
		price, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("price for %s: %w", asset, err)
		}
		out[asset] = price
	}
	return out, nil
}
