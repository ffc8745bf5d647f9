package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lendingScope/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:          "lending",
		Short:        "Collateralized lending engine",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file path")
	flags.String("store", config.StoreFile, "ledger backend (memory, file, postgres)")
	flags.String("ledger-file", "./data/ledger.json", "ledger state file for the file store")
	flags.String("pg-dsn", "", "Postgres DSN for the postgres store")
	flags.Bool("pg-migrate", true, "create missing Postgres tables on start")
	flags.String("oracle", config.OracleStatic, "price source (static, file, chainlink)")
	flags.String("prices", "", "static prices (comma-separated asset=price)")
	flags.String("prices-file", "", "JSON price file for the file oracle")
	flags.String("rpc", "", "RPC URL for the chainlink oracle")
	flags.String("feeds", "", "chainlink feeds (comma-separated asset=address)")
	flags.Int32("price-decimals", 0, "decimals of engine prices")
	flags.Duration("oracle-max-age", 7200*time.Second, "maximum accepted price age")
	flags.Int("max-retries", 3, "maximum retry attempts for external calls")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	flags.String("alert-jsonl", "", "append health alerts to this JSONL file")
	flags.String("nats-url", "", "publish health alerts to this NATS server")
	flags.String("nats-subject", "lending.alerts", "NATS subject prefix for health alerts")
	flags.StringSlice("kafka-brokers", nil, "publish health alerts to these Kafka brokers")
	flags.String("kafka-topic", "lending.alerts", "Kafka topic for health alerts")
	flags.String("transfer-journal", "", "record custody transfers to this JSONL file")
	flags.String("liquidation-planner", config.PlannerNone, "liquidation planner (none, close-factor)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(poolCommands()...)
	root.AddCommand(positionCommands()...)
	root.AddCommand(monitorCommands()...)
	root.AddCommand(serveCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// withApp loads configuration, builds the engine and runs fn with a context
// cancelled on SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Debug("lending start",
		zap.String("store", cfg.Store),
		zap.String("oracle", cfg.Oracle),
		zap.String("planner", cfg.LiquidationPlanner),
		zap.Duration("oracle_max_age", cfg.OracleMaxAge),
	)
	return fn(ctx, a)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
