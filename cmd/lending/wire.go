package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"lendingScope/internal/alert"
	"lendingScope/internal/chain"
	"lendingScope/internal/config"
	"lendingScope/internal/lending"
	"lendingScope/internal/metrics"
	"lendingScope/internal/oracle"
	"lendingScope/internal/storage"
	"lendingScope/internal/storage/postgres"
)

// app owns the engine and every connection opened to build it.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	engine  *lending.Engine
	metrics *metrics.Metrics
	closers []func()
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger, metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	ledger, err := a.openLedger(ctx)
	if err != nil {
		return nil, err
	}
	prices, err := a.openOracle(ctx)
	if err != nil {
		return nil, err
	}
	sink, err := a.openSinks()
	if err != nil {
		return nil, err
	}

	engineCfg := lending.Config{
		OracleMaxAge: cfg.OracleMaxAge,
		Sink:         sink,
		Observer:     a.metrics,
	}
	if cfg.TransferJournal != "" {
		engineCfg.Custody = storage.NewTransferJournal(cfg.TransferJournal)
	}
	if cfg.LiquidationPlanner == config.PlannerCloseFactor {
		engineCfg.Planner = lending.CloseFactorPlanner{}
	}

	a.engine = lending.NewEngine(engineCfg, ledger, prices, logger)
	return a, nil
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) openLedger(ctx context.Context) (lending.Ledger, error) {
	if a.cfg.Store != config.StorePostgres {
		return storage.OpenLedger(a.cfg.Store, a.cfg.LedgerFile)
	}

	store, err := postgres.NewStore(ctx, a.cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	if a.cfg.PGMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func (a *app) openOracle(ctx context.Context) (lending.PriceSource, error) {
	switch a.cfg.Oracle {
	case config.OracleFile:
		return oracle.NewFileSource(a.cfg.PricesFile), nil
	case config.OracleChainlink:
		feeds, err := chain.ParseAddressMap(a.cfg.Feeds)
		if err != nil {
			return nil, err
		}
		client, err := chain.NewClient(ctx, a.cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("connect rpc: %w", err)
		}
		a.closers = append(a.closers, client.Close)

		chainID, err := client.GetChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("chain id: %w", err)
		}
		a.logger.Info("chainlink oracle",
			zap.String("chain_id", chainID.String()),
			zap.Int("feeds", len(feeds)),
			zap.Int32("price_decimals", a.cfg.PriceDecimals),
		)
		return oracle.NewChainlink(oracle.ChainlinkConfig{
			Feeds:         feeds,
			PriceDecimals: a.cfg.PriceDecimals,
			MaxRetries:    a.cfg.MaxRetries,
			RetryBackoff:  a.cfg.RetryBackoff,
		}, client, a.logger), nil
	default:
		return oracle.NewStatic(a.cfg.Prices), nil
	}
}

func (a *app) openSinks() (lending.AlertSink, error) {
	sinks := []lending.AlertSink{alert.NewLogSink(a.logger)}

	if a.cfg.AlertJSONL != "" {
		sinks = append(sinks, alert.NewJSONLSink(a.cfg.AlertJSONL))
	}
	if a.cfg.NATSURL != "" {
		sink, nc, err := alert.DialNATS(a.cfg.NATSURL, a.cfg.NATSSubject, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := nc.Drain(); err != nil {
				a.logger.Warn("drain nats", zap.Error(err))
			}
		})
		sinks = append(sinks, sink)
	}
	if len(a.cfg.KafkaBrokers) > 0 {
		writer := alert.NewKafkaWriter(a.cfg.KafkaBrokers, a.cfg.MaxRetries, a.cfg.RetryBackoff)
		a.closers = append(a.closers, func() {
			if err := writer.Close(); err != nil {
				a.logger.Warn("close kafka writer", zap.Error(err))
			}
		})
		sinks = append(sinks, alert.NewKafkaSink(writer, a.cfg.KafkaTopic))
	}

	fanout := alert.NewFanout(sinks...)
	a.logger.Debug("alert sinks", zap.Int("count", fanout.Len()))
	return fanout, nil
}
