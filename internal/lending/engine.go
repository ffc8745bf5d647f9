package lending

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lendingScope/internal/model"
)

// DefaultOracleMaxAge is also the ceiling: quotes older than this are never
// accepted, whatever Config asks for.
const DefaultOracleMaxAge = 7200 * time.Second

var (
	ErrStalePrice     = errors.New("price is older than the maximum age")
	ErrMalformedPrice = errors.New("price is not positive")
)

// Config controls engine behavior and optional collaborators.
type Config struct {
	// OracleMaxAge tightens the price freshness window below
	// DefaultOracleMaxAge; zero or larger values use the default.
	OracleMaxAge time.Duration
	Now          func() time.Time
	Sink         AlertSink
	Custody      Custody
	Planner      SeizurePlanner
	Observer     Observer
}

// Engine runs lending operations against a Ledger. Each operation is a single
// Ledger.Atomic call, so it either commits entirely or leaves no trace.
type Engine struct {
	cfg    Config
	ledger Ledger
	prices PriceSource
	logger *zap.Logger
}

func NewEngine(cfg Config, ledger Ledger, prices PriceSource, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OracleMaxAge <= 0 || cfg.OracleMaxAge > DefaultOracleMaxAge {
		cfg.OracleMaxAge = DefaultOracleMaxAge
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	return &Engine{
		cfg:    cfg,
		ledger: ledger,
		prices: prices,
		logger: logger,
	}
}

// PoolParams are the administrative settings of a new pool.
type PoolParams struct {
	Asset                  string
	LiquidationThreshold   uint64
	MaxLTV                 uint64
	LiquidationBonus       uint64
	LiquidationCloseFactor uint64
	BaseRateBps            uint64
	Slope1Bps              uint64
	Slope2Bps              uint64
	OptimalUtilizationBps  uint64
}

// DefaultPoolParams returns settings for asset with the stock interest curve.
func DefaultPoolParams(asset string, liquidationThreshold, maxLTV uint64) PoolParams {
	return PoolParams{
		Asset:                  asset,
		LiquidationThreshold:   liquidationThreshold,
		MaxLTV:                 maxLTV,
		LiquidationBonus:       10,
		LiquidationCloseFactor: 50,
		BaseRateBps:            200,
		Slope1Bps:              400,
		Slope2Bps:              6000,
		OptimalUtilizationBps:  8000,
	}
}

// Result describes a committed balance change.
type Result struct {
	Asset        string
	Amount       uint64
	Shares       uint64
	HealthFactor uint64
}

// PoolView is a pool with its derived rates.
type PoolView struct {
	model.Pool
	UtilizationBps uint64 `json:"utilization_bps"`
	BorrowRateBps  uint64 `json:"borrow_rate_bps"`
	SupplyRateBps  uint64 `json:"supply_rate_bps"`
}

// LiquidationRequest names the parties and assets of a liquidation.
type LiquidationRequest struct {
	Liquidator      common.Address
	Borrower        common.Address
	DebtAsset       string
	CollateralAsset string
}

// LiquidationResult reports what a liquidation moved.
type LiquidationResult struct {
	Repaid       uint64
	Seized       uint64
	HealthFactor uint64
}

func (e *Engine) InitPool(ctx context.Context, params PoolParams) (*model.Pool, error) {
	if params.Asset == "" {
		return nil, fmt.Errorf("asset is required")
	}
	if params.MaxLTV > 100 {
		return nil, ErrOverLTV
	}

	var created *model.Pool
	err := e.run(ctx, "init_pool", func(tx Tx, now int64) (*model.HealthAlert, error) {
		pool := &model.Pool{
			Asset:                  params.Asset,
			LiquidationThreshold:   params.LiquidationThreshold,
			LiquidationBonus:       params.LiquidationBonus,
			LiquidationCloseFactor: params.LiquidationCloseFactor,
			MaxLTV:                 params.MaxLTV,
			BaseRateBps:            params.BaseRateBps,
			Slope1Bps:              params.Slope1Bps,
			Slope2Bps:              params.Slope2Bps,
			OptimalUtilizationBps:  params.OptimalUtilizationBps,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := tx.InsertPool(ctx, pool); err != nil {
			return nil, err
		}
		created = pool.Clone()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("pool initialized",
		zap.String("asset", created.Asset),
		zap.Uint64("liquidation_threshold", created.LiquidationThreshold),
		zap.Uint64("max_ltv", created.MaxLTV),
	)
	return created, nil
}

func (e *Engine) InitPosition(ctx context.Context, owner common.Address, stableAsset string) (*model.Position, error) {
	var created *model.Position
	err := e.run(ctx, "init_position", func(tx Tx, now int64) (*model.HealthAlert, error) {
		pos := model.NewPosition(owner, stableAsset, now)
		pos.HealthFactor = HealthFactorMax
		if err := tx.InsertPosition(ctx, pos); err != nil {
			return nil, err
		}
		created = pos.Clone()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("position initialized", zap.String("owner", owner.Hex()), zap.String("stable_asset", stableAsset))
	return created, nil
}

// Deposit moves amount of asset from owner into the pool and mints deposit
// shares for it.
func (e *Engine) Deposit(ctx context.Context, owner common.Address, asset string, amount uint64) (Result, error) {
	if amount == 0 {
		return Result{}, ErrInvalidAmount
	}
	var res Result
	err := e.run(ctx, "deposit", func(tx Tx, now int64) (*model.HealthAlert, error) {
		pool, pos, prices, err := e.prepare(ctx, tx, owner, asset, now)
		if err != nil {
			return nil, err
		}

		if err := e.transfer(ctx, model.TransferDeposit, asset, owner, common.Address{}, amount, now); err != nil {
			return nil, err
		}
		shares, err := creditDeposit(pool, pos.Ledger(asset), amount)
		if err != nil {
			return nil, err
		}
		pool.UpdatedAt = now
		pos.LastUpdated = now

		v := Value(pos, prices)
		res = Result{Asset: asset, Amount: amount, Shares: shares, HealthFactor: v.HealthFactor}
		return applyHealth(pos, v, now), nil
	})
	return res, err
}

// Withdraw returns amount of owner's deposit. Fails when the remaining
// collateral no longer covers the position's debt.
func (e *Engine) Withdraw(ctx context.Context, owner common.Address, asset string, amount uint64) (Result, error) {
	if amount == 0 {
		return Result{}, ErrInvalidAmount
	}
	var res Result
	err := e.run(ctx, "withdraw", func(tx Tx, now int64) (*model.HealthAlert, error) {
		pool, pos, prices, err := e.prepare(ctx, tx, owner, asset, now)
		if err != nil {
			return nil, err
		}
		if amount > pos.Holding(asset).Deposited || amount > pool.FreeLiquidity() {
			return nil, ErrInsufficientFunds
		}

		shares, err := debitDeposit(pool, pos.Ledger(asset), amount)
		if err != nil {
			return nil, err
		}
		v := Value(pos, prices)
		if v.TotalBorrowedValue > 0 && Undercollateralized(v.HealthFactor) {
			return nil, ErrUnderCollateralized
		}
		if err := e.transfer(ctx, model.TransferWithdraw, asset, common.Address{}, owner, amount, now); err != nil {
			return nil, err
		}
		pool.UpdatedAt = now
		pos.LastUpdated = now

		res = Result{Asset: asset, Amount: amount, Shares: shares, HealthFactor: v.HealthFactor}
		return applyHealth(pos, v, now), nil
	})
	return res, err
}

// Borrow lends amount of asset to owner against the position's collateral.
func (e *Engine) Borrow(ctx context.Context, owner common.Address, asset string, amount uint64) (Result, error) {
	if amount == 0 {
		return Result{}, ErrInvalidAmount
	}
	var res Result
	err := e.run(ctx, "borrow", func(tx Tx, now int64) (*model.HealthAlert, error) {
		pool, pos, prices, err := e.prepare(ctx, tx, owner, asset, now)
		if err != nil {
			return nil, err
		}

		before := Value(pos, prices)
		if amount > BorrowableAmount(before.TotalCollateralValue, pool.LiquidationThreshold) {
			return nil, ErrOverBorrowableAmount
		}
		if amount > pool.FreeLiquidity() {
			return nil, ErrInsufficientFunds
		}

		if err := e.transfer(ctx, model.TransferBorrow, asset, common.Address{}, owner, amount, now); err != nil {
			return nil, err
		}
		shares, err := creditBorrow(pool, pos.Ledger(asset), amount)
		if err != nil {
			return nil, err
		}
		pool.UpdatedAt = now
		pos.LastUpdated = now

		v := Value(pos, prices)
		res = Result{Asset: asset, Amount: amount, Shares: shares, HealthFactor: v.HealthFactor}
		return applyHealth(pos, v, now), nil
	})
	return res, err
}

// Repay retires amount of owner's debt in asset.
func (e *Engine) Repay(ctx context.Context, owner common.Address, asset string, amount uint64) (Result, error) {
	if amount == 0 {
		return Result{}, ErrInvalidAmount
	}
	var res Result
	err := e.run(ctx, "repay", func(tx Tx, now int64) (*model.HealthAlert, error) {
		pool, pos, prices, err := e.prepare(ctx, tx, owner, asset, now)
		if err != nil {
			return nil, err
		}
		if amount > pos.Holding(asset).Borrowed {
			return nil, ErrOverRepay
		}

		if err := e.transfer(ctx, model.TransferRepay, asset, owner, common.Address{}, amount, now); err != nil {
			return nil, err
		}
		shares, err := debitBorrow(pool, pos.Ledger(asset), amount)
		if err != nil {
			return nil, err
		}
		pool.UpdatedAt = now
		pos.LastUpdated = now

		v := Value(pos, prices)
		res = Result{Asset: asset, Amount: amount, Shares: shares, HealthFactor: v.HealthFactor}
		return applyHealth(pos, v, now), nil
	})
	return res, err
}

// Liquidate repays part of an undercollateralized borrower's debt and seizes
// collateral in return, as sized by the configured SeizurePlanner.
func (e *Engine) Liquidate(ctx context.Context, req LiquidationRequest) (LiquidationResult, error) {
	var res LiquidationResult
	err := e.run(ctx, "liquidate", func(tx Tx, now int64) (*model.HealthAlert, error) {
		pos, err := tx.Position(ctx, req.Borrower)
		if err != nil {
			return nil, err
		}
		pools, err := e.lockDebtPools(ctx, tx, pos, now, req.DebtAsset, req.CollateralAsset)
		if err != nil {
			return nil, err
		}
		debtPool, collPool := pools[req.DebtAsset], pools[req.CollateralAsset]

		prices, err := e.quotes(ctx, quoteAssets(pos, req.DebtAsset, req.CollateralAsset), now)
		if err != nil {
			return nil, err
		}
		v := Value(pos, prices)
		if !Undercollateralized(v.HealthFactor) {
			return nil, ErrNotUndercollateralized
		}
		if e.cfg.Planner == nil {
			return nil, ErrLiquidationUnavailable
		}

		in := LiquidationInput{
			Borrower:        req.Borrower,
			DebtPool:        *debtPool,
			CollateralPool:  *collPool,
			Debt:            pos.Holding(req.DebtAsset),
			Collateral:      pos.Holding(req.CollateralAsset),
			DebtPrice:       prices[req.DebtAsset],
			CollateralPrice: prices[req.CollateralAsset],
			Valuation:       v,
		}
		plan, err := e.cfg.Planner.Plan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("plan liquidation: %w", err)
		}
		if err := checkSeizurePlan(in, plan); err != nil {
			return nil, err
		}

		if err := e.transfer(ctx, model.TransferRepay, req.DebtAsset, req.Liquidator, common.Address{}, plan.RepayAmount, now); err != nil {
			return nil, err
		}
		if _, err := debitBorrow(debtPool, pos.Ledger(req.DebtAsset), plan.RepayAmount); err != nil {
			return nil, err
		}
		if plan.SeizeAmount > collPool.FreeLiquidity() {
			return nil, ErrInsufficientFunds
		}
		if _, err := debitDeposit(collPool, pos.Ledger(req.CollateralAsset), plan.SeizeAmount); err != nil {
			return nil, err
		}
		if err := e.transfer(ctx, model.TransferLiquidation, req.CollateralAsset, common.Address{}, req.Liquidator, plan.SeizeAmount, now); err != nil {
			return nil, err
		}
		debtPool.UpdatedAt = now
		collPool.UpdatedAt = now
		pos.LastUpdated = now

		after := Value(pos, prices)
		res = LiquidationResult{Repaid: plan.RepayAmount, Seized: plan.SeizeAmount, HealthFactor: after.HealthFactor}
		return applyHealth(pos, after, now), nil
	})
	if err == nil {
		e.logger.Info("position liquidated",
			zap.String("borrower", req.Borrower.Hex()),
			zap.String("liquidator", req.Liquidator.Hex()),
			zap.Uint64("repaid", res.Repaid),
			zap.Uint64("seized", res.Seized),
		)
	}
	return res, err
}

// checkSeizurePlan bounds a plan by the debt held, the close factor, the
// collateral held, and the liquidation bonus. Close factor and bonus are
// percentages.
func checkSeizurePlan(in LiquidationInput, plan SeizurePlan) error {
	if plan.RepayAmount == 0 || plan.RepayAmount > in.Debt.Borrowed {
		return ErrSeizureBounds
	}
	maxRepay, _ := mulDiv(in.Debt.Borrowed, in.DebtPool.LiquidationCloseFactor, 100)
	if plan.RepayAmount > maxRepay {
		return ErrSeizureBounds
	}
	if plan.SeizeAmount > in.Collateral.Deposited {
		return ErrSeizureBounds
	}
	repayValue := satMul(plan.RepayAmount, in.DebtPrice)
	maxSeizeValue, _ := mulDiv(repayValue, satAdd(100, in.CollateralPool.LiquidationBonus), 100)
	if satMul(plan.SeizeAmount, in.CollateralPrice) > maxSeizeValue {
		return ErrSeizureBounds
	}
	return nil
}

func (e *Engine) EnableMonitoring(ctx context.Context, owner common.Address) error {
	return e.setMonitoring(ctx, owner, true)
}

func (e *Engine) DisableMonitoring(ctx context.Context, owner common.Address) error {
	return e.setMonitoring(ctx, owner, false)
}

func (e *Engine) setMonitoring(ctx context.Context, owner common.Address, enabled bool) error {
	op := "disable_monitoring"
	if enabled {
		op = "enable_monitoring"
	}
	err := e.run(ctx, op, func(tx Tx, now int64) (*model.HealthAlert, error) {
		pos, err := tx.Position(ctx, owner)
		if err != nil {
			return nil, err
		}
		pos.Monitor.Enabled = enabled
		pos.LastHealthCheck = now
		return nil, nil
	})
	if err == nil {
		e.logger.Info("health monitoring updated", zap.String("owner", owner.Hex()), zap.Bool("enabled", enabled))
	}
	return err
}

// SetThreshold changes the alert threshold (bps) and cooldown (hours).
// Out-of-range values are rejected before anything is read or written.
func (e *Engine) SetThreshold(ctx context.Context, owner common.Address, threshold, frequencyHours uint64) error {
	if err := ValidateThreshold(threshold, frequencyHours); err != nil {
		return err
	}
	err := e.run(ctx, "set_threshold", func(tx Tx, now int64) (*model.HealthAlert, error) {
		pos, err := tx.Position(ctx, owner)
		if err != nil {
			return nil, err
		}
		pos.Monitor.AlertThreshold = threshold
		pos.Monitor.AlertFrequencyHours = frequencyHours
		return nil, nil
	})
	if err == nil {
		e.logger.Info("health threshold updated",
			zap.String("owner", owner.Hex()),
			zap.Uint64("threshold_bps", threshold),
			zap.Uint64("alert_frequency_hours", frequencyHours),
		)
	}
	return err
}

// CheckHealth revalues the position at current prices, stores the result and
// raises an alert when due.
func (e *Engine) CheckHealth(ctx context.Context, owner common.Address) (Valuation, error) {
	var v Valuation
	err := e.run(ctx, "check_health", func(tx Tx, now int64) (*model.HealthAlert, error) {
		pos, err := tx.Position(ctx, owner)
		if err != nil {
			return nil, err
		}
		if _, err := e.lockDebtPools(ctx, tx, pos, now); err != nil {
			return nil, err
		}
		prices, err := e.quotes(ctx, quoteAssets(pos), now)
		if err != nil {
			return nil, err
		}
		v = Value(pos, prices)
		return applyHealth(pos, v, now), nil
	})
	return v, err
}

// CreateSnapshot writes an immutable health record at the position's next
// snapshot index.
func (e *Engine) CreateSnapshot(ctx context.Context, owner common.Address) (model.HealthSnapshot, error) {
	var snap model.HealthSnapshot
	err := e.run(ctx, "create_snapshot", func(tx Tx, now int64) (*model.HealthAlert, error) {
		pos, err := tx.Position(ctx, owner)
		if err != nil {
			return nil, err
		}
		if _, err := e.lockDebtPools(ctx, tx, pos, now); err != nil {
			return nil, err
		}
		prices, err := e.quotes(ctx, quoteAssets(pos), now)
		if err != nil {
			return nil, err
		}
		v := Value(pos, prices)
		snap = buildSnapshot(pos, v, now)
		if err := tx.AppendSnapshot(ctx, snap); err != nil {
			return nil, err
		}
		return applyHealth(pos, v, now), nil
	})
	if err == nil {
		e.logger.Info("health snapshot created",
			zap.String("owner", owner.Hex()),
			zap.Uint64("index", snap.Index),
			zap.String("health_factor", FormatBps(snap.HealthFactor)),
		)
	}
	return snap, err
}

// AccruePool accrues interest on a pool outside of any balance change.
func (e *Engine) AccruePool(ctx context.Context, asset string) (uint64, error) {
	var interest uint64
	err := e.run(ctx, "accrue", func(tx Tx, now int64) (*model.HealthAlert, error) {
		pool, err := tx.Pool(ctx, asset)
		if err != nil {
			return nil, err
		}
		interest = e.accrue(pool, now)
		return nil, nil
	})
	return interest, err
}

// AccrueAll accrues every pool, one transaction per pool.
func (e *Engine) AccrueAll(ctx context.Context) error {
	pools, err := e.ledger.ListPools(ctx)
	if err != nil {
		return fmt.Errorf("list pools: %w", err)
	}
	for _, p := range pools {
		if _, err := e.AccruePool(ctx, p.Asset); err != nil {
			return fmt.Errorf("accrue %s: %w", p.Asset, err)
		}
	}
	return nil
}

func (e *Engine) Pool(ctx context.Context, asset string) (PoolView, error) {
	var view PoolView
	err := e.ledger.Atomic(ctx, func(tx Tx) error {
		pool, err := tx.Pool(ctx, asset)
		if err != nil {
			return err
		}
		view = newPoolView(pool)
		return nil
	})
	return view, err
}

func (e *Engine) Pools(ctx context.Context) ([]PoolView, error) {
	pools, err := e.ledger.ListPools(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]PoolView, 0, len(pools))
	for i := range pools {
		views = append(views, newPoolView(&pools[i]))
	}
	return views, nil
}

// Position returns a copy of the owner's position with each debt priced at the
// pool's current share price, interest included.
func (e *Engine) Position(ctx context.Context, owner common.Address) (*model.Position, error) {
	var pos *model.Position
	err := e.ledger.Atomic(ctx, func(tx Tx) error {
		p, err := tx.Position(ctx, owner)
		if err != nil {
			return err
		}
		pos = p.Clone()
		// price debts as of now without writing the accrual back
		now := e.cfg.Now().Unix()
		for asset, l := range pos.Assets {
			if l == nil || l.BorrowShares == 0 {
				continue
			}
			pool, err := tx.Pool(ctx, asset)
			if err != nil {
				return err
			}
			accrued := pool.Clone()
			Accrue(accrued, now)
			syncDebt(accrued, l)
		}
		return nil
	})
	return pos, err
}

func (e *Engine) Snapshots(ctx context.Context, owner common.Address) ([]model.HealthSnapshot, error) {
	return e.ledger.Snapshots(ctx, owner)
}

func newPoolView(pool *model.Pool) PoolView {
	return PoolView{
		Pool:           *pool,
		UtilizationBps: UtilizationBps(pool),
		BorrowRateBps:  BorrowRateBps(pool),
		SupplyRateBps:  SupplyRateBps(pool),
	}
}

// run executes fn in one ledger transaction and emits its alert once the
// transaction has committed.
func (e *Engine) run(ctx context.Context, op string, fn func(tx Tx, now int64) (*model.HealthAlert, error)) error {
	start := time.Now()
	now := e.cfg.Now().Unix()

	var alert *model.HealthAlert
	err := e.ledger.Atomic(ctx, func(tx Tx) error {
		var err error
		alert, err = fn(tx, now)
		return err
	})
	e.cfg.Observer.ObserveOperation(op, err, time.Since(start))
	if err != nil {
		e.logger.Debug("operation failed", zap.String("op", op), zap.Error(err))
		return err
	}

	if alert != nil {
		e.emit(ctx, *alert)
	}
	return nil
}

// prepare locks the owner's position and then every pool the operation values:
// asset itself and each asset the position owes. Pools are accrued and the
// position's debts repriced before quotes are fetched.
func (e *Engine) prepare(ctx context.Context, tx Tx, owner common.Address, asset string, now int64) (*model.Pool, *model.Position, map[string]uint64, error) {
	pos, err := tx.Position(ctx, owner)
	if err != nil {
		return nil, nil, nil, err
	}
	pools, err := e.lockDebtPools(ctx, tx, pos, now, asset)
	if err != nil {
		return nil, nil, nil, err
	}

	prices, err := e.quotes(ctx, quoteAssets(pos, asset), now)
	if err != nil {
		return nil, nil, nil, err
	}
	return pools[asset], pos, prices, nil
}

// lockDebtPools locks extra plus every pool pos has borrowed from, accrues
// them and syncs pos's debts to the accrued share prices. Callers hold the
// position lock already; positions are always locked before pools.
func (e *Engine) lockDebtPools(ctx context.Context, tx Tx, pos *model.Position, now int64, extra ...string) (map[string]*model.Pool, error) {
	assets := append([]string(nil), extra...)
	for asset, l := range pos.Assets {
		if l != nil && l.BorrowShares > 0 {
			assets = append(assets, asset)
		}
	}
	pools, err := e.lockPools(ctx, tx, now, assets...)
	if err != nil {
		return nil, err
	}
	for asset, l := range pos.Assets {
		if l != nil && l.BorrowShares > 0 {
			syncDebt(pools[asset], l)
		}
	}
	return pools, nil
}

// lockPools locks the named pools in ascending asset order, skipping
// duplicates, and accrues each.
func (e *Engine) lockPools(ctx context.Context, tx Tx, now int64, assets ...string) (map[string]*model.Pool, error) {
	sorted := append([]string(nil), assets...)
	sort.Strings(sorted)

	pools := make(map[string]*model.Pool, len(sorted))
	for _, asset := range sorted {
		if _, ok := pools[asset]; ok {
			continue
		}
		pool, err := tx.Pool(ctx, asset)
		if err != nil {
			return nil, err
		}
		e.accrue(pool, now)
		pools[asset] = pool
	}
	return pools, nil
}

func (e *Engine) accrue(pool *model.Pool, now int64) uint64 {
	interest := Accrue(pool, now)
	if interest > 0 {
		e.cfg.Observer.ObserveAccrual(pool.Asset, interest)
		e.logger.Debug("interest accrued", zap.String("asset", pool.Asset), zap.Uint64("interest", interest))
	}
	return interest
}

// quotes fetches fresh prices for assets concurrently. Any failure aborts the
// whole set; no fallback price is substituted.
func (e *Engine) quotes(ctx context.Context, assets []string, now int64) (map[string]uint64, error) {
	prices := make(map[string]uint64, len(assets))
	if len(assets) == 0 {
		return prices, nil
	}
	if e.prices == nil {
		return nil, &OracleError{Asset: assets[0], Cause: errors.New("no price source configured")}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, asset := range assets {
		asset := asset
		g.Go(func() error {
			q, err := e.prices.Quote(gctx, asset)
			if err != nil {
				return &OracleError{Asset: asset, Cause: err}
			}
			if err := checkQuote(q, now, e.cfg.OracleMaxAge); err != nil {
				return &OracleError{Asset: asset, Cause: err}
			}
			mu.Lock()
			prices[asset] = q.Price
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Warn("price lookup failed", zap.Error(err))
		return nil, err
	}
	return prices, nil
}

func checkQuote(q model.Quote, now int64, maxAge time.Duration) error {
	if q.Price == 0 {
		return ErrMalformedPrice
	}
	if now-q.PublishTime > int64(maxAge/time.Second) {
		return ErrStalePrice
	}
	return nil
}

// quoteAssets lists the assets with a non-empty sub-ledger plus extra, sorted
// and deduplicated.
func quoteAssets(pos *model.Position, extra ...string) []string {
	set := make(map[string]struct{}, len(pos.Assets)+len(extra))
	for asset, l := range pos.Assets {
		if l != nil && !l.IsZero() {
			set[asset] = struct{}{}
		}
	}
	for _, asset := range extra {
		set[asset] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for asset := range set {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) transfer(ctx context.Context, kind model.TransferKind, asset string, from, to common.Address, amount uint64, now int64) error {
	if e.cfg.Custody == nil {
		return nil
	}
	t := model.Transfer{Kind: kind, Asset: asset, From: from, To: to, Amount: amount, Timestamp: now}
	if err := e.cfg.Custody.Transfer(ctx, t); err != nil {
		return fmt.Errorf("custody %s transfer: %w", kind, err)
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, alert model.HealthAlert) {
	e.logger.Warn("health alert",
		zap.String("owner", alert.Owner.Hex()),
		zap.Uint64("health_factor", alert.HealthFactor),
		zap.Uint64("threshold", alert.AlertThreshold),
		zap.String("alert_id", alert.ID),
	)
	e.cfg.Observer.ObserveHealth(alert.Owner, alert.HealthFactor)
	if e.cfg.Sink == nil {
		e.cfg.Observer.ObserveAlert(nil)
		return
	}
	err := e.cfg.Sink.Emit(ctx, alert)
	e.cfg.Observer.ObserveAlert(err)
	if err != nil {
		e.logger.Error("emit health alert", zap.String("alert_id", alert.ID), zap.Error(err))
	}
}
