package lending

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lendingScope/internal/model"
)

// Tx is a unit of work over pool and position records. Records handed out are
// private copies locked for the caller; mutations become visible only when the
// enclosing Ledger.Atomic call returns nil. Callers take pool locks before
// position locks, and pools in ascending asset order.
type Tx interface {
	Pool(ctx context.Context, asset string) (*model.Pool, error)
	Position(ctx context.Context, owner common.Address) (*model.Position, error)
	InsertPool(ctx context.Context, pool *model.Pool) error
	InsertPosition(ctx context.Context, pos *model.Position) error
	AppendSnapshot(ctx context.Context, snap model.HealthSnapshot) error
}

// Ledger provisions and persists pools, positions, and snapshots.
type Ledger interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	ListPools(ctx context.Context) ([]model.Pool, error)
	Snapshots(ctx context.Context, owner common.Address) ([]model.HealthSnapshot, error)
}

// PriceSource returns the latest quote for an asset. Freshness is enforced by
// the engine.
type PriceSource interface {
	Quote(ctx context.Context, asset string) (model.Quote, error)
}

// AlertSink receives health alerts after the triggering operation commits.
type AlertSink interface {
	Emit(ctx context.Context, alert model.HealthAlert) error
}

// Custody moves underlying assets. A failed transfer aborts the operation.
type Custody interface {
	Transfer(ctx context.Context, t model.Transfer) error
}

// LiquidationInput is what a SeizurePlanner sees of an undercollateralized
// position.
type LiquidationInput struct {
	Borrower        common.Address
	DebtPool        model.Pool
	CollateralPool  model.Pool
	Debt            model.AssetLedger
	Collateral      model.AssetLedger
	DebtPrice       uint64
	CollateralPrice uint64
	Valuation       Valuation
}

// SeizurePlan is the debt a liquidator repays and the collateral it takes.
type SeizurePlan struct {
	RepayAmount uint64
	SeizeAmount uint64
}

// SeizurePlanner decides liquidation amounts. The engine validates every plan
// against the pool's close factor and bonus before applying it.
type SeizurePlanner interface {
	Plan(ctx context.Context, in LiquidationInput) (SeizurePlan, error)
}

// Observer receives engine telemetry.
type Observer interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
	ObserveAccrual(asset string, interest uint64)
	ObserveAlert(err error)
	ObserveHealth(owner common.Address, healthFactor uint64)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, error, time.Duration) {}
func (nopObserver) ObserveAccrual(string, uint64)                 {}
func (nopObserver) ObserveAlert(error)                            {}
func (nopObserver) ObserveHealth(common.Address, uint64)          {}
