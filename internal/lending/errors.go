package lending

import (
	"errors"
	"fmt"
)

var (
	ErrOverLTV                = errors.New("borrowed amount exceeds the maximum LTV")
	ErrUnderCollateralized    = errors.New("operation results in an under collateralized position")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrOverRepay              = errors.New("attempting to repay more than borrowed")
	ErrOverBorrowableAmount   = errors.New("attempting to borrow more than allowed")
	ErrNotUndercollateralized = errors.New("position is not undercollateralized")
	ErrOracle                 = errors.New("oracle price error")
	ErrInvalidThreshold       = errors.New("invalid health factor threshold, must be between 110-300 bps")
	ErrInvalidAlertFrequency  = errors.New("invalid alert frequency, must be between 1-168 hours")

	ErrInvalidAmount          = errors.New("amount must be greater than zero")
	ErrPoolNotFound           = errors.New("pool not found")
	ErrPoolExists             = errors.New("pool already exists")
	ErrPositionNotFound       = errors.New("position not found")
	ErrPositionExists         = errors.New("position already exists")
	ErrSnapshotExists         = errors.New("snapshot index already recorded")
	ErrLiquidationUnavailable = errors.New("liquidation arithmetic is not configured")
	ErrSeizureBounds          = errors.New("seizure plan exceeds liquidation bounds")

	// ErrMathDivision marks a checked division that had no valid divisor. It
	// signals broken bookkeeping and is surfaced instead of swallowed.
	ErrMathDivision = errors.New("checked division failed")
)

// OracleError collapses every price failure into ErrOracle for callers while
// keeping the underlying cause reachable through errors.Is/As.
type OracleError struct {
	Asset string
	Cause error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle price error for %s: %v", e.Asset, e.Cause)
}

func (e *OracleError) Is(target error) bool {
	return target == ErrOracle
}

func (e *OracleError) Unwrap() error {
	return e.Cause
}

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrOracle, "oracle"},
	{ErrOverLTV, "over_ltv"},
	{ErrUnderCollateralized, "under_collateralized"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrOverRepay, "over_repay"},
	{ErrOverBorrowableAmount, "over_borrowable_amount"},
	{ErrNotUndercollateralized, "not_undercollateralized"},
	{ErrInvalidThreshold, "invalid_threshold"},
	{ErrInvalidAlertFrequency, "invalid_alert_frequency"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrPoolNotFound, "pool_not_found"},
	{ErrPoolExists, "pool_exists"},
	{ErrPositionNotFound, "position_not_found"},
	{ErrPositionExists, "position_exists"},
	{ErrSnapshotExists, "snapshot_exists"},
	{ErrLiquidationUnavailable, "liquidation_unavailable"},
	{ErrSeizureBounds, "seizure_bounds"},
	{ErrMathDivision, "math_division"},
}

// Kind returns a stable label for err: "ok" for nil, the matching error kind,
// or "internal".
func Kind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
