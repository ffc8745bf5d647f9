package model

// Pool is the shared ledger for one asset: aggregate deposits and borrows with
// their proportional share totals, risk parameters, and interest curve.
type Pool struct {
	Asset               string `json:"asset"`
	TotalDeposited      uint64 `json:"total_deposited"`
	TotalDepositShares  uint64 `json:"total_deposit_shares"`
	TotalBorrowed       uint64 `json:"total_borrowed"`
	TotalBorrowedShares uint64 `json:"total_borrowed_shares"`

	LiquidationThreshold   uint64 `json:"liquidation_threshold"`
	LiquidationBonus       uint64 `json:"liquidation_bonus"`
	LiquidationCloseFactor uint64 `json:"liquidation_close_factor"`
	MaxLTV                 uint64 `json:"max_ltv"`

	// Interest curve, all in basis points.
	BaseRateBps           uint64 `json:"base_rate_bps"`
	Slope1Bps             uint64 `json:"slope1_bps"`
	Slope2Bps             uint64 `json:"slope2_bps"`
	OptimalUtilizationBps uint64 `json:"optimal_utilization_bps"`

	// LastAccrualTime is zero until the first accrual call initializes it.
	LastAccrualTime int64 `json:"last_accrual_time"`
	CreatedAt       int64 `json:"created_at"`
	UpdatedAt       int64 `json:"updated_at"`
}

// Clone returns a copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// FreeLiquidity is the deposited amount not currently lent out.
func (p *Pool) FreeLiquidity() uint64 {
	if p.TotalBorrowed >= p.TotalDeposited {
		return 0
	}
	return p.TotalDeposited - p.TotalBorrowed
}
