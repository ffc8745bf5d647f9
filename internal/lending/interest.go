package lending

import "lendingScope/internal/model"

const (
	BpsFull        uint64 = 10_000
	SecondsPerYear uint64 = 365 * 24 * 60 * 60
)

// UtilizationBps returns total_borrowed / total_deposited in basis points,
// capped at BpsFull.
func UtilizationBps(pool *model.Pool) uint64 {
	if pool.TotalDeposited == 0 {
		return 0
	}
	if pool.TotalBorrowed >= pool.TotalDeposited {
		return BpsFull
	}
	u, _ := mulDiv(pool.TotalBorrowed, BpsFull, pool.TotalDeposited)
	return u
}

// BorrowRateBps evaluates the kinked borrow APR at the pool's current
// utilization.
func BorrowRateBps(pool *model.Pool) uint64 {
	u := UtilizationBps(pool)
	if u <= pool.OptimalUtilizationBps {
		contrib, _ := mulDiv(pool.Slope1Bps, u, maxU64(pool.OptimalUtilizationBps, 1))
		return satAdd(pool.BaseRateBps, contrib)
	}

	over := satSub(u, pool.OptimalUtilizationBps)
	denom := maxU64(satSub(BpsFull, pool.OptimalUtilizationBps), 1)
	contrib, _ := mulDiv(pool.Slope2Bps, over, denom)
	return satAdd(satAdd(pool.BaseRateBps, pool.Slope1Bps), contrib)
}

// SupplyRateBps is the borrow APR spread over all deposits.
func SupplyRateBps(pool *model.Pool) uint64 {
	r, _ := mulDiv(BorrowRateBps(pool), UtilizationBps(pool), BpsFull)
	return r
}

// Accrue adds simple interest for the time elapsed since the last accrual to
// total_borrowed and returns the amount added. Borrow shares are left alone so
// each share represents more debt afterwards. The first call only records now.
func Accrue(pool *model.Pool, now int64) uint64 {
	if pool.LastAccrualTime == 0 {
		pool.LastAccrualTime = now
		return 0
	}
	if now <= pool.LastAccrualTime {
		return 0
	}
	elapsed := uint64(now - pool.LastAccrualTime)
	if pool.TotalBorrowed == 0 {
		pool.LastAccrualTime = now
		return 0
	}

	rate := BorrowRateBps(pool)
	perYear, _ := mulDiv(pool.TotalBorrowed, rate, BpsFull)
	interest, _ := mulDiv(perYear, elapsed, SecondsPerYear)
	if interest > 0 {
		pool.TotalBorrowed = satAdd(pool.TotalBorrowed, interest)
	}

	pool.LastAccrualTime = now
	return interest
}
