package lending

import (
	"fmt"

	"lendingScope/internal/model"
)

// mintShares returns the shares worth amount at the current share price
// totalAmount/totalShares. An empty side bootstraps 1:1. Debt shares round up
// so a borrower never holds debt without shares.
func mintShares(amount, totalAmount, totalShares uint64, roundUp bool) (uint64, error) {
	if totalAmount == 0 || totalShares == 0 {
		return amount, nil
	}
	div := mulDiv
	if roundUp {
		div = mulDivUp
	}
	shares, ok := div(amount, totalShares, totalAmount)
	if !ok {
		return 0, fmt.Errorf("mint shares: %w", ErrMathDivision)
	}
	return shares, nil
}

// burnShares returns the deposit shares to retire when amount leaves a holding
// of heldAmount backed by heldShares. A full exit retires every share. A
// partial exit rounds up in favour of the pool but always leaves at least one
// share behind the remaining balance.
func burnShares(amount, heldAmount, heldShares uint64) (uint64, error) {
	if amount >= heldAmount {
		return heldShares, nil
	}
	shares, ok := mulDivUp(amount, heldShares, heldAmount)
	if !ok {
		return 0, fmt.Errorf("burn shares: %w", ErrMathDivision)
	}
	if shares >= heldShares && heldShares > 0 {
		shares = heldShares - 1
	}
	return shares, nil
}

// debtOf is what ledger owes the pool: its borrow shares priced at the pool's
// current debt per share, rounded up. The last holder owes exactly what the
// pool has left.
func debtOf(pool *model.Pool, ledger *model.AssetLedger) uint64 {
	if ledger.BorrowShares == 0 {
		return 0
	}
	if pool.TotalBorrowedShares == 0 {
		return ledger.Borrowed
	}
	if ledger.BorrowShares >= pool.TotalBorrowedShares {
		return pool.TotalBorrowed
	}
	owed, ok := mulDivUp(ledger.BorrowShares, pool.TotalBorrowed, pool.TotalBorrowedShares)
	if !ok {
		return ledger.Borrowed
	}
	return min(owed, pool.TotalBorrowed)
}

// syncDebt brings ledger.Borrowed up to the interest accrued on its shares.
func syncDebt(pool *model.Pool, ledger *model.AssetLedger) {
	ledger.Borrowed = debtOf(pool, ledger)
}

// creditDeposit records amount entering the pool on behalf of ledger.
func creditDeposit(pool *model.Pool, ledger *model.AssetLedger, amount uint64) (uint64, error) {
	shares, err := mintShares(amount, pool.TotalDeposited, pool.TotalDepositShares, false)
	if err != nil {
		return 0, err
	}
	pool.TotalDeposited = satAdd(pool.TotalDeposited, amount)
	pool.TotalDepositShares = satAdd(pool.TotalDepositShares, shares)
	ledger.Deposited = satAdd(ledger.Deposited, amount)
	ledger.DepositShares = satAdd(ledger.DepositShares, shares)
	return shares, nil
}

// creditBorrow records amount lent out of the pool to ledger.
func creditBorrow(pool *model.Pool, ledger *model.AssetLedger, amount uint64) (uint64, error) {
	shares, err := mintShares(amount, pool.TotalBorrowed, pool.TotalBorrowedShares, true)
	if err != nil {
		return 0, err
	}
	pool.TotalBorrowed = satAdd(pool.TotalBorrowed, amount)
	pool.TotalBorrowedShares = satAdd(pool.TotalBorrowedShares, shares)
	ledger.BorrowShares = satAdd(ledger.BorrowShares, shares)
	syncDebt(pool, ledger)
	return shares, nil
}

// debitDeposit removes amount of ledger's deposit from the pool. The caller
// has already checked amount against the ledger and the pool's free liquidity.
func debitDeposit(pool *model.Pool, ledger *model.AssetLedger, amount uint64) (uint64, error) {
	if amount > ledger.Deposited {
		return 0, ErrInsufficientFunds
	}
	shares, err := burnShares(amount, ledger.Deposited, ledger.DepositShares)
	if err != nil {
		return 0, err
	}
	ledger.Deposited -= amount
	ledger.DepositShares = satSub(ledger.DepositShares, shares)
	pool.TotalDeposited = satSub(pool.TotalDeposited, amount)
	pool.TotalDepositShares = satSub(pool.TotalDepositShares, shares)
	normalizeSide(&pool.TotalDeposited, &pool.TotalDepositShares)
	return shares, nil
}

// debitBorrow retires amount of ledger's debt, principal and accrued interest
// alike. Paying the full debt retires every share; a partial payment burns
// shares rounded down so no debt is forgiven.
func debitBorrow(pool *model.Pool, ledger *model.AssetLedger, amount uint64) (uint64, error) {
	owed := debtOf(pool, ledger)
	if amount > owed {
		return 0, ErrOverRepay
	}
	shares := ledger.BorrowShares
	if amount < owed {
		var ok bool
		shares, ok = mulDiv(amount, pool.TotalBorrowedShares, pool.TotalBorrowed)
		if !ok {
			return 0, fmt.Errorf("burn shares: %w", ErrMathDivision)
		}
		shares = min(shares, ledger.BorrowShares)
	}
	ledger.BorrowShares -= shares
	pool.TotalBorrowed = satSub(pool.TotalBorrowed, amount)
	pool.TotalBorrowedShares = satSub(pool.TotalBorrowedShares, shares)
	normalizeSide(&pool.TotalBorrowed, &pool.TotalBorrowedShares)
	syncDebt(pool, ledger)
	return shares, nil
}

// normalizeSide keeps amount == 0 iff shares == 0 for a pool side. Debt is
// priced from shares, so the last share leaves with the last unit owed and
// only rounding dust can be cleared here.
func normalizeSide(amount, shares *uint64) {
	if *amount == 0 || *shares == 0 {
		*amount = 0
		*shares = 0
	}
}
