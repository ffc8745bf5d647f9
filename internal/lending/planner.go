package lending

import "context"

// CloseFactorPlanner repays the largest share of debt the close factor allows
// and seizes collateral worth the repaid value plus the liquidation bonus,
// capped at what the borrower holds. When the cap binds, the repay amount is
// scaled back so the seizure stays within the bonus.
type CloseFactorPlanner struct{}

func (CloseFactorPlanner) Plan(ctx context.Context, in LiquidationInput) (SeizurePlan, error) {
	if in.CollateralPrice == 0 || in.DebtPrice == 0 {
		return SeizurePlan{}, ErrMathDivision
	}
	repay, _ := mulDiv(in.Debt.Borrowed, in.DebtPool.LiquidationCloseFactor, 100)
	bonus := satAdd(100, in.CollateralPool.LiquidationBonus)

	seizeValue, _ := mulDiv(satMul(repay, in.DebtPrice), bonus, 100)
	seize := seizeValue / in.CollateralPrice
	if seize > in.Collateral.Deposited {
		seize = in.Collateral.Deposited
		// repay = seize*collPrice*100 / (bonus*debtPrice), rounded up so the
		// seized value never exceeds the bonus bound.
		repay, _ = mulDivUp(satMul(seize, in.CollateralPrice), 100, satMul(bonus, in.DebtPrice))
		if repay > in.Debt.Borrowed {
			repay = in.Debt.Borrowed
		}
	}
	return SeizurePlan{RepayAmount: repay, SeizeAmount: seize}, nil
}
