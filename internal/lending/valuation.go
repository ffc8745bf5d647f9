package lending

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"lendingScope/internal/model"
)

// HealthFactorMax is the health of a position with no debt.
const HealthFactorMax uint64 = math.MaxUint64

// Valuation is a position priced at a set of quotes.
type Valuation struct {
	TotalCollateralValue uint64
	TotalBorrowedValue   uint64
	HealthFactor         uint64
	Prices               map[string]uint64
}

// Value prices every sub-ledger of the position. Assets without a price
// contribute nothing; callers fetch a quote for every asset the position holds.
func Value(pos *model.Position, prices map[string]uint64) Valuation {
	v := Valuation{Prices: make(map[string]uint64, len(prices))}
	for asset, price := range prices {
		v.Prices[asset] = price
	}
	for asset, l := range pos.Assets {
		if l == nil {
			continue
		}
		price := prices[asset]
		v.TotalCollateralValue = satAdd(v.TotalCollateralValue, satMul(price, l.Deposited))
		v.TotalBorrowedValue = satAdd(v.TotalBorrowedValue, satMul(price, l.Borrowed))
	}
	v.HealthFactor = HealthFactor(v.TotalCollateralValue, v.TotalBorrowedValue)
	return v
}

// HealthFactor returns collateral/borrowed in basis points, or HealthFactorMax
// when there is no debt.
func HealthFactor(collateralValue, borrowedValue uint64) uint64 {
	if borrowedValue == 0 {
		return HealthFactorMax
	}
	hf, _ := mulDiv(collateralValue, BpsFull, borrowedValue)
	return hf
}

// BorrowableAmount is collateral value times the pool's stored liquidation
// threshold, without a basis-point denominator.
func BorrowableAmount(collateralValue, liquidationThreshold uint64) uint64 {
	return satMul(collateralValue, liquidationThreshold)
}

// Undercollateralized reports whether a health factor is below 1.0.
func Undercollateralized(healthFactor uint64) bool {
	return healthFactor < BpsFull
}

// FormatBps renders a basis-point ratio as a decimal multiple, e.g. 15000 -> "1.5".
func FormatBps(bps uint64) string {
	if bps == HealthFactorMax {
		return "inf"
	}
	return decimal.NewFromBigInt(new(big.Int).SetUint64(bps), -4).String()
}
