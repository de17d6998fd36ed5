package credit

import "math/big"

// Protocol constants. These are fixed for every deployment and are not
// runtime-configurable.
const (
	// MaxAPRBps caps every rate field at 100%.
	MaxAPRBps uint64 = 10_000
	// MinAPRBps is the floor for the low end of an active credit line.
	MinAPRBps uint64 = 1
	// BasisPoints is the fixed-point denominator for all rate math.
	BasisPoints uint64 = 10_000
	// SecondsPerYear normalises APR to per-second accrual.
	SecondsPerYear int64 = 31_536_000
	// MaxLoansPerUser caps both the active and lifetime loan counters.
	MaxLoansPerUser uint64 = 50
)

var (
	basisPoints    = big.NewInt(int64(BasisPoints))
	secondsPerYear = big.NewInt(SecondsPerYear)
	// accrualDivisor is SECONDS_PER_YEAR * BASIS_POINTS, the denominator of
	// the simple-interest formula.
	accrualDivisor = new(big.Int).Mul(secondsPerYear, basisPoints)
	// reorderThreshold marks where the triple product
	// outstanding * apr * elapsed would overflow a 256-bit word. Above it the
	// division happens before the elapsed multiplication, trading at most one
	// unit of per-second precision for a bounded intermediate.
	reorderThreshold = new(big.Int).Lsh(big.NewInt(1), 128)
)

// AccruedInterest returns the simple, non-compounding interest a loan has
// accumulated between its last full interest payment and now. It reads only
// its arguments and never mutates the loan: repeated calls with identical
// inputs return identical results.
func AccruedInterest(loan *Loan, now int64) *big.Int {
	if loan == nil || loan.Closed || loan.FixedAPRBps == 0 {
		return big.NewInt(0)
	}
	outstanding := loan.Outstanding()
	if outstanding.Sign() <= 0 {
		return big.NewInt(0)
	}
	elapsed := now - loan.LastPaymentTimestamp
	if elapsed <= 0 {
		return big.NewInt(0)
	}
	apr := new(big.Int).SetUint64(loan.FixedAPRBps)
	elapsedBig := big.NewInt(elapsed)

	if outstanding.Cmp(reorderThreshold) > 0 {
		rate := new(big.Int).Mul(outstanding, apr)
		rate.Quo(rate, accrualDivisor)
		return rate.Mul(rate, elapsedBig)
	}
	interest := new(big.Int).Mul(outstanding, apr)
	interest.Mul(interest, elapsedBig)
	return interest.Quo(interest, accrualDivisor)
}

// InterpolateAPR fixes the issuance rate for a loan: a linear walk from
// minBps at zero utilization to maxBps at full utilization, evaluated on the
// post-issuance borrowing total. The result is locked into the loan and never
// recalculated.
func InterpolateAPR(minBps, maxBps uint64, borrowing, limit *big.Int) uint64 {
	if limit == nil || limit.Sign() <= 0 || minBps >= maxBps {
		return minBps
	}
	if borrowing == nil || borrowing.Sign() <= 0 {
		return minBps
	}
	if borrowing.Cmp(limit) >= 0 {
		return maxBps
	}
	spread := new(big.Int).SetUint64(maxBps - minBps)
	spread.Mul(spread, borrowing)
	spread.Quo(spread, limit)
	return minBps + spread.Uint64()
}

// UtilizationBps expresses borrowing against a limit in basis points. The
// value can exceed BasisPoints when a lender lowers a limit below what is
// already drawn.
func UtilizationBps(borrowing, limit *big.Int) uint64 {
	if borrowing == nil || limit == nil || borrowing.Sign() <= 0 || limit.Sign() <= 0 {
		return 0
	}
	util := new(big.Int).Mul(borrowing, basisPoints)
	util.Quo(util, limit)
	if !util.IsUint64() {
		return MaxAPRBps
	}
	return util.Uint64()
}
