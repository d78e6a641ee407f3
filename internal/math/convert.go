package math

import (
	"math/big"
	"sync"

	"VoltrQuote/internal/errs"
)

const (
	// MaxFeeBps is the fee-rate denominator; all vault fee rates are
	// integers in [0, MaxFeeBps].
	MaxFeeBps = 10_000

	// SecondsPerYear is the management-fee accrual base (365-day year,
	// matching the on-chain program).
	SecondsPerYear = 365 * 24 * 60 * 60

	// lpFractionBits is the number of fractional bits carried through the
	// redemption pipeline. The on-chain accounting keeps share→asset
	// intermediates in a Q48.48 representation.
	lpFractionBits = 48
)

// wide big.Ints are pooled for intermediate products; every product of two
// u64 operands needs up to 128 bits.
var widePool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getWide() *big.Int {
	return widePool.Get().(*big.Int)
}

func putWide(v *big.Int) {
	v.SetInt64(0)
	widePool.Put(v)
}

// toU64 narrows a non-negative wide result back to u64.
func toU64(v *big.Int, op string) (uint64, error) {
	if v.Sign() < 0 || v.BitLen() > 64 {
		return 0, errs.Range(op)
	}
	return v.Uint64(), nil
}

func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// CalcInitLpToMint returns the LP tokens minted by the very first deposit
// (LP supply is zero): the asset amount rescaled from fromDecimals to
// toDecimals. Multiply-then-divide, never divide-then-multiply, so no
// precision is lost before the final floor.
func CalcInitLpToMint(amount uint64, fromDecimals, toDecimals uint8) (uint64, error) {
	const op = "calcInitLpToMint"

	v := getWide()
	defer putWide(v)

	v.SetUint64(amount)
	v.Mul(v, pow10(toDecimals))
	v.Quo(v, pow10(fromDecimals))

	return toU64(v, op)
}

// CalcDepositLpToMint returns the LP tokens minted by a subsequent deposit.
//
// Maintains the ratio
//
//	lpToMint / (totalLp + lpToMint) = amountAfterFee / (totalAsset + amount)
//
// in closed form:
//
//	lpToMint = amount * (10000 - fee) * totalLp
//	         / (10000 * (totalAsset + amount) - amount * (10000 - fee))
//
// with floor division. A non-positive denominator means the deposit is too
// large relative to the vault and is reported as DivisionByZero.
func CalcDepositLpToMint(amount, totalLpPreDeposit, totalAssetPreDeposit uint64, issuanceFeeBps uint16) (uint64, error) {
	const op = "calcDepositLpToMint"

	if issuanceFeeBps > MaxFeeBps {
		return 0, errs.Overflow(op)
	}
	feeAdjusted := uint64(MaxFeeBps - issuanceFeeBps)

	num := getWide()
	defer putWide(num)
	num.SetUint64(amount)
	num.Mul(num, new(big.Int).SetUint64(totalLpPreDeposit))
	num.Mul(num, new(big.Int).SetUint64(feeAdjusted))

	// den = (totalAsset + amount) * 10000 - amount * (10000 - fee)
	den := getWide()
	defer putWide(den)
	den.SetUint64(totalAssetPreDeposit)
	den.Add(den, new(big.Int).SetUint64(amount))
	den.Mul(den, big.NewInt(MaxFeeBps))

	sub := getWide()
	defer putWide(sub)
	sub.SetUint64(amount)
	sub.Mul(sub, new(big.Int).SetUint64(feeAdjusted))
	den.Sub(den, sub)

	if den.Sign() <= 0 {
		return 0, errs.DivisionByZero(op)
	}

	num.Quo(num, den)
	return toU64(num, op)
}

// CalcManagementFeeInAsset returns the management fee, in asset units,
// accrued over timeElapsed seconds on totalAssetValue:
//
//	ceil(totalAssetValue * timeElapsed * feeBps / (10000 * secondsPerYear))
//
// Ceiling division: the protocol never under-accrues fees owed to it.
func CalcManagementFeeInAsset(timeElapsed, totalAssetValue uint64, managementFeeBps uint16) (uint64, error) {
	const op = "calcManagementFeeInAsset"

	divisor := new(big.Int).SetUint64(MaxFeeBps * uint64(SecondsPerYear))

	v := getWide()
	defer putWide(v)
	v.SetUint64(totalAssetValue)
	v.Mul(v, new(big.Int).SetUint64(timeElapsed))
	v.Mul(v, new(big.Int).SetUint64(uint64(managementFeeBps)))

	// ceil(v / divisor) via (v + divisor - 1) / divisor
	v.Add(v, divisor)
	v.Sub(v, big.NewInt(1))
	v.Quo(v, divisor)

	return toU64(v, op)
}

// CalcRedeemAssetOut returns the asset units paid out for burning
// lpToBurn LP tokens, replicating the on-chain Q48.48 pipeline:
//
//	bits = lpToBurn << 48
//	bits = floor(bits * totalUnlockedAsset / totalLpPre)
//	bits = floor(bits * (10000 - redemptionFeeBps) / 10000)
//	out  = bits >> 48
//
// The two ratio applications are truncated independently, in this order.
// floor(floor(x*a/b)*c/d) != floor(x*a*c/(b*d)) in general, and the on-chain
// ledger applies them sequentially, so this replica must too.
func CalcRedeemAssetOut(lpToBurn, totalLpPre, totalUnlockedAsset uint64, redemptionFeeBps uint16) (uint64, error) {
	const op = "calcRedeemAssetOut"

	if totalLpPre == 0 {
		return 0, errs.DivisionByZero(op)
	}
	if redemptionFeeBps > MaxFeeBps {
		return 0, errs.Overflow(op)
	}

	bits := getWide()
	defer putWide(bits)
	bits.SetUint64(lpToBurn)
	bits.Lsh(bits, lpFractionBits)

	bits.Mul(bits, new(big.Int).SetUint64(totalUnlockedAsset))
	bits.Quo(bits, new(big.Int).SetUint64(totalLpPre))

	bits.Mul(bits, new(big.Int).SetUint64(uint64(MaxFeeBps-redemptionFeeBps)))
	bits.Quo(bits, big.NewInt(MaxFeeBps))

	bits.Rsh(bits, lpFractionBits)
	return toU64(bits, op)
}

// CalcRedeemAssetOutApprox is the historical single-ratio formulation:
//
//	floor(floor(lpToBurn * totalUnlockedAsset / totalLpPre) * (10000 - fee) / 10000)
//
// It truncates to whole asset units between the two ratios and therefore
// diverges from CalcRedeemAssetOut whenever the first division is inexact.
// Retained for diagnostics only; never use it on the quote path.
func CalcRedeemAssetOutApprox(lpToBurn, totalLpPre, totalUnlockedAsset uint64, redemptionFeeBps uint16) (uint64, error) {
	const op = "calcRedeemAssetOutApprox"

	if totalLpPre == 0 {
		return 0, errs.DivisionByZero(op)
	}
	if redemptionFeeBps > MaxFeeBps {
		return 0, errs.Overflow(op)
	}

	v := getWide()
	defer putWide(v)
	v.SetUint64(lpToBurn)
	v.Mul(v, new(big.Int).SetUint64(totalUnlockedAsset))
	v.Quo(v, new(big.Int).SetUint64(totalLpPre))

	v.Mul(v, new(big.Int).SetUint64(uint64(MaxFeeBps-redemptionFeeBps)))
	v.Quo(v, big.NewInt(MaxFeeBps))

	return toU64(v, op)
}

// CalcFeeLpToMint converts an asset-denominated fee into LP tokens minted to
// the fee beneficiary:
//
//	ceil(feeAmount * totalLpPreFee / (totalAssetPostFee - feeAmount))
//
// Ceiling division; a non-positive denominator is DivisionByZero.
//
// The callers pass values computed before the fee is actually deducted from
// the asset side. The parameter names describe the protocol's bookkeeping
// sequence, not the provenance of the arguments.
func CalcFeeLpToMint(feeAmount, totalLpPreFee, totalAssetPostFee uint64) (uint64, error) {
	const op = "calcFeeLpToMint"

	den := getWide()
	defer putWide(den)
	den.SetUint64(totalAssetPostFee)
	den.Sub(den, new(big.Int).SetUint64(feeAmount))
	if den.Sign() <= 0 {
		return 0, errs.DivisionByZero(op)
	}

	num := getWide()
	defer putWide(num)
	num.SetUint64(feeAmount)
	num.Mul(num, new(big.Int).SetUint64(totalLpPreFee))

	// ceil(num / den)
	num.Add(num, den)
	num.Sub(num, big.NewInt(1))
	num.Quo(num, den)

	return toU64(num, op)
}

// MulDiv returns floor(a * b / den) with a 128-bit intermediate.
// den == 0 is DivisionByZero.
func MulDiv(a, b, den uint64) (uint64, error) {
	const op = "mulDiv"

	if den == 0 {
		return 0, errs.DivisionByZero(op)
	}

	v := getWide()
	defer putWide(v)
	v.SetUint64(a)
	v.Mul(v, new(big.Int).SetUint64(b))
	v.Quo(v, new(big.Int).SetUint64(den))

	return toU64(v, op)
}
