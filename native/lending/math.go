package lending

import "math/big"

var (
	// basisPoints is the denominator for risk parameters (LTV, thresholds,
	// bonuses).
	basisPoints = big.NewInt(10_000)
	// ray is the 1e27 fixed-point scale used for rates and indexes.
	ray = mustBigInt("1000000000000000000000000000")
	// wad is the 1e18 fixed-point scale used for USD prices and health
	// factors.
	wad = mustBigInt("1000000000000000000")
	// maxUint256 doubles as the MAX amount sentinel on withdraw/repay and the
	// saturated health factor for debt-free accounts.
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// secondsPerYear converts annual ray rates to per-second accrual.
const secondsPerYear = 31_536_000

// MaxAmount returns the sentinel callers pass to withdraw or repay their full
// position.
func MaxAmount() *big.Int { return new(big.Int).Set(maxUint256) }

// MaxHealthFactor returns the saturated health factor reported for accounts
// with no debt.
func MaxHealthFactor() *big.Int { return new(big.Int).Set(maxUint256) }

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// rayMul computes a*b/RAY truncating toward zero. Multiplication happens
// before division so no precision is lost ahead of the final truncation.
func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, ray)
}

// rayDiv computes a*RAY/b truncating toward zero. A zero divisor yields zero;
// callers guard the documented division-by-zero cases before reaching here.
func rayDiv(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, ray)
	return numerator.Quo(numerator, b)
}

// wadMul computes a*b/WAD truncating toward zero.
func wadMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, wad)
}

// wadDiv computes a*WAD/b truncating toward zero.
func wadDiv(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, wad)
	return numerator.Quo(numerator, b)
}

// percentMul computes amount*bps/10000 truncating toward zero.
func percentMul(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return product.Quo(product, basisPoints)
}

// linearInterest returns the ray growth factor RAY + rate*dt/secondsPerYear
// for an annual ray rate accrued linearly over dt seconds.
func linearInterest(annualRateRay *big.Int, dt uint64) *big.Int {
	if annualRateRay == nil || annualRateRay.Sign() == 0 || dt == 0 {
		return new(big.Int).Set(ray)
	}
	accrued := new(big.Int).Mul(annualRateRay, new(big.Int).SetUint64(dt))
	accrued.Quo(accrued, big.NewInt(secondsPerYear))
	return accrued.Add(accrued, ray)
}

// scaledFromUnderlying converts an underlying amount to its scaled claim form
// using the given ray index, truncating toward zero.
func scaledFromUnderlying(amount, index *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	return rayDiv(amount, index)
}

// underlyingFromScaled converts a scaled claim balance back to underlying
// units using the given ray index, truncating toward zero.
func underlyingFromScaled(scaled, index *big.Int) *big.Int {
	if scaled == nil || scaled.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	return rayMul(scaled, index)
}

func bigMin(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
