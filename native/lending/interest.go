package lending

import "math/big"

// RateModel maps pool balances to rates. Implementations must be pure: the
// same inputs always yield the same outputs and no state is touched.
type RateModel interface {
	// CalculateInterestRates returns the annual liquidity and borrow rates in
	// ray for the given totals, which share the asset's native unit.
	CalculateInterestRates(totalLiquidity, totalDebt *big.Int) (liquidityRate, borrowRate *big.Int)
}

// KinkedRateModel implements the two-slope utilization curve. Rates climb
// gently up to the optimal utilization and steeply beyond it, capped at
// baseRate + slope1 + slope2.
type KinkedRateModel struct {
	// BaseRate is the annual borrow rate at zero utilization, in ray.
	BaseRate *big.Int
	// Slope1 is the rate increase applied across the pre-kink region, in ray.
	Slope1 *big.Int
	// Slope2 is the rate increase applied across the post-kink region, in ray.
	Slope2 *big.Int
	// OptimalUtilization is the kink point in ray, strictly inside (0, RAY).
	OptimalUtilization *big.Int
}

// NewKinkedRateModel constructs a model from ray-valued constants. Nil rate
// inputs are treated as zero; a nil kink or one outside (0, RAY) is clamped to
// the full range so the excess-slope division stays well defined.
func NewKinkedRateModel(baseRate, slope1, slope2, optimalUtilization *big.Int) *KinkedRateModel {
	model := &KinkedRateModel{
		BaseRate:           big.NewInt(0),
		Slope1:             big.NewInt(0),
		Slope2:             big.NewInt(0),
		OptimalUtilization: new(big.Int).Set(ray),
	}
	if baseRate != nil {
		model.BaseRate.Set(baseRate)
	}
	if slope1 != nil {
		model.Slope1.Set(slope1)
	}
	if slope2 != nil {
		model.Slope2.Set(slope2)
	}
	if optimalUtilization != nil && optimalUtilization.Sign() > 0 && optimalUtilization.Cmp(ray) < 0 {
		model.OptimalUtilization.Set(optimalUtilization)
	}
	return model
}

// Clone returns a deep copy of the model.
func (m *KinkedRateModel) Clone() *KinkedRateModel {
	if m == nil {
		return nil
	}
	return NewKinkedRateModel(m.BaseRate, m.Slope1, m.Slope2, m.OptimalUtilization)
}

// MaxBorrowRate is the cap applied to the borrow rate: baseRate + slope1 +
// slope2.
func (m *KinkedRateModel) MaxBorrowRate() *big.Int {
	max := new(big.Int).Add(m.BaseRate, m.Slope1)
	return max.Add(max, m.Slope2)
}

// Utilization computes totalDebt*RAY/totalLiquidity, zero when either input is
// zero.
func (m *KinkedRateModel) Utilization(totalLiquidity, totalDebt *big.Int) *big.Int {
	if totalLiquidity == nil || totalLiquidity.Sign() == 0 {
		return big.NewInt(0)
	}
	if totalDebt == nil || totalDebt.Sign() == 0 {
		return big.NewInt(0)
	}
	return rayDiv(totalDebt, totalLiquidity)
}

// CalculateInterestRates implements the RateModel interface.
func (m *KinkedRateModel) CalculateInterestRates(totalLiquidity, totalDebt *big.Int) (*big.Int, *big.Int) {
	if totalLiquidity == nil || totalLiquidity.Sign() == 0 {
		return big.NewInt(0), new(big.Int).Set(m.BaseRate)
	}

	utilization := m.Utilization(totalLiquidity, totalDebt)
	borrowRate := new(big.Int).Set(m.BaseRate)
	if utilization.Cmp(m.OptimalUtilization) <= 0 {
		// Linear region before the kink.
		slope := new(big.Int).Mul(utilization, m.Slope1)
		slope.Quo(slope, m.OptimalUtilization)
		borrowRate.Add(borrowRate, slope)
	} else {
		excess := new(big.Int).Sub(utilization, m.OptimalUtilization)
		span := new(big.Int).Sub(ray, m.OptimalUtilization)
		steep := new(big.Int).Mul(excess, m.Slope2)
		steep.Quo(steep, span)
		borrowRate.Add(borrowRate, m.Slope1)
		borrowRate.Add(borrowRate, steep)
	}

	if max := m.MaxBorrowRate(); borrowRate.Cmp(max) > 0 {
		borrowRate = max
	}

	liquidityRate := rayMul(borrowRate, utilization)
	return liquidityRate, borrowRate
}

// DefaultRateModel mirrors the reference parameterization: 2% base, 4% slope
// to an 80% kink, 75% jump slope beyond it.
func DefaultRateModel() *KinkedRateModel {
	return NewKinkedRateModel(
		mustBigInt("20000000000000000000000000"),  // 2e25
		mustBigInt("40000000000000000000000000"),  // 4e25
		mustBigInt("750000000000000000000000000"), // 75e25
		mustBigInt("800000000000000000000000000"), // 80e25
	)
}
