package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Aggregator walks every active reserve and values a user's claims in USD. It
// never mutates state: index accrual since the last update is projected
// read-only so valuations stay current between touches.
type Aggregator struct {
	state  engineState
	oracle PriceOracle
	nowFn  func() uint64
}

// NewAggregator wires the aggregator to its collaborators.
func NewAggregator(state engineState, oracle PriceOracle, nowFn func() uint64) *Aggregator {
	return &Aggregator{state: state, oracle: oracle, nowFn: nowFn}
}

// AccountData values the user's collateral (weighted by each reserve's
// liquidation threshold) and debt in wad USD, and derives the weighted-average
// risk parameters and health factor of the position. Reserves where the user
// holds neither claim are skipped, so an unpriced reserve only blocks users
// with exposure to it.
func (a *Aggregator) AccountData(user common.Address) (AccountData, error) {
	data := AccountData{
		CollateralUSD: big.NewInt(0),
		DebtUSD:       big.NewInt(0),
	}

	assets, err := a.state.ReserveAssets()
	if err != nil {
		return AccountData{}, err
	}

	rawCollateralUSD := big.NewInt(0)
	weightedLTV := big.NewInt(0)
	weightedThreshold := big.NewInt(0)
	now := a.nowFn()

	for _, asset := range assets {
		reserve, err := a.state.GetReserve(asset)
		if err != nil {
			return AccountData{}, err
		}
		if reserve == nil || !reserve.Active {
			continue
		}
		reserve.ensureDefaults()

		pos, err := a.state.GetPosition(asset, user)
		if err != nil {
			return AccountData{}, err
		}
		if pos == nil {
			continue
		}
		pos.ensureDefaults()
		if pos.SupplyScaled.Sign() == 0 && pos.DebtScaled.Sign() == 0 {
			continue
		}

		price, err := a.oracle.AssetPrice(asset)
		if err != nil {
			return AccountData{}, err
		}

		liquidityIndex, borrowIndex := projectIndexes(reserve, now)

		if pos.SupplyScaled.Sign() > 0 {
			supplyBal := underlyingFromScaled(pos.SupplyScaled, liquidityIndex)
			balUSD := wadMul(supplyBal, price)
			rawCollateralUSD.Add(rawCollateralUSD, balUSD)
			data.CollateralUSD.Add(data.CollateralUSD, percentMul(balUSD, reserve.LiquidationThreshold))
			weightedLTV.Add(weightedLTV, new(big.Int).Mul(balUSD, new(big.Int).SetUint64(reserve.LTV)))
			weightedThreshold.Add(weightedThreshold, new(big.Int).Mul(balUSD, new(big.Int).SetUint64(reserve.LiquidationThreshold)))
		}
		if pos.DebtScaled.Sign() > 0 {
			debtBal := underlyingFromScaled(pos.DebtScaled, borrowIndex)
			data.DebtUSD.Add(data.DebtUSD, wadMul(debtBal, price))
		}
	}

	if rawCollateralUSD.Sign() > 0 {
		data.LTV = new(big.Int).Quo(weightedLTV, rawCollateralUSD).Uint64()
		data.LiquidationThreshold = new(big.Int).Quo(weightedThreshold, rawCollateralUSD).Uint64()
	}
	data.HealthFactor = healthFactor(data.CollateralUSD, data.DebtUSD)
	return data, nil
}

// HealthFactor returns the user's current health factor in wad; debt-free
// accounts saturate to the maximum representable value.
func (a *Aggregator) HealthFactor(user common.Address) (*big.Int, error) {
	data, err := a.AccountData(user)
	if err != nil {
		return nil, err
	}
	return data.HealthFactor, nil
}

// healthFactor computes weightedCollateralUSD*WAD/debtUSD, saturating when
// there is no debt.
func healthFactor(weightedCollateralUSD, debtUSD *big.Int) *big.Int {
	if debtUSD == nil || debtUSD.Sign() == 0 {
		return MaxHealthFactor()
	}
	return wadDiv(weightedCollateralUSD, debtUSD)
}

// projectIndexes advances both indexes read-only from the reserve's last
// update to now using the currently stored rates.
func projectIndexes(reserve *Reserve, now uint64) (*big.Int, *big.Int) {
	liquidityIndex := new(big.Int).Set(reserve.LiquidityIndex)
	borrowIndex := new(big.Int).Set(reserve.VariableBorrowIndex)
	if now <= reserve.LastUpdateTimestamp {
		return liquidityIndex, borrowIndex
	}
	dt := now - reserve.LastUpdateTimestamp
	liquidityIndex = rayMul(liquidityIndex, linearInterest(reserve.CurrentLiquidityRate, dt))
	borrowIndex = rayMul(borrowIndex, linearInterest(reserve.CurrentVariableBorrowRate, dt))
	return liquidityIndex, borrowIndex
}
