package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MaxReserves bounds the reserve list so account aggregation stays cheap.
const MaxReserves = 128

// Reserve captures the per-asset accounting state of the pool. Indexes are ray
// accumulators, rates are annual ray values, and the claim totals are scaled
// balances.
type Reserve struct {
	// Asset is the identifier of the underlying asset this reserve manages.
	Asset string
	// LiquidityIndex accumulates supplier yield; starts at 1 ray and never
	// decreases.
	LiquidityIndex *big.Int
	// VariableBorrowIndex accumulates borrower interest; starts at 1 ray and
	// never decreases.
	VariableBorrowIndex *big.Int
	// CurrentLiquidityRate is the annual ray rate credited to suppliers over
	// the next accrual window.
	CurrentLiquidityRate *big.Int
	// CurrentVariableBorrowRate is the annual ray rate charged to borrowers
	// over the next accrual window.
	CurrentVariableBorrowRate *big.Int
	// LastUpdateTimestamp records the unix second when indexes were last
	// compounded.
	LastUpdateTimestamp uint64
	// LTV is the maximum loan-to-value ratio in basis points.
	LTV uint64
	// LiquidationThreshold is the collateral weighting applied during health
	// checks, in basis points.
	LiquidationThreshold uint64
	// LiquidationBonus is the liquidator discount in basis points.
	LiquidationBonus uint64
	// TotalScaledSupply is the supply-claim ledger's total scaled balance.
	TotalScaledSupply *big.Int
	// TotalScaledDebt is the debt-claim ledger's total scaled balance.
	TotalScaledDebt *big.Int
	// Active gates every operation against the reserve.
	Active bool
	// Frozen blocks new deposits and borrows while leaving withdrawals and
	// repayments open.
	Frozen bool
}

// Clone returns a deep copy of the reserve.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	clone := &Reserve{
		Asset:                r.Asset,
		LastUpdateTimestamp:  r.LastUpdateTimestamp,
		LTV:                  r.LTV,
		LiquidationThreshold: r.LiquidationThreshold,
		LiquidationBonus:     r.LiquidationBonus,
		Active:               r.Active,
		Frozen:               r.Frozen,
	}
	clone.LiquidityIndex = cloneBig(r.LiquidityIndex)
	clone.VariableBorrowIndex = cloneBig(r.VariableBorrowIndex)
	clone.CurrentLiquidityRate = cloneBig(r.CurrentLiquidityRate)
	clone.CurrentVariableBorrowRate = cloneBig(r.CurrentVariableBorrowRate)
	clone.TotalScaledSupply = cloneBig(r.TotalScaledSupply)
	clone.TotalScaledDebt = cloneBig(r.TotalScaledDebt)
	return clone
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// ensureDefaults backfills nil big.Int fields so decoded reserves are safe to
// operate on.
func (r *Reserve) ensureDefaults() {
	if r == nil {
		return
	}
	if r.LiquidityIndex == nil || r.LiquidityIndex.Sign() == 0 {
		r.LiquidityIndex = new(big.Int).Set(ray)
	}
	if r.VariableBorrowIndex == nil || r.VariableBorrowIndex.Sign() == 0 {
		r.VariableBorrowIndex = new(big.Int).Set(ray)
	}
	if r.CurrentLiquidityRate == nil {
		r.CurrentLiquidityRate = big.NewInt(0)
	}
	if r.CurrentVariableBorrowRate == nil {
		r.CurrentVariableBorrowRate = big.NewInt(0)
	}
	if r.TotalScaledSupply == nil {
		r.TotalScaledSupply = big.NewInt(0)
	}
	if r.TotalScaledDebt == nil {
		r.TotalScaledDebt = big.NewInt(0)
	}
}

// Position stores the per-(asset, account) scaled claim balances maintained by
// the supply and debt ledgers.
type Position struct {
	// SupplyScaled is the account's supply-claim balance in scaled units.
	SupplyScaled *big.Int
	// DebtScaled is the account's debt-claim balance in scaled units.
	DebtScaled *big.Int
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	return &Position{
		SupplyScaled: cloneBig(p.SupplyScaled),
		DebtScaled:   cloneBig(p.DebtScaled),
	}
}

func (p *Position) ensureDefaults() {
	if p == nil {
		return
	}
	if p.SupplyScaled == nil {
		p.SupplyScaled = big.NewInt(0)
	}
	if p.DebtScaled == nil {
		p.DebtScaled = big.NewInt(0)
	}
}

// ReserveConfig groups the parameters an admin supplies when initializing a
// reserve.
type ReserveConfig struct {
	// LTV, LiquidationThreshold and LiquidationBonus are expressed in basis
	// points; validation enforces LTV <= threshold <= 10000 and bonus < 10000.
	LTV                  uint64
	LiquidationThreshold uint64
	LiquidationBonus     uint64
	// Model is the interest-rate model handle attached to the reserve.
	Model RateModel
}

// AccountData is the aggregator's view of a user across every reserve. USD
// values are wad fixed point; the LTV and threshold are collateral-weighted
// averages of the user's actual positions in basis points.
type AccountData struct {
	CollateralUSD        *big.Int
	DebtUSD              *big.Int
	LTV                  uint64
	LiquidationThreshold uint64
	HealthFactor         *big.Int
}

// ReserveSnapshot is the read-only view served by reserve queries.
type ReserveSnapshot struct {
	Asset                     string
	LiquidityIndex            *big.Int
	VariableBorrowIndex       *big.Int
	CurrentLiquidityRate      *big.Int
	CurrentVariableBorrowRate *big.Int
	LastUpdateTimestamp       uint64
	LTV                       uint64
	LiquidationThreshold      uint64
	LiquidationBonus          uint64
	TotalSupplyUnderlying     *big.Int
	TotalDebtUnderlying       *big.Int
	AvailableCash             *big.Int
	Frozen                    bool
}

// zeroAddress is the unset account sentinel.
var zeroAddress common.Address
