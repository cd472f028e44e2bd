package lending

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendora/core/events"
)

var (
	errClaimAmountZero       = errors.New("claim ledger: scaled amount must be positive")
	errClaimBalanceTooLow    = errors.New("claim ledger: balance below requested burn")
	errDebtTransferForbidden = errors.New("claim ledger: debt claims are not transferable")
)

// SupplyLedger tracks the scaled supply-claim balances of one reserve. Minting
// and burning follow deposits and withdrawals; the only transfer it supports
// is the liquidation seizure path.
type SupplyLedger struct {
	asset   string
	state   engineState
	emitter events.Emitter
}

// BalanceOf returns the account's scaled supply-claim balance.
func (l SupplyLedger) BalanceOf(addr common.Address) (*big.Int, error) {
	pos, err := l.state.GetPosition(l.asset, addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return big.NewInt(0), nil
	}
	pos.ensureDefaults()
	return new(big.Int).Set(pos.SupplyScaled), nil
}

// Mint credits scaled supply claim to the account and grows the reserve's
// total.
func (l SupplyLedger) Mint(reserve *Reserve, to common.Address, scaled *big.Int) error {
	if scaled == nil || scaled.Sign() <= 0 {
		return errClaimAmountZero
	}
	pos, err := l.loadPosition(to)
	if err != nil {
		return err
	}
	pos.SupplyScaled = new(big.Int).Add(pos.SupplyScaled, scaled)
	if err := l.state.PutPosition(l.asset, to, pos); err != nil {
		return err
	}
	reserve.TotalScaledSupply = new(big.Int).Add(reserve.TotalScaledSupply, scaled)
	l.emitter.Emit(NewMintEvent("supply", l.asset, to, scaled))
	return nil
}

// Burn removes scaled supply claim from the account and shrinks the reserve's
// total.
func (l SupplyLedger) Burn(reserve *Reserve, from common.Address, scaled *big.Int) error {
	if scaled == nil || scaled.Sign() <= 0 {
		return errClaimAmountZero
	}
	pos, err := l.loadPosition(from)
	if err != nil {
		return err
	}
	if pos.SupplyScaled.Cmp(scaled) < 0 {
		return errClaimBalanceTooLow
	}
	pos.SupplyScaled = new(big.Int).Sub(pos.SupplyScaled, scaled)
	if err := l.state.PutPosition(l.asset, from, pos); err != nil {
		return err
	}
	reserve.TotalScaledSupply = new(big.Int).Sub(reserve.TotalScaledSupply, scaled)
	l.emitter.Emit(NewBurnEvent("supply", l.asset, from, scaled))
	return nil
}

// TransferOnLiquidation moves scaled supply claim from the borrower to the
// liquidator without changing the reserve total.
func (l SupplyLedger) TransferOnLiquidation(from, to common.Address, scaled *big.Int) error {
	if scaled == nil || scaled.Sign() <= 0 {
		return errClaimAmountZero
	}
	fromPos, err := l.loadPosition(from)
	if err != nil {
		return err
	}
	if fromPos.SupplyScaled.Cmp(scaled) < 0 {
		return errClaimBalanceTooLow
	}
	toPos, err := l.loadPosition(to)
	if err != nil {
		return err
	}
	fromPos.SupplyScaled = new(big.Int).Sub(fromPos.SupplyScaled, scaled)
	toPos.SupplyScaled = new(big.Int).Add(toPos.SupplyScaled, scaled)
	if err := l.state.PutPosition(l.asset, from, fromPos); err != nil {
		return err
	}
	if err := l.state.PutPosition(l.asset, to, toPos); err != nil {
		return err
	}
	l.emitter.Emit(NewTransferOnLiquidationEvent(l.asset, from, to, scaled))
	return nil
}

func (l SupplyLedger) loadPosition(addr common.Address) (*Position, error) {
	pos, err := l.state.GetPosition(l.asset, addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &Position{}
	}
	pos.ensureDefaults()
	return pos, nil
}

// DebtLedger tracks the scaled debt-claim balances of one reserve. Debt claims
// only mint on borrow and burn on repay or liquidation; Transfer always fails
// and there is no approval surface.
type DebtLedger struct {
	asset   string
	state   engineState
	emitter events.Emitter
}

// BalanceOf returns the account's scaled debt-claim balance.
func (l DebtLedger) BalanceOf(addr common.Address) (*big.Int, error) {
	pos, err := l.state.GetPosition(l.asset, addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return big.NewInt(0), nil
	}
	pos.ensureDefaults()
	return new(big.Int).Set(pos.DebtScaled), nil
}

// Mint records scaled debt against the account and grows the reserve's total.
func (l DebtLedger) Mint(reserve *Reserve, to common.Address, scaled *big.Int) error {
	if scaled == nil || scaled.Sign() <= 0 {
		return errClaimAmountZero
	}
	pos, err := l.loadPosition(to)
	if err != nil {
		return err
	}
	pos.DebtScaled = new(big.Int).Add(pos.DebtScaled, scaled)
	if err := l.state.PutPosition(l.asset, to, pos); err != nil {
		return err
	}
	reserve.TotalScaledDebt = new(big.Int).Add(reserve.TotalScaledDebt, scaled)
	l.emitter.Emit(NewMintEvent("debt", l.asset, to, scaled))
	return nil
}

// Burn clears scaled debt from the account and shrinks the reserve's total.
func (l DebtLedger) Burn(reserve *Reserve, from common.Address, scaled *big.Int) error {
	if scaled == nil || scaled.Sign() <= 0 {
		return errClaimAmountZero
	}
	pos, err := l.loadPosition(from)
	if err != nil {
		return err
	}
	if pos.DebtScaled.Cmp(scaled) < 0 {
		return errClaimBalanceTooLow
	}
	pos.DebtScaled = new(big.Int).Sub(pos.DebtScaled, scaled)
	if err := l.state.PutPosition(l.asset, from, pos); err != nil {
		return err
	}
	reserve.TotalScaledDebt = new(big.Int).Sub(reserve.TotalScaledDebt, scaled)
	l.emitter.Emit(NewBurnEvent("debt", l.asset, from, scaled))
	return nil
}

// Transfer always fails: debt obligations stay with the borrower.
func (l DebtLedger) Transfer(common.Address, common.Address, *big.Int) error {
	return errDebtTransferForbidden
}

func (l DebtLedger) loadPosition(addr common.Address) (*Position, error) {
	pos, err := l.state.GetPosition(l.asset, addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &Position{}
	}
	pos.ensureDefaults()
	return pos, nil
}
