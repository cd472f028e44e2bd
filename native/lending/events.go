package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendora/core/types"
)

const (
	EventTypeDeposit               = "lending.deposit"
	EventTypeWithdraw              = "lending.withdraw"
	EventTypeBorrow                = "lending.borrow"
	EventTypeRepay                 = "lending.repay"
	EventTypeLiquidation           = "lending.liquidation"
	EventTypeReserveInitialized    = "lending.reserve.initialized"
	EventTypeReserveFrozen         = "lending.reserve.frozen"
	EventTypeReserveUnfrozen       = "lending.reserve.unfrozen"
	EventTypePaused                = "lending.paused"
	EventTypeUnpaused              = "lending.unpaused"
	EventTypeMint                  = "lending.claim.mint"
	EventTypeBurn                  = "lending.claim.burn"
	EventTypeTransferOnLiquidation = "lending.claim.transfer_on_liquidation"
	EventTypeDelegationApproved    = "lending.delegation.approved"
)

type poolEvent struct {
	evt *types.Event
}

func (e poolEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e poolEvent) Event() *types.Event { return e.evt }

func newPoolEvent(eventType string, attributes map[string]string) poolEvent {
	return poolEvent{evt: &types.Event{Type: eventType, Attributes: attributes}}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewDepositEvent returns the canonical payload for a completed deposit.
func NewDepositEvent(user common.Address, asset string, amount, claimMinted *big.Int) poolEvent {
	return newPoolEvent(EventTypeDeposit, map[string]string{
		"user":        user.Hex(),
		"asset":       asset,
		"amount":      formatAmount(amount),
		"claimMinted": formatAmount(claimMinted),
	})
}

// NewWithdrawEvent returns the canonical payload for a completed withdrawal.
func NewWithdrawEvent(user common.Address, asset string, amount *big.Int) poolEvent {
	return newPoolEvent(EventTypeWithdraw, map[string]string{
		"user":   user.Hex(),
		"asset":  asset,
		"amount": formatAmount(amount),
	})
}

// NewBorrowEvent returns the canonical payload for a completed borrow.
func NewBorrowEvent(user common.Address, asset string, amount *big.Int) poolEvent {
	return newPoolEvent(EventTypeBorrow, map[string]string{
		"user":   user.Hex(),
		"asset":  asset,
		"amount": formatAmount(amount),
	})
}

// NewRepayEvent returns the canonical payload for a completed repayment.
func NewRepayEvent(user common.Address, asset string, amount *big.Int) poolEvent {
	return newPoolEvent(EventTypeRepay, map[string]string{
		"user":   user.Hex(),
		"asset":  asset,
		"amount": formatAmount(amount),
	})
}

// NewLiquidationEvent returns the canonical payload for a completed
// liquidation.
func NewLiquidationEvent(liquidator, borrower common.Address, collateralAsset, debtAsset string, debtCovered, collateralSeized *big.Int) poolEvent {
	return newPoolEvent(EventTypeLiquidation, map[string]string{
		"liquidator":       liquidator.Hex(),
		"borrower":         borrower.Hex(),
		"collateralAsset":  collateralAsset,
		"debtAsset":        debtAsset,
		"debtCovered":      formatAmount(debtCovered),
		"collateralSeized": formatAmount(collateralSeized),
	})
}

// NewReserveInitializedEvent returns the canonical payload for a reserve
// initialization.
func NewReserveInitializedEvent(asset string) poolEvent {
	return newPoolEvent(EventTypeReserveInitialized, map[string]string{
		"asset":       asset,
		"supplyClaim": "supply:" + asset,
		"debtClaim":   "debt:" + asset,
	})
}

// NewReserveFrozenEvent returns the payload emitted when a reserve is frozen
// or unfrozen.
func NewReserveFrozenEvent(asset string, frozen bool) poolEvent {
	eventType := EventTypeReserveFrozen
	if !frozen {
		eventType = EventTypeReserveUnfrozen
	}
	return newPoolEvent(eventType, map[string]string{"asset": asset})
}

// NewPauseEvent returns the payload emitted when the controller pause flag
// flips.
func NewPauseEvent(paused bool) poolEvent {
	eventType := EventTypePaused
	if !paused {
		eventType = EventTypeUnpaused
	}
	return newPoolEvent(eventType, map[string]string{})
}

// NewMintEvent returns the claim-ledger payload for minted scaled balance.
func NewMintEvent(ledger, asset string, to common.Address, scaled *big.Int) poolEvent {
	return newPoolEvent(EventTypeMint, map[string]string{
		"ledger": ledger,
		"asset":  asset,
		"to":     to.Hex(),
		"scaled": formatAmount(scaled),
	})
}

// NewBurnEvent returns the claim-ledger payload for burned scaled balance.
func NewBurnEvent(ledger, asset string, from common.Address, scaled *big.Int) poolEvent {
	return newPoolEvent(EventTypeBurn, map[string]string{
		"ledger": ledger,
		"asset":  asset,
		"from":   from.Hex(),
		"scaled": formatAmount(scaled),
	})
}

// NewTransferOnLiquidationEvent returns the supply-ledger payload for
// collateral moved from borrower to liquidator.
func NewTransferOnLiquidationEvent(asset string, from, to common.Address, scaled *big.Int) poolEvent {
	return newPoolEvent(EventTypeTransferOnLiquidation, map[string]string{
		"asset":  asset,
		"from":   from.Hex(),
		"to":     to.Hex(),
		"scaled": formatAmount(scaled),
	})
}

// NewDelegationApprovedEvent returns the payload for a credit delegation
// approval.
func NewDelegationApprovedEvent(owner, delegate common.Address, asset string, amount *big.Int) poolEvent {
	return newPoolEvent(EventTypeDelegationApproved, map[string]string{
		"owner":    owner.Hex(),
		"delegate": delegate.Hex(),
		"asset":    asset,
		"amount":   formatAmount(amount),
	})
}
