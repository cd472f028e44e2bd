package lending

import (
	"errors"
	"math/big"
	"testing"

	"lendora/core/events"
)

func newLedgerFixture() (*mockEngineState, *Reserve, events.Emitter, *capturingEmitter) {
	state := newMockEngineState()
	reserve := &Reserve{Asset: assetD, Active: true}
	reserve.ensureDefaults()
	emitter := &capturingEmitter{}
	return state, reserve, emitter, emitter
}

func TestSupplyLedgerMintBurn(t *testing.T) {
	state, reserve, emitter, captured := newLedgerFixture()
	ledger := SupplyLedger{asset: assetD, state: state, emitter: emitter}

	if err := ledger.Mint(reserve, user1, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	bal, _ := ledger.BalanceOf(user1)
	if bal.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected 100, got %s", bal)
	}
	if reserve.TotalScaledSupply.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("total supply not tracked: %s", reserve.TotalScaledSupply)
	}

	if err := ledger.Burn(reserve, user1, big.NewInt(40)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	bal, _ = ledger.BalanceOf(user1)
	if bal.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("expected 60 after burn, got %s", bal)
	}
	if reserve.TotalScaledSupply.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("total supply not reduced: %s", reserve.TotalScaledSupply)
	}

	if err := ledger.Burn(reserve, user1, big.NewInt(100)); !errors.Is(err, errClaimBalanceTooLow) {
		t.Fatalf("expected errClaimBalanceTooLow, got %v", err)
	}
	if err := ledger.Mint(reserve, user1, big.NewInt(0)); !errors.Is(err, errClaimAmountZero) {
		t.Fatalf("expected errClaimAmountZero, got %v", err)
	}
	if got := captured.countByType(EventTypeMint); got != 1 {
		t.Fatalf("expected one Mint event, got %d", got)
	}
	if got := captured.countByType(EventTypeBurn); got != 1 {
		t.Fatalf("expected one Burn event, got %d", got)
	}
}

func TestSupplyLedgerTransferOnLiquidation(t *testing.T) {
	state, reserve, emitter, captured := newLedgerFixture()
	ledger := SupplyLedger{asset: assetD, state: state, emitter: emitter}

	if err := ledger.Mint(reserve, user1, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	totalBefore := new(big.Int).Set(reserve.TotalScaledSupply)

	if err := ledger.TransferOnLiquidation(user1, user2, big.NewInt(30)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	fromBal, _ := ledger.BalanceOf(user1)
	toBal, _ := ledger.BalanceOf(user2)
	if fromBal.Cmp(big.NewInt(70)) != 0 || toBal.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("transfer balances wrong: from %s to %s", fromBal, toBal)
	}
	if reserve.TotalScaledSupply.Cmp(totalBefore) != 0 {
		t.Fatalf("transfer changed the total supply")
	}
	if err := ledger.TransferOnLiquidation(user1, user2, big.NewInt(1_000)); !errors.Is(err, errClaimBalanceTooLow) {
		t.Fatalf("expected errClaimBalanceTooLow, got %v", err)
	}
	if got := captured.countByType(EventTypeTransferOnLiquidation); got != 1 {
		t.Fatalf("expected one transfer event, got %d", got)
	}
}

func TestDebtLedgerMintBurnOnly(t *testing.T) {
	state, reserve, emitter, _ := newLedgerFixture()
	ledger := DebtLedger{asset: assetD, state: state, emitter: emitter}

	if err := ledger.Mint(reserve, user1, big.NewInt(50)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if reserve.TotalScaledDebt.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("total debt not tracked: %s", reserve.TotalScaledDebt)
	}
	if err := ledger.Burn(reserve, user1, big.NewInt(50)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if reserve.TotalScaledDebt.Sign() != 0 {
		t.Fatalf("total debt not cleared: %s", reserve.TotalScaledDebt)
	}
	if err := ledger.Burn(reserve, user1, big.NewInt(1)); !errors.Is(err, errClaimBalanceTooLow) {
		t.Fatalf("expected errClaimBalanceTooLow, got %v", err)
	}
	if err := ledger.Transfer(user1, user2, big.NewInt(1)); !errors.Is(err, errDebtTransferForbidden) {
		t.Fatalf("expected errDebtTransferForbidden, got %v", err)
	}
}

func TestLedgersKeepSidesIndependent(t *testing.T) {
	state, reserve, emitter, _ := newLedgerFixture()
	supply := SupplyLedger{asset: assetD, state: state, emitter: emitter}
	debt := DebtLedger{asset: assetD, state: state, emitter: emitter}

	if err := supply.Mint(reserve, user1, big.NewInt(500)); err != nil {
		t.Fatalf("supply mint: %v", err)
	}
	if err := debt.Mint(reserve, user1, big.NewInt(200)); err != nil {
		t.Fatalf("debt mint: %v", err)
	}
	supplyBal, _ := supply.BalanceOf(user1)
	debtBal, _ := debt.BalanceOf(user1)
	if supplyBal.Cmp(big.NewInt(500)) != 0 || debtBal.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("sides interfered: supply %s debt %s", supplyBal, debtBal)
	}
}
