package lending

import (
	"errors"
	"math/big"
	"testing"
)

// seedCrossAssetPosition deposits 1000 D as collateral for user1 and borrows
// 700 C against it, with user2 providing the C liquidity. Prices start at $1.
func seedCrossAssetPosition(t *testing.T, engine *Engine, state *mockEngineState, oracle *StaticOracle) {
	t.Helper()
	mustInitReserve(t, engine, oracle, assetD, new(big.Int).Set(wad))
	mustInitReserve(t, engine, oracle, assetC, new(big.Int).Set(wad))
	fund(t, state, assetD, user1, 1_000)
	fund(t, state, assetC, user2, 2_000)
	fund(t, state, assetC, liquidator, 1_000)

	if _, err := engine.Deposit(user1, assetD, big.NewInt(1_000), user1); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}
	if _, err := engine.Deposit(user2, assetC, big.NewInt(2_000), user2); err != nil {
		t.Fatalf("liquidity deposit: %v", err)
	}
	if err := engine.Borrow(user1, assetC, big.NewInt(700), user1); err != nil {
		t.Fatalf("borrow: %v", err)
	}
}

func setPriceWad(t *testing.T, oracle *StaticOracle, asset string, numerator, denominator int64) {
	t.Helper()
	price := new(big.Int).Mul(wad, big.NewInt(numerator))
	price.Quo(price, big.NewInt(denominator))
	if err := oracle.SetPrice(asset, price); err != nil {
		t.Fatalf("set price: %v", err)
	}
}

func TestLiquidateHealthyPositionRejected(t *testing.T) {
	engine, state, oracle, _, _ := newTestEngine(t)
	seedCrossAssetPosition(t, engine, state, oracle)

	if _, _, err := engine.Liquidate(liquidator, assetD, assetC, user1, big.NewInt(100)); !errors.Is(err, errHealthyPosition) {
		t.Fatalf("expected errHealthyPosition, got %v", err)
	}
}

func TestLiquidateSameAssetRejected(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t)
	if _, _, err := engine.Liquidate(liquidator, assetD, assetD, user1, big.NewInt(1)); !errors.Is(err, errSameAsset) {
		t.Fatalf("expected errSameAsset, got %v", err)
	}
}

func TestLiquidateHalvedCollateralPrice(t *testing.T) {
	engine, state, oracle, _, emitter := newTestEngine(t)
	seedCrossAssetPosition(t, engine, state, oracle)

	// Collateral drops to $0.50: weighted collateral 400 vs debt 700.
	setPriceWad(t, oracle, assetD, 1, 2)

	covered, seized, err := engine.Liquidate(liquidator, assetD, assetC, user1, big.NewInt(350))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if covered.Cmp(big.NewInt(350)) != 0 {
		t.Fatalf("expected 350 debt covered, got %s", covered)
	}
	// 350 USD of debt buys 700 D at $0.50, plus the 5% bonus: 735 D.
	if seized.Cmp(big.NewInt(735)) != 0 {
		t.Fatalf("expected 735 collateral seized, got %s", seized)
	}

	debtScaled, _ := engine.debtLedger(assetC).BalanceOf(user1)
	if debtScaled.Cmp(big.NewInt(350)) != 0 {
		t.Fatalf("expected remaining scaled debt 350, got %s", debtScaled)
	}
	borrowerSupply, _ := engine.supplyLedger(assetD).BalanceOf(user1)
	if borrowerSupply.Cmp(big.NewInt(265)) != 0 {
		t.Fatalf("expected borrower supply claim 265, got %s", borrowerSupply)
	}
	liquidatorSupply, _ := engine.supplyLedger(assetD).BalanceOf(liquidator)
	if liquidatorSupply.Cmp(big.NewInt(735)) != 0 {
		t.Fatalf("expected liquidator supply claim 735, got %s", liquidatorSupply)
	}
	if got := emitter.countByType(EventTypeLiquidation); got != 1 {
		t.Fatalf("expected one Liquidation event, got %d", got)
	}
	if got := emitter.countByType(EventTypeTransferOnLiquidation); got != 1 {
		t.Fatalf("expected one TransferOnLiquidation event, got %d", got)
	}
}

func TestLiquidateCloseFactorCapsCover(t *testing.T) {
	engine, state, oracle, _, _ := newTestEngine(t)
	seedCrossAssetPosition(t, engine, state, oracle)
	setPriceWad(t, oracle, assetD, 1, 2)

	// Asking for the whole debt still only covers half.
	covered, _, err := engine.Liquidate(liquidator, assetD, assetC, user1, MaxAmount())
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if covered.Cmp(big.NewInt(350)) != 0 {
		t.Fatalf("close factor should cap cover at 350, got %s", covered)
	}
}

func TestLiquidateClampsToAvailableCollateral(t *testing.T) {
	engine, state, oracle, _, _ := newTestEngine(t)
	seedCrossAssetPosition(t, engine, state, oracle)

	// A crash deep enough that half the debt would seize more collateral
	// than the borrower holds: at $0.20, covering 350 wants 1837 D.
	setPriceWad(t, oracle, assetD, 1, 5)

	covered, seized, err := engine.Liquidate(liquidator, assetD, assetC, user1, big.NewInt(350))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if seized.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("seizure should clamp to the 1000 D held, got %s", seized)
	}
	// The covered debt shrinks proportionally: 1000/1.05 D at $0.20 = 190.
	want := big.NewInt(190)
	if covered.Cmp(want) != 0 {
		t.Fatalf("expected proportional cover %s, got %s", want, covered)
	}
	borrowerSupply, _ := engine.supplyLedger(assetD).BalanceOf(user1)
	if borrowerSupply.Sign() != 0 {
		t.Fatalf("expected all collateral seized, got %s", borrowerSupply)
	}
}

func TestLiquidationImprovesMildlyUnderwaterPosition(t *testing.T) {
	engine, state, oracle, _, _ := newTestEngine(t)
	seedCrossAssetPosition(t, engine, state, oracle)

	// $0.80: weighted collateral 640 vs debt 700, and the raw collateral
	// value still exceeds the debt by more than the bonus, so liquidation
	// must not worsen the borrower's health factor.
	setPriceWad(t, oracle, assetD, 4, 5)

	before, err := engine.HealthFactor(user1)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if before.Cmp(wad) >= 0 {
		t.Fatalf("position should be unhealthy, hf=%s", before)
	}

	if _, _, err := engine.Liquidate(liquidator, assetD, assetC, user1, big.NewInt(350)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	after, err := engine.HealthFactor(user1)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if after.Cmp(before) < 0 {
		t.Fatalf("liquidation decreased health factor: %s -> %s", before, after)
	}
}

func TestLiquidateNoDebtRejected(t *testing.T) {
	engine, state, oracle, _, _ := newTestEngine(t)
	mustInitReserve(t, engine, oracle, assetD, new(big.Int).Set(wad))
	mustInitReserve(t, engine, oracle, assetC, new(big.Int).Set(wad))
	fund(t, state, assetD, user1, 100)
	if _, err := engine.Deposit(user1, assetD, big.NewInt(100), user1); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// No debt means the health factor saturates and liquidation is refused.
	if _, _, err := engine.Liquidate(liquidator, assetD, assetC, user1, big.NewInt(1)); !errors.Is(err, errHealthyPosition) {
		t.Fatalf("expected errHealthyPosition, got %v", err)
	}
}

func TestLiquidatorNeedsFunds(t *testing.T) {
	engine, state, oracle, _, _ := newTestEngine(t)
	seedCrossAssetPosition(t, engine, state, oracle)
	setPriceWad(t, oracle, assetD, 1, 2)

	broke := user2
	// user2 supplied all C into the pool, so its wallet cannot cover 350.
	if _, _, err := engine.Liquidate(broke, assetD, assetC, user1, big.NewInt(350)); !errors.Is(err, errInsufficientFunds) {
		t.Fatalf("expected errInsufficientFunds, got %v", err)
	}
}
