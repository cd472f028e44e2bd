package lending

import (
	"errors"
	"math/big"
	"testing"
)

func TestOracleServesConfiguredPrice(t *testing.T) {
	oracle := NewStaticOracle(nil)
	if err := oracle.SetPrice("NHB", big.NewInt(42)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	price, err := oracle.AssetPrice("NHB")
	if err != nil {
		t.Fatalf("asset price: %v", err)
	}
	if price.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("expected 42, got %s", price)
	}
	// Mutating the returned value must not affect the stored price.
	price.SetInt64(0)
	again, _ := oracle.AssetPrice("NHB")
	if again.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("stored price mutated through returned value")
	}
}

func TestOracleRejectsNonPositivePrices(t *testing.T) {
	oracle := NewStaticOracle(nil)
	if err := oracle.SetPrice("NHB", big.NewInt(0)); err == nil {
		t.Fatalf("zero price accepted")
	}
	if err := oracle.SetPrice("NHB", big.NewInt(-5)); err == nil {
		t.Fatalf("negative price accepted")
	}
	if err := oracle.SetPrice("", big.NewInt(1)); err == nil {
		t.Fatalf("empty asset accepted")
	}
}

func TestOracleMissingPriceFails(t *testing.T) {
	oracle := NewStaticOracle(nil)
	if _, err := oracle.AssetPrice("GHOST"); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestOracleFallbackSingleHop(t *testing.T) {
	fallback := NewStaticOracle(nil)
	if err := fallback.SetPrice("NHB", big.NewInt(7)); err != nil {
		t.Fatalf("set fallback price: %v", err)
	}
	oracle := NewStaticOracle(fallback)

	price, err := oracle.AssetPrice("NHB")
	if err != nil {
		t.Fatalf("fallback lookup: %v", err)
	}
	if price.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("expected fallback price 7, got %s", price)
	}

	// A local price shadows the fallback.
	if err := oracle.SetPrice("NHB", big.NewInt(9)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	price, _ = oracle.AssetPrice("NHB")
	if price.Cmp(big.NewInt(9)) != 0 {
		t.Fatalf("expected local price 9, got %s", price)
	}

	// Missing everywhere still fails after the single hop.
	if _, err := oracle.AssetPrice("GHOST"); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable through fallback, got %v", err)
	}
}

func TestOracleFallbackChainCutAfterOneHop(t *testing.T) {
	grandparent := NewStaticOracle(nil)
	if err := grandparent.SetPrice("NHB", big.NewInt(3)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	parent := NewStaticOracle(grandparent)
	oracle := NewStaticOracle(parent)

	// The price two hops away must not resolve.
	if _, err := oracle.AssetPrice("NHB"); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected the chain cut after one hop, got %v", err)
	}
	// But the parent itself can still reach it directly.
	price, err := parent.AssetPrice("NHB")
	if err != nil {
		t.Fatalf("parent lookup: %v", err)
	}
	if price.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("expected 3, got %s", price)
	}
}
