package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendora/native/lending"
	"lendora/storage"
)

const (
	keyReserveList = "lending/reserves"

	prefixReserve    = "lending/reserve/"
	prefixPosition   = "lending/position/"
	prefixBalance    = "balance/"
	prefixDelegation = "lending/delegation/"
	prefixGenesis    = "genesis/"
)

// Manager persists the lending module's records on a storage.Database. Every
// amount is round-tripped through uint256 on encode so values wider than the
// wire's 256-bit limit are rejected before they reach disk.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager wraps the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

type reserveRecord struct {
	Asset                     string `json:"asset"`
	LiquidityIndex            string `json:"liquidityIndex"`
	VariableBorrowIndex       string `json:"variableBorrowIndex"`
	CurrentLiquidityRate      string `json:"currentLiquidityRate"`
	CurrentVariableBorrowRate string `json:"currentVariableBorrowRate"`
	LastUpdateTimestamp       uint64 `json:"lastUpdateTimestamp"`
	LTV                       uint64 `json:"ltv"`
	LiquidationThreshold      uint64 `json:"liquidationThreshold"`
	LiquidationBonus          uint64 `json:"liquidationBonus"`
	TotalScaledSupply         string `json:"totalScaledSupply"`
	TotalScaledDebt           string `json:"totalScaledDebt"`
	Active                    bool   `json:"active"`
	Frozen                    bool   `json:"frozen"`
}

type positionRecord struct {
	SupplyScaled string `json:"supplyScaled"`
	DebtScaled   string `json:"debtScaled"`
}

type amountRecord struct {
	Amount string `json:"amount"`
}

// GetReserve implements the engine state contract; absent reserves return
// (nil, nil).
func (m *Manager) GetReserve(asset string) (*lending.Reserve, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.get(prefixReserve + asset)
	if err != nil || raw == nil {
		return nil, err
	}
	var rec reserveRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("state: decode reserve %s: %w", asset, err)
	}
	reserve := &lending.Reserve{
		Asset:                rec.Asset,
		LastUpdateTimestamp:  rec.LastUpdateTimestamp,
		LTV:                  rec.LTV,
		LiquidationThreshold: rec.LiquidationThreshold,
		LiquidationBonus:     rec.LiquidationBonus,
		Active:               rec.Active,
		Frozen:               rec.Frozen,
	}
	if reserve.LiquidityIndex, err = decodeAmount(rec.LiquidityIndex); err != nil {
		return nil, err
	}
	if reserve.VariableBorrowIndex, err = decodeAmount(rec.VariableBorrowIndex); err != nil {
		return nil, err
	}
	if reserve.CurrentLiquidityRate, err = decodeAmount(rec.CurrentLiquidityRate); err != nil {
		return nil, err
	}
	if reserve.CurrentVariableBorrowRate, err = decodeAmount(rec.CurrentVariableBorrowRate); err != nil {
		return nil, err
	}
	if reserve.TotalScaledSupply, err = decodeAmount(rec.TotalScaledSupply); err != nil {
		return nil, err
	}
	if reserve.TotalScaledDebt, err = decodeAmount(rec.TotalScaledDebt); err != nil {
		return nil, err
	}
	return reserve, nil
}

// PutReserve persists the reserve under its asset identifier.
func (m *Manager) PutReserve(asset string, reserve *lending.Reserve) error {
	if reserve == nil {
		return fmt.Errorf("state: nil reserve")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := reserveRecord{
		Asset:                reserve.Asset,
		LastUpdateTimestamp:  reserve.LastUpdateTimestamp,
		LTV:                  reserve.LTV,
		LiquidationThreshold: reserve.LiquidationThreshold,
		LiquidationBonus:     reserve.LiquidationBonus,
		Active:               reserve.Active,
		Frozen:               reserve.Frozen,
	}
	var err error
	if rec.LiquidityIndex, err = encodeAmount(reserve.LiquidityIndex); err != nil {
		return err
	}
	if rec.VariableBorrowIndex, err = encodeAmount(reserve.VariableBorrowIndex); err != nil {
		return err
	}
	if rec.CurrentLiquidityRate, err = encodeAmount(reserve.CurrentLiquidityRate); err != nil {
		return err
	}
	if rec.CurrentVariableBorrowRate, err = encodeAmount(reserve.CurrentVariableBorrowRate); err != nil {
		return err
	}
	if rec.TotalScaledSupply, err = encodeAmount(reserve.TotalScaledSupply); err != nil {
		return err
	}
	if rec.TotalScaledDebt, err = encodeAmount(reserve.TotalScaledDebt); err != nil {
		return err
	}
	return m.putJSON(prefixReserve+asset, rec)
}

// ReserveAssets returns the reserve list in insertion order.
func (m *Manager) ReserveAssets() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.get(keyReserveList)
	if err != nil || raw == nil {
		return nil, err
	}
	var assets []string
	if err := json.Unmarshal(raw, &assets); err != nil {
		return nil, fmt.Errorf("state: decode reserve list: %w", err)
	}
	return assets, nil
}

// SetReserveAssets replaces the reserve list.
func (m *Manager) SetReserveAssets(assets []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(keyReserveList, assets)
}

// GetPosition returns the scaled claim balances for (asset, addr); absent
// positions return (nil, nil).
func (m *Manager) GetPosition(asset string, addr common.Address) (*lending.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.get(prefixPosition + asset + "/" + addr.Hex())
	if err != nil || raw == nil {
		return nil, err
	}
	var rec positionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("state: decode position %s/%s: %w", asset, addr.Hex(), err)
	}
	pos := &lending.Position{}
	if pos.SupplyScaled, err = decodeAmount(rec.SupplyScaled); err != nil {
		return nil, err
	}
	if pos.DebtScaled, err = decodeAmount(rec.DebtScaled); err != nil {
		return nil, err
	}
	return pos, nil
}

// PutPosition persists the scaled claim balances for (asset, addr).
func (m *Manager) PutPosition(asset string, addr common.Address, pos *lending.Position) error {
	if pos == nil {
		return fmt.Errorf("state: nil position")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var rec positionRecord
	var err error
	if rec.SupplyScaled, err = encodeAmount(pos.SupplyScaled); err != nil {
		return err
	}
	if rec.DebtScaled, err = encodeAmount(pos.DebtScaled); err != nil {
		return err
	}
	return m.putJSON(prefixPosition+asset+"/"+addr.Hex(), rec)
}

// BalanceOf returns the account's underlying balance of asset.
func (m *Manager) BalanceOf(asset string, addr common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.get(prefixBalance + asset + "/" + addr.Hex())
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return big.NewInt(0), nil
	}
	var rec amountRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("state: decode balance %s/%s: %w", asset, addr.Hex(), err)
	}
	return decodeAmount(rec.Amount)
}

// SetBalance writes the account's underlying balance of asset.
func (m *Manager) SetBalance(asset string, addr common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	encoded, err := encodeAmount(amount)
	if err != nil {
		return err
	}
	return m.putJSON(prefixBalance+asset+"/"+addr.Hex(), amountRecord{Amount: encoded})
}

// Credit adds amount to the account's balance. Used by genesis funding and
// tests; the engine itself only moves existing balances.
func (m *Manager) Credit(asset string, addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: credit amount must be non-negative")
	}
	current, err := m.BalanceOf(asset, addr)
	if err != nil {
		return err
	}
	return m.SetBalance(asset, addr, new(big.Int).Add(current, amount))
}

// Delegation returns the remaining credit delegation from owner to delegate
// for asset; absent records return (nil, nil).
func (m *Manager) Delegation(asset string, owner, delegate common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.get(prefixDelegation + asset + "/" + owner.Hex() + "/" + delegate.Hex())
	if err != nil || raw == nil {
		return nil, err
	}
	var rec amountRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("state: decode delegation: %w", err)
	}
	return decodeAmount(rec.Amount)
}

// PutDelegation writes the remaining credit delegation from owner to delegate.
func (m *Manager) PutDelegation(asset string, owner, delegate common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	encoded, err := encodeAmount(amount)
	if err != nil {
		return err
	}
	return m.putJSON(prefixDelegation+asset+"/"+owner.Hex()+"/"+delegate.Hex(), amountRecord{Amount: encoded})
}

// MarkGenesisApplied records that the (asset, account) genesis funding ran and
// reports whether it had run before. Restarts rely on this to avoid
// double-funding.
func (m *Manager) MarkGenesisApplied(asset string, addr common.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := prefixGenesis + asset + "/" + addr.Hex()
	raw, err := m.get(key)
	if err != nil {
		return false, err
	}
	if raw != nil {
		return true, nil
	}
	return false, m.db.Put([]byte(key), []byte("1"))
}

func (m *Manager) get(key string) ([]byte, error) {
	raw, err := m.db.Get([]byte(key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	return raw, err
}

func (m *Manager) putJSON(key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return m.db.Put([]byte(key), encoded)
}

func encodeAmount(v *big.Int) (string, error) {
	if v == nil {
		return "0", nil
	}
	if v.Sign() < 0 {
		return "", fmt.Errorf("state: negative amount")
	}
	encoded, overflow := uint256.FromBig(v)
	if overflow {
		return "", fmt.Errorf("state: amount overflows 256 bits")
	}
	return encoded.Dec(), nil
}

func decodeAmount(v string) (*big.Int, error) {
	if v == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(v, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("state: malformed amount %q", v)
	}
	return parsed, nil
}
