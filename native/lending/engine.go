package lending

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lendora/core/events"
	nativecommon "lendora/native/common"
)

var (
	errNilState              = errors.New("lending engine: state not configured")
	errNilOracle             = errors.New("lending engine: oracle not configured")
	errInvalidAsset          = errors.New("lending engine: invalid asset identifier")
	errInvalidAddress        = errors.New("lending engine: invalid address")
	errInvalidAmount         = errors.New("lending engine: amount must be positive")
	errAmountTooSmall        = errors.New("lending engine: amount truncates to zero claim")
	errReserveNotActive      = errors.New("lending engine: reserve not active")
	errReserveExists         = errors.New("lending engine: reserve already initialized")
	errReserveFrozen         = errors.New("lending engine: reserve frozen")
	errTooManyReserves       = errors.New("lending engine: reserve list full")
	errPaused                = errors.New("lending engine: pool paused")
	errSameAsset             = errors.New("lending engine: collateral and debt asset identical")
	errUnauthorized          = errors.New("lending engine: caller lacks required role")
	errInvalidRiskParams     = errors.New("lending engine: invalid risk parameters")
	errRateModelMissing      = errors.New("lending engine: rate model not configured")
	errInsufficientFunds     = errors.New("lending engine: insufficient balance")
	errInsufficientLiquidity = errors.New("lending engine: insufficient liquidity")
	errHealthFactorTooLow    = errors.New("lending engine: health factor below 1")
	errHealthyPosition       = errors.New("lending engine: borrower not eligible for liquidation")
	errNoDebtToRepay         = errors.New("lending engine: no outstanding debt")
	errDelegationExceeded    = errors.New("lending engine: borrow exceeds credit delegation")
)

// closeFactorBps caps the share of a borrower's debt one liquidation call may
// cover.
const closeFactorBps = 5_000

const moduleName = "lending"

// engineState is the persistence contract the pool controller and its ledgers
// depend on. Get methods return (nil, nil) when a record is absent.
type engineState interface {
	GetReserve(asset string) (*Reserve, error)
	PutReserve(asset string, reserve *Reserve) error
	ReserveAssets() ([]string, error)
	SetReserveAssets(assets []string) error
	GetPosition(asset string, addr common.Address) (*Position, error)
	PutPosition(asset string, addr common.Address, pos *Position) error
	BalanceOf(asset string, addr common.Address) (*big.Int, error)
	SetBalance(asset string, addr common.Address, amount *big.Int) error
	Delegation(asset string, owner, delegate common.Address) (*big.Int, error)
	PutDelegation(asset string, owner, delegate common.Address, amount *big.Int) error
}

// Engine is the pool controller: the single entry point for every lending
// state transition. All operations take the caller explicitly, run under one
// mutex (the transactional-atomicity discipline of the source runtime), and
// either commit every effect or none.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	oracle  PriceOracle
	emitter events.Emitter
	models  map[string]RateModel
	admin   common.Address
	custody common.Address
	paused  bool
	pauses  nativecommon.PauseView
	nowFn   func() uint64
}

// NewEngine constructs a pool controller. The admin bootstraps the ADMIN role;
// custody is the module account holding the pool's underlying balances.
func NewEngine(admin, custody common.Address) *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		models:  make(map[string]RateModel),
		admin:   admin,
		custody: custody,
		nowFn:   func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetOracle wires the price oracle consulted by the account aggregator.
func (e *Engine) SetOracle(oracle PriceOracle) { e.oracle = oracle }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses installs an external pause view layered on top of the engine's own
// pause flag.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source. Primarily for tests needing
// deterministic accrual.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	e.nowFn = now
}

// AttachRateModel re-binds a rate model to an initialized reserve, e.g. when a
// daemon rebuilds its model registry after a restart.
func (e *Engine) AttachRateModel(asset string, model RateModel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if model == nil {
		delete(e.models, asset)
		return
	}
	e.models[asset] = model
}

// Custody returns the module account that holds pool liquidity.
func (e *Engine) Custody() common.Address { return e.custody }

// InitReserve creates the reserve for an asset. One-shot per asset; admin
// only.
func (e *Engine) InitReserve(caller common.Address, asset string, cfg ReserveConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	if caller != e.admin {
		return errUnauthorized
	}
	asset = strings.TrimSpace(asset)
	if asset == "" {
		return errInvalidAsset
	}
	if cfg.LTV > cfg.LiquidationThreshold || cfg.LiquidationThreshold > 10_000 {
		return errInvalidRiskParams
	}
	if cfg.LiquidationBonus >= 10_000 {
		return errInvalidRiskParams
	}
	if cfg.Model == nil {
		return errRateModelMissing
	}

	existing, err := e.state.GetReserve(asset)
	if err != nil {
		return err
	}
	if existing != nil {
		return errReserveExists
	}
	assets, err := e.state.ReserveAssets()
	if err != nil {
		return err
	}
	if len(assets) >= MaxReserves {
		return errTooManyReserves
	}

	liquidityRate, borrowRate := cfg.Model.CalculateInterestRates(big.NewInt(0), big.NewInt(0))
	reserve := &Reserve{
		Asset:                     asset,
		LiquidityIndex:            new(big.Int).Set(ray),
		VariableBorrowIndex:       new(big.Int).Set(ray),
		CurrentLiquidityRate:      liquidityRate,
		CurrentVariableBorrowRate: borrowRate,
		LastUpdateTimestamp:       e.nowFn(),
		LTV:                       cfg.LTV,
		LiquidationThreshold:      cfg.LiquidationThreshold,
		LiquidationBonus:          cfg.LiquidationBonus,
		TotalScaledSupply:         big.NewInt(0),
		TotalScaledDebt:           big.NewInt(0),
		Active:                    true,
	}
	if err := e.state.PutReserve(asset, reserve); err != nil {
		return err
	}
	if err := e.state.SetReserveAssets(append(assets, asset)); err != nil {
		return err
	}
	e.models[asset] = cfg.Model
	e.emitter.Emit(NewReserveInitializedEvent(asset))
	return nil
}

// Deposit pulls amount of the underlying from the caller into pool custody and
// mints the equivalent scaled supply claim to onBehalfOf. The minted scaled
// amount is returned.
func (e *Engine) Deposit(caller common.Address, asset string, amount *big.Int, onBehalfOf common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if onBehalfOf == zeroAddress {
		return nil, errInvalidAddress
	}
	if err := e.guardPaused(); err != nil {
		return nil, err
	}
	reserve, err := e.activeReserve(asset)
	if err != nil {
		return nil, err
	}
	if reserve.Frozen {
		return nil, errReserveFrozen
	}
	if err := e.updateState(asset, reserve); err != nil {
		return nil, err
	}

	scaled := scaledFromUnderlying(amount, reserve.LiquidityIndex)
	if scaled.Sign() == 0 {
		return nil, errAmountTooSmall
	}
	callerBal, err := e.balance(asset, caller)
	if err != nil {
		return nil, err
	}
	if callerBal.Cmp(amount) < 0 {
		return nil, errInsufficientFunds
	}

	if err := e.moveUnderlying(asset, caller, e.custody, amount); err != nil {
		return nil, err
	}
	if err := e.supplyLedger(asset).Mint(reserve, onBehalfOf, scaled); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(asset, reserve); err != nil {
		return nil, err
	}
	e.emitter.Emit(NewDepositEvent(onBehalfOf, asset, amount, scaled))
	return scaled, nil
}

// Withdraw burns supply claim from the caller and pushes the underlying to the
// to address. Passing the MAX sentinel withdraws the caller's full claim. The
// actual amount moved is returned.
func (e *Engine) Withdraw(caller common.Address, asset string, amount *big.Int, to common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if to == zeroAddress {
		return nil, errInvalidAddress
	}
	reserve, err := e.activeReserve(asset)
	if err != nil {
		return nil, err
	}
	if err := e.updateState(asset, reserve); err != nil {
		return nil, err
	}

	supply := e.supplyLedger(asset)
	userScaled, err := supply.BalanceOf(caller)
	if err != nil {
		return nil, err
	}
	userUnderlying := underlyingFromScaled(userScaled, reserve.LiquidityIndex)
	withdrawAll := amount.Cmp(maxUint256) == 0
	actual := new(big.Int).Set(userUnderlying)
	if !withdrawAll {
		actual = bigMin(amount, userUnderlying)
	}
	if actual.Sign() == 0 {
		return nil, errInsufficientFunds
	}

	cash, err := e.balance(asset, e.custody)
	if err != nil {
		return nil, err
	}
	if cash.Cmp(actual) < 0 {
		return nil, errInsufficientLiquidity
	}
	if err := e.checkWithdrawSolvency(caller, asset, reserve, actual); err != nil {
		return nil, err
	}

	burnScaled := scaledFromUnderlying(actual, reserve.LiquidityIndex)
	if withdrawAll || burnScaled.Cmp(userScaled) > 0 {
		burnScaled = userScaled
	}
	if burnScaled.Sign() == 0 {
		return nil, errAmountTooSmall
	}

	if err := supply.Burn(reserve, caller, burnScaled); err != nil {
		return nil, err
	}
	if err := e.moveUnderlying(asset, e.custody, to, actual); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(asset, reserve); err != nil {
		return nil, err
	}
	e.emitter.Emit(NewWithdrawEvent(caller, asset, actual))
	return actual, nil
}

// Borrow mints debt claim against onBehalfOf and pushes the underlying to the
// caller. Borrowing against another account requires a credit delegation from
// that account to the caller.
func (e *Engine) Borrow(caller common.Address, asset string, amount *big.Int, onBehalfOf common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	if onBehalfOf == zeroAddress {
		return errInvalidAddress
	}
	if err := e.guardPaused(); err != nil {
		return err
	}
	reserve, err := e.activeReserve(asset)
	if err != nil {
		return err
	}
	if reserve.Frozen {
		return errReserveFrozen
	}
	if err := e.updateState(asset, reserve); err != nil {
		return err
	}

	delegated := caller != onBehalfOf
	if delegated {
		allowance, err := e.state.Delegation(asset, onBehalfOf, caller)
		if err != nil {
			return err
		}
		if allowance == nil || allowance.Cmp(amount) < 0 {
			return errDelegationExceeded
		}
	}

	cash, err := e.balance(asset, e.custody)
	if err != nil {
		return err
	}
	if cash.Cmp(amount) < 0 {
		return errInsufficientLiquidity
	}

	data, err := e.aggregator().AccountData(onBehalfOf)
	if err != nil {
		return err
	}
	price, err := e.oracle.AssetPrice(asset)
	if err != nil {
		return err
	}
	projectedDebtUSD := new(big.Int).Add(data.DebtUSD, wadMul(amount, price))
	if healthFactor(data.CollateralUSD, projectedDebtUSD).Cmp(wad) < 0 {
		return errHealthFactorTooLow
	}

	scaled := scaledFromUnderlying(amount, reserve.VariableBorrowIndex)
	if scaled.Sign() == 0 {
		return errAmountTooSmall
	}

	if err := e.debtLedger(asset).Mint(reserve, onBehalfOf, scaled); err != nil {
		return err
	}
	if delegated {
		allowance, err := e.state.Delegation(asset, onBehalfOf, caller)
		if err != nil {
			return err
		}
		remaining := new(big.Int).Sub(allowance, amount)
		if err := e.state.PutDelegation(asset, onBehalfOf, caller, remaining); err != nil {
			return err
		}
	}
	if err := e.moveUnderlying(asset, e.custody, caller, amount); err != nil {
		return err
	}
	if err := e.state.PutReserve(asset, reserve); err != nil {
		return err
	}
	e.emitter.Emit(NewBorrowEvent(onBehalfOf, asset, amount))
	return nil
}

// Repay pulls the underlying from the caller and burns onBehalfOf's debt
// claim. Passing the MAX sentinel repays the full debt, never more. The actual
// amount repaid is returned. Repay stays available while the pool is paused.
func (e *Engine) Repay(caller common.Address, asset string, amount *big.Int, onBehalfOf common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if onBehalfOf == zeroAddress {
		return nil, errInvalidAddress
	}
	reserve, err := e.activeReserve(asset)
	if err != nil {
		return nil, err
	}
	if err := e.updateState(asset, reserve); err != nil {
		return nil, err
	}

	debt := e.debtLedger(asset)
	debtScaled, err := debt.BalanceOf(onBehalfOf)
	if err != nil {
		return nil, err
	}
	userDebt := underlyingFromScaled(debtScaled, reserve.VariableBorrowIndex)
	if userDebt.Sign() == 0 {
		return nil, errNoDebtToRepay
	}
	repayAll := amount.Cmp(maxUint256) == 0
	actual := new(big.Int).Set(userDebt)
	if !repayAll {
		actual = bigMin(amount, userDebt)
	}

	callerBal, err := e.balance(asset, caller)
	if err != nil {
		return nil, err
	}
	if callerBal.Cmp(actual) < 0 {
		return nil, errInsufficientFunds
	}

	burnScaled := scaledFromUnderlying(actual, reserve.VariableBorrowIndex)
	if repayAll || burnScaled.Cmp(debtScaled) > 0 {
		burnScaled = debtScaled
	}
	if burnScaled.Sign() == 0 {
		return nil, errAmountTooSmall
	}

	if err := e.moveUnderlying(asset, caller, e.custody, actual); err != nil {
		return nil, err
	}
	if err := debt.Burn(reserve, onBehalfOf, burnScaled); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(asset, reserve); err != nil {
		return nil, err
	}
	e.emitter.Emit(NewRepayEvent(onBehalfOf, asset, actual))
	return actual, nil
}

// Liquidate lets any account repay up to half of an unhealthy borrower's debt
// in debtAsset and seize discounted collateralAsset supply claim in exchange.
// When the borrower's collateral cannot cover the seizure, both legs shrink
// proportionally. The covered debt and seized collateral are returned.
func (e *Engine) Liquidate(caller common.Address, collateralAsset, debtAsset string, borrower common.Address, debtToCover *big.Int) (*big.Int, *big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	if collateralAsset == debtAsset {
		return nil, nil, errSameAsset
	}
	if err := validAmount(debtToCover); err != nil {
		return nil, nil, err
	}
	if err := e.guardPaused(); err != nil {
		return nil, nil, err
	}

	collateralReserve, err := e.activeReserve(collateralAsset)
	if err != nil {
		return nil, nil, err
	}
	debtReserve, err := e.activeReserve(debtAsset)
	if err != nil {
		return nil, nil, err
	}

	hf, err := e.aggregator().HealthFactor(borrower)
	if err != nil {
		return nil, nil, err
	}
	if hf.Cmp(wad) >= 0 {
		return nil, nil, errHealthyPosition
	}

	if err := e.updateState(collateralAsset, collateralReserve); err != nil {
		return nil, nil, err
	}
	if err := e.updateState(debtAsset, debtReserve); err != nil {
		return nil, nil, err
	}

	debt := e.debtLedger(debtAsset)
	debtScaled, err := debt.BalanceOf(borrower)
	if err != nil {
		return nil, nil, err
	}
	userDebt := underlyingFromScaled(debtScaled, debtReserve.VariableBorrowIndex)
	if userDebt.Sign() == 0 {
		return nil, nil, errNoDebtToRepay
	}

	maxCover := percentMul(userDebt, closeFactorBps)
	actualCover := bigMin(debtToCover, maxCover)
	if actualCover.Sign() == 0 {
		return nil, nil, errInvalidAmount
	}

	debtPrice, err := e.oracle.AssetPrice(debtAsset)
	if err != nil {
		return nil, nil, err
	}
	collateralPrice, err := e.oracle.AssetPrice(collateralAsset)
	if err != nil {
		return nil, nil, err
	}

	debtValueUSD := wadMul(actualCover, debtPrice)
	collateralUnits := wadDiv(debtValueUSD, collateralPrice)
	seize := percentMul(collateralUnits, 10_000+collateralReserve.LiquidationBonus)

	supply := e.supplyLedger(collateralAsset)
	borrowerScaled, err := supply.BalanceOf(borrower)
	if err != nil {
		return nil, nil, err
	}
	borrowerSupply := underlyingFromScaled(borrowerScaled, collateralReserve.LiquidityIndex)
	if seize.Cmp(borrowerSupply) > 0 {
		// Clamp to the borrower's collateral and shrink the covered debt in
		// the same proportion.
		seize = new(big.Int).Set(borrowerSupply)
		base := new(big.Int).Mul(seize, basisPoints)
		base.Quo(base, new(big.Int).SetUint64(10_000+collateralReserve.LiquidationBonus))
		actualCover = wadDiv(wadMul(base, collateralPrice), debtPrice)
	}
	if seize.Sign() == 0 || actualCover.Sign() == 0 {
		return nil, nil, errAmountTooSmall
	}

	liquidatorBal, err := e.balance(debtAsset, caller)
	if err != nil {
		return nil, nil, err
	}
	if liquidatorBal.Cmp(actualCover) < 0 {
		return nil, nil, errInsufficientFunds
	}

	burnScaled := scaledFromUnderlying(actualCover, debtReserve.VariableBorrowIndex)
	if burnScaled.Cmp(debtScaled) > 0 {
		burnScaled = debtScaled
	}
	seizeScaled := scaledFromUnderlying(seize, collateralReserve.LiquidityIndex)
	if seizeScaled.Cmp(borrowerScaled) > 0 {
		seizeScaled = borrowerScaled
	}
	if burnScaled.Sign() == 0 || seizeScaled.Sign() == 0 {
		return nil, nil, errAmountTooSmall
	}

	if err := e.moveUnderlying(debtAsset, caller, e.custody, actualCover); err != nil {
		return nil, nil, err
	}
	if err := debt.Burn(debtReserve, borrower, burnScaled); err != nil {
		return nil, nil, err
	}
	if err := supply.TransferOnLiquidation(borrower, caller, seizeScaled); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutReserve(debtAsset, debtReserve); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutReserve(collateralAsset, collateralReserve); err != nil {
		return nil, nil, err
	}
	e.emitter.Emit(NewLiquidationEvent(caller, borrower, collateralAsset, debtAsset, actualCover, seize))
	return actualCover, seize, nil
}

// ApproveDelegation lets the caller authorize a delegate to borrow asset
// against the caller's collateral, up to amount. A zero amount revokes.
func (e *Engine) ApproveDelegation(caller common.Address, asset string, delegate common.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	if delegate == zeroAddress {
		return errInvalidAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if _, err := e.activeReserve(asset); err != nil {
		return err
	}
	if err := e.state.PutDelegation(asset, caller, delegate, new(big.Int).Set(amount)); err != nil {
		return err
	}
	e.emitter.Emit(NewDelegationApprovedEvent(caller, delegate, asset, amount))
	return nil
}

// FreezeReserve blocks new deposits and borrows on the reserve. Withdrawals
// and repayments remain allowed. Admin only.
func (e *Engine) FreezeReserve(caller common.Address, asset string) error {
	return e.setFrozen(caller, asset, true)
}

// UnfreezeReserve reopens a frozen reserve. Admin only.
func (e *Engine) UnfreezeReserve(caller common.Address, asset string) error {
	return e.setFrozen(caller, asset, false)
}

func (e *Engine) setFrozen(caller common.Address, asset string, frozen bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	if caller != e.admin {
		return errUnauthorized
	}
	reserve, err := e.activeReserve(asset)
	if err != nil {
		return err
	}
	if reserve.Frozen == frozen {
		return nil
	}
	reserve.Frozen = frozen
	if err := e.state.PutReserve(asset, reserve); err != nil {
		return err
	}
	e.emitter.Emit(NewReserveFrozenEvent(asset, frozen))
	return nil
}

// Pause blocks deposits, borrows and liquidations. Repayments and withdrawals
// stay available so users can keep reducing risk. Admin only.
func (e *Engine) Pause(caller common.Address) error { return e.setPaused(caller, true) }

// Unpause reopens the pool. Admin only.
func (e *Engine) Unpause(caller common.Address) error { return e.setPaused(caller, false) }

func (e *Engine) setPaused(caller common.Address, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.admin {
		return errUnauthorized
	}
	if e.paused == paused {
		return nil
	}
	e.paused = paused
	e.emitter.Emit(NewPauseEvent(paused))
	return nil
}

// UserAccountData returns the aggregated cross-reserve view of the user.
func (e *Engine) UserAccountData(user common.Address) (AccountData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return AccountData{}, err
	}
	return e.aggregator().AccountData(user)
}

// HealthFactor returns the user's current health factor in wad.
func (e *Engine) HealthFactor(user common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.aggregator().HealthFactor(user)
}

// ReserveData returns a read-only snapshot of the reserve with indexes
// projected to now.
func (e *Engine) ReserveData(asset string) (ReserveSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ReserveSnapshot{}, errNilState
	}
	reserve, err := e.activeReserve(asset)
	if err != nil {
		return ReserveSnapshot{}, err
	}
	liquidityIndex, borrowIndex := projectIndexes(reserve, e.nowFn())
	cash, err := e.balance(asset, e.custody)
	if err != nil {
		return ReserveSnapshot{}, err
	}
	return ReserveSnapshot{
		Asset:                     asset,
		LiquidityIndex:            liquidityIndex,
		VariableBorrowIndex:       borrowIndex,
		CurrentLiquidityRate:      new(big.Int).Set(reserve.CurrentLiquidityRate),
		CurrentVariableBorrowRate: new(big.Int).Set(reserve.CurrentVariableBorrowRate),
		LastUpdateTimestamp:       reserve.LastUpdateTimestamp,
		LTV:                       reserve.LTV,
		LiquidationThreshold:      reserve.LiquidationThreshold,
		LiquidationBonus:          reserve.LiquidationBonus,
		TotalSupplyUnderlying:     underlyingFromScaled(reserve.TotalScaledSupply, liquidityIndex),
		TotalDebtUnderlying:       underlyingFromScaled(reserve.TotalScaledDebt, borrowIndex),
		AvailableCash:             cash,
		Frozen:                    reserve.Frozen,
	}, nil
}

// updateState compounds both indexes with the rates that were valid since the
// last update, then refreshes the rates from the reserve's model. Idempotent
// within the same timestamp.
func (e *Engine) updateState(asset string, reserve *Reserve) error {
	now := e.nowFn()
	if now <= reserve.LastUpdateTimestamp {
		return nil
	}
	dt := now - reserve.LastUpdateTimestamp

	reserve.LiquidityIndex = rayMul(reserve.LiquidityIndex, linearInterest(reserve.CurrentLiquidityRate, dt))
	reserve.VariableBorrowIndex = rayMul(reserve.VariableBorrowIndex, linearInterest(reserve.CurrentVariableBorrowRate, dt))

	totalDebt := underlyingFromScaled(reserve.TotalScaledDebt, reserve.VariableBorrowIndex)
	cash, err := e.balance(asset, e.custody)
	if err != nil {
		return err
	}
	totalLiquidity := new(big.Int).Add(cash, totalDebt)

	model, ok := e.models[asset]
	if !ok || model == nil {
		return fmt.Errorf("%w: %s", errRateModelMissing, asset)
	}
	liquidityRate, borrowRate := model.CalculateInterestRates(totalLiquidity, totalDebt)
	reserve.CurrentLiquidityRate = liquidityRate
	reserve.CurrentVariableBorrowRate = borrowRate
	reserve.LastUpdateTimestamp = now
	return nil
}

// checkWithdrawSolvency verifies the hypothetical health factor after removing
// the withdrawal's collateral value.
func (e *Engine) checkWithdrawSolvency(user common.Address, asset string, reserve *Reserve, amount *big.Int) error {
	data, err := e.aggregator().AccountData(user)
	if err != nil {
		return err
	}
	if data.DebtUSD.Sign() == 0 {
		return nil
	}
	price, err := e.oracle.AssetPrice(asset)
	if err != nil {
		return err
	}
	removedUSD := percentMul(wadMul(amount, price), reserve.LiquidationThreshold)
	remaining := new(big.Int).Sub(data.CollateralUSD, removedUSD)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	if healthFactor(remaining, data.DebtUSD).Cmp(wad) < 0 {
		return errHealthFactorTooLow
	}
	return nil
}

func (e *Engine) ready() error {
	if e.state == nil {
		return errNilState
	}
	if e.oracle == nil {
		return errNilOracle
	}
	return nil
}

func (e *Engine) guardPaused() error {
	if e.paused {
		return errPaused
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) activeReserve(asset string) (*Reserve, error) {
	asset = strings.TrimSpace(asset)
	if asset == "" {
		return nil, errInvalidAsset
	}
	reserve, err := e.state.GetReserve(asset)
	if err != nil {
		return nil, err
	}
	if reserve == nil || !reserve.Active {
		return nil, errReserveNotActive
	}
	reserve.ensureDefaults()
	return reserve, nil
}

func (e *Engine) aggregator() *Aggregator {
	return NewAggregator(e.state, e.oracle, e.nowFn)
}

func (e *Engine) supplyLedger(asset string) SupplyLedger {
	return SupplyLedger{asset: asset, state: e.state, emitter: e.emitter}
}

func (e *Engine) debtLedger(asset string) DebtLedger {
	return DebtLedger{asset: asset, state: e.state, emitter: e.emitter}
}

func (e *Engine) balance(asset string, addr common.Address) (*big.Int, error) {
	bal, err := e.state.BalanceOf(asset, addr)
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return big.NewInt(0), nil
	}
	return bal, nil
}

// moveUnderlying debits from and credits to atomically within the operation.
// The balance check runs before either write so a failed pull leaves both
// accounts untouched.
func (e *Engine) moveUnderlying(asset string, from, to common.Address, amount *big.Int) error {
	fromBal, err := e.balance(asset, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	toBal, err := e.balance(asset, to)
	if err != nil {
		return err
	}
	if err := e.state.SetBalance(asset, from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return e.state.SetBalance(asset, to, new(big.Int).Add(toBal, amount))
}

// validAmount rejects nil, non-positive and wider-than-256-bit amounts.
func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if amount.BitLen() > 256 {
		return errInvalidAmount
	}
	return nil
}
