package lending

import (
	"errors"

	nativecommon "lendora/native/common"
)

// ErrorKind buckets engine failures into the categories callers act on:
// transports pick status codes from the kind instead of matching sentinel
// errors.
type ErrorKind int

const (
	// ErrKindInternal covers storage faults and anything unclassified.
	ErrKindInternal ErrorKind = iota
	// ErrKindConfig covers inactive assets, double initialization and other
	// configuration faults.
	ErrKindConfig
	// ErrKindPolicy covers rejected inputs: zero amounts, frozen reserves,
	// pauses, role failures.
	ErrKindPolicy
	// ErrKindSolvency covers health-factor rejections on either side.
	ErrKindSolvency
	// ErrKindFunds covers insufficient balances and pool liquidity.
	ErrKindFunds
	// ErrKindOracle covers unresolvable prices.
	ErrKindOracle
)

// Classify maps an engine error to its failure category.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrKindInternal
	case errors.Is(err, errNilState),
		errors.Is(err, errNilOracle),
		errors.Is(err, errInvalidAsset),
		errors.Is(err, errInvalidAddress),
		errors.Is(err, errReserveNotActive),
		errors.Is(err, errReserveExists),
		errors.Is(err, errTooManyReserves),
		errors.Is(err, errRateModelMissing),
		errors.Is(err, errInvalidRiskParams):
		return ErrKindConfig
	case errors.Is(err, errInvalidAmount),
		errors.Is(err, errAmountTooSmall),
		errors.Is(err, errReserveFrozen),
		errors.Is(err, errPaused),
		errors.Is(err, errSameAsset),
		errors.Is(err, errUnauthorized),
		errors.Is(err, errDelegationExceeded),
		errors.Is(err, errClaimAmountZero),
		errors.Is(err, errDebtTransferForbidden),
		errors.Is(err, nativecommon.ErrModulePaused):
		return ErrKindPolicy
	case errors.Is(err, errHealthFactorTooLow),
		errors.Is(err, errHealthyPosition),
		errors.Is(err, errNoDebtToRepay):
		return ErrKindSolvency
	case errors.Is(err, errInsufficientFunds),
		errors.Is(err, errInsufficientLiquidity),
		errors.Is(err, errClaimBalanceTooLow):
		return ErrKindFunds
	case errors.Is(err, ErrPriceUnavailable):
		return ErrKindOracle
	}
	return ErrKindInternal
}
