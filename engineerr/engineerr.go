// Package engineerr defines the structured failure taxonomy of spec.md §7.
// Every externally-triggered operation returns one of these sentinels (or an
// error that wraps one via errors.Is/errors.As); the engine never panics on
// user input. Only logic-bug assertions over internal bitmap/index
// consistency may panic, and those indicate slab corruption, not user error.
package engineerr

import "errors"

// Kind categorizes a failure for metrics/telemetry without parsing error
// strings.
type Kind string

const (
	KindValidation Kind = "validation"
	KindOracle     Kind = "oracle"
	KindMargin     Kind = "margin"
	KindLiveness   Kind = "liveness"
	KindMatcher    Kind = "matcher"
	KindAccounting Kind = "accounting"
)

// Error wraps a sentinel with its taxonomy Kind so callers can both
// errors.Is against the specific cause and branch on the broad category.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func wrap(kind Kind, err error) *Error { return &Error{Kind: kind, Err: err} }

// Validation errors.
var (
	ErrZeroAmount          = errors.New("amount must be positive")
	ErrInvalidLeverage     = errors.New("requested leverage exceeds configured maximum")
	ErrUnauthorizedAccount = errors.New("caller is not the account owner")
	ErrWrongAccountKind    = errors.New("operation not valid for this account kind")
	ErrAccountNotFound     = errors.New("account index does not reference a live account")
	ErrSlabFull            = errors.New("account array is at max_accounts capacity")
	ErrMarketAlreadyInit   = errors.New("market already initialised")
)

// Oracle errors.
var (
	ErrOracleStale             = errors.New("oracle price is older than max_staleness")
	ErrOracleDeviation         = errors.New("oracle confidence interval exceeds conf_filter_bps")
	ErrOraclePriceCapExceeded  = errors.New("pushed price exceeds the configured circuit-breaker cap")
	ErrOracleInvalidPrice      = errors.New("oracle price must be positive")
	ErrOracleUnauthorizedPush  = errors.New("caller is not the configured oracle authority")
	ErrExecutionPriceDeviation = errors.New("matcher execution price deviates from oracle price beyond bound")
)

// Margin errors.
var (
	ErrInsufficientMargin = errors.New("position would fall below the required margin")
	ErrNotLiquidatable    = errors.New("account equity is at or above the maintenance requirement")
	ErrPositionTooLarge   = errors.New("requested position exceeds configured size limits")
)

// Liveness errors.
var (
	ErrCrankStale       = errors.New("keeper crank has not run within max_crank_staleness_slots")
	ErrSweepStale       = errors.New("no full sweep has started within max_crank_staleness_slots")
	ErrRiskReductionOnly = errors.New("market is in risk-reduction mode; only de-risking operations are allowed")
	ErrWarmupPaused      = errors.New("warmup conversion is paused")
	ErrPnlNotWarmedUp    = errors.New("requested amount exceeds warmed (withdrawable) pnl")
	ErrInsuranceInsufficient = errors.New("insurance fund cannot cover the requested draw")
)

// Matcher errors.
var (
	ErrMatcherRejected       = errors.New("matcher returned an error or declined the trade")
	ErrInvalidExecutionSize  = errors.New("matcher execution size violates sign or bound constraints")
	ErrInvalidExecutionPrice = errors.New("matcher execution price is non-positive or exceeds the oracle price cap")
)

// Accounting errors.
var (
	ErrCheckedMath = errors.New("checked arithmetic overflow")
)

// Validation/* wrapper constructors. Each wraps a sentinel with its Kind so
// call sites can do engineerr.Validation(engineerr.ErrZeroAmount).
func Validation(err error) error { return wrap(KindValidation, err) }
func Oracle(err error) error     { return wrap(KindOracle, err) }
func Margin(err error) error     { return wrap(KindMargin, err) }
func Liveness(err error) error   { return wrap(KindLiveness, err) }
func Matcher(err error) error    { return wrap(KindMatcher, err) }
func Accounting(err error) error { return wrap(KindAccounting, err) }

// KindOf reports the taxonomy Kind of err if it (or something it wraps) is
// an *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
