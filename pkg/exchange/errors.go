package exchange

import "errors"

// Every operation either applies completely or returns one of these
// errors with no state change.
var (
	// Solution admission.
	ErrStaleEpoch           = errors.New("solution epoch is not the most recently closed epoch")
	ErrLengthMismatch       = errors.New("solution arrays must have equal length")
	ErrPricesUnordered      = errors.New("price token ids must be strictly increasing")
	ErrMissingFeeTokenPrice = errors.New("fee token price missing from solution")
	ErrZeroPrice            = errors.New("token price is zero")

	// Order state.
	ErrUnknownOrder       = errors.New("order does not exist")
	ErrOrderNotYetValid   = errors.New("order is not yet valid")
	ErrOrderNoLongerValid = errors.New("order is no longer valid")
	ErrOrderStillValid    = errors.New("order storage cannot be reclaimed yet")

	// Economic.
	ErrLimitPriceViolated   = errors.New("execution is worse than the order's limit price")
	ErrOversoldOrder        = errors.New("executed amount exceeds the order's remaining amount")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrConservationViolated = errors.New("token conservation does not hold")
	ErrObjectiveNotImproved = errors.New("solution does not improve the objective value")
	ErrAmountTooLarge       = errors.New("amount exceeds the settlement amount width")

	// Token registry.
	ErrTokenAlreadyRegistered = errors.New("token address already registered")
	ErrMaxTokensReached       = errors.New("token registry is full")
	ErrUnknownToken           = errors.New("token is not registered")

	// Balance ledger.
	ErrNotYetAuthorized = errors.New("withdraw request has not matured")
	ErrRecentlyCredited = errors.New("balance was credited by a solution that is still replaceable")

	// External custodian.
	ErrTransfer = errors.New("token custodian transfer failed")
)
