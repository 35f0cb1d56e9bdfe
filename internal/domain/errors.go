package domain

import "errors"

// Sentinel errors for every rejection the engine can produce. All are
// synchronous, locally-detected failures that abort the whole operation
// with zero state change.
var (
	ErrNotFound        = errors.New("market does not exist")
	ErrBelowMinimum    = errors.New("bet below minimum stake")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrMarketClosed    = errors.New("market closed for staking")
	ErrAlreadyResolved = errors.New("market already resolved")
	ErrTooEarly        = errors.New("market not past end time")
	ErrNotResolved     = errors.New("market not resolved")
	ErrAlreadyClaimed  = errors.New("already claimed")
	ErrNothingToClaim  = errors.New("nothing to claim")
)
