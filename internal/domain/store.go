package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// StakeDelta is the full effect of one accepted stake: pool and position
// increments plus both commission accruals. A store must apply all fields
// atomically or not at all.
type StakeDelta struct {
	MarketID    uint64
	Account     common.Address
	Side        Side
	NetStake    *big.Int
	PlatformFee *big.Int
	CreatorFee  *big.Int
}

// LedgerStore is the durable mapping of market ids to Market records,
// (market, participant) pairs to Position records, and the global platform
// commission accrual. Implementations must make each method atomic; the
// engine additionally serializes all mutating calls behind a single lock,
// so methods never race with each other.
type LedgerStore interface {
	// InsertMarket appends a market and returns its assigned id. Ids are
	// dense and zero-based in insertion order.
	InsertMarket(ctx context.Context, m Market) (uint64, error)

	// GetMarket returns ErrNotFound for an unknown id.
	GetMarket(ctx context.Context, id uint64) (Market, error)
	ListMarkets(ctx context.Context, opts ListOpts) ([]Market, error)
	CountMarkets(ctx context.Context) (int64, error)

	// GetPosition returns the position for (marketID, account), or an empty
	// position if the participant never staked. Unknown markets return
	// ErrNotFound.
	GetPosition(ctx context.Context, marketID uint64, account common.Address) (Position, error)

	// ApplyStake credits the pools, the position, and both commission
	// accruals in one atomic step.
	ApplyStake(ctx context.Context, d StakeDelta) error

	// MarkResolved sets outcome and resolved together, exactly once.
	MarkResolved(ctx context.Context, id uint64, outcome Outcome) error

	// MarkClaimed latches HasClaimed for (marketID, account).
	MarkClaimed(ctx context.Context, id uint64, account common.Address) error

	// PlatformCommission reads the global accrual.
	PlatformCommission(ctx context.Context) (*big.Int, error)

	// TakePlatformCommission atomically zeroes the global accrual and
	// returns the amount taken (possibly zero).
	TakePlatformCommission(ctx context.Context) (*big.Int, error)

	// TakeCreatorCommission atomically zeroes a market's creator accrual
	// and returns the amount taken (possibly zero).
	TakeCreatorCommission(ctx context.Context, id uint64) (*big.Int, error)
}

// Treasury is the value-transfer boundary. Payouts and withdrawn
// commissions are credited to participant balances; cashing out a balance
// is outside the engine. Credit must only be called after the ledger
// mutation that authorizes it has committed.
type Treasury interface {
	Credit(ctx context.Context, to common.Address, amount *big.Int) error
	Balance(ctx context.Context, of common.Address) (*big.Int, error)
}

// MarketCache provides fast market lookups in front of the ledger store.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id uint64) (Market, error)
	Invalidate(ctx context.Context, id uint64) error
}

// RateLimiter provides distributed request rate limiting for the API.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage is a single entry read back from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out and durable streams for engine events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
