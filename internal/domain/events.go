package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType identifies one kind of engine state transition.
type EventType string

const (
	EventMarketCreated       EventType = "market_created"
	EventSharesPurchased     EventType = "shares_purchased"
	EventMarketResolved      EventType = "market_resolved"
	EventPayoutClaimed       EventType = "payout_claimed"
	EventCommissionWithdrawn EventType = "commission_withdrawn"
)

// Event is one entry of the append-only notification log. Exactly one event
// is recorded per successful state mutation, in mutation order. Seq is a
// monotonic engine-wide sequence number starting at 1.
type Event struct {
	ID      string          `json:"id"` // UUID
	Seq     uint64          `json:"seq"`
	Type    EventType       `json:"type"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// MarketCreated carries the full initial record of a new market.
type MarketCreated struct {
	MarketID       uint64         `json:"market_id"`
	Creator        common.Address `json:"creator"`
	Asset          string         `json:"asset"`
	ReferencePrice uint64         `json:"reference_price"`
	Question       string         `json:"question"`
	EndTime        uint64         `json:"end_time"`
}

// SharesPurchased records one accepted stake, net of fees.
type SharesPurchased struct {
	MarketID uint64         `json:"market_id"`
	Account  common.Address `json:"account"`
	Side     Side           `json:"side"`
	NetStake string         `json:"net_stake"` // decimal base units
}

// MarketResolved records the single, irreversible settlement transition.
type MarketResolved struct {
	MarketID   uint64  `json:"market_id"`
	Outcome    Outcome `json:"outcome"`
	FinalPrice uint64  `json:"final_price"`
}

// PayoutClaimed records one successful claim.
type PayoutClaimed struct {
	MarketID uint64         `json:"market_id"`
	Account  common.Address `json:"account"`
	Payout   string         `json:"payout"` // decimal base units
}

// CommissionWithdrawn records a platform or creator commission withdrawal.
type CommissionWithdrawn struct {
	// MarketID is nil for platform commission withdrawals.
	MarketID *uint64        `json:"market_id,omitempty"`
	Account  common.Address `json:"account"`
	Amount   string         `json:"amount"` // decimal base units
}

// NewEvent builds an event envelope around a JSON-serializable payload.
func NewEvent(id string, seq uint64, typ EventType, at time.Time, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("domain: marshal %s payload: %w", typ, err)
	}
	return Event{ID: id, Seq: seq, Type: typ, At: at.UTC(), Payload: raw}, nil
}

// EventJournal is the durable, ordered notification log. Append is called
// inside the engine's serialized section; List serves readers.
type EventJournal interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, afterSeq uint64, limit int) ([]Event, error)
	LastSeq(ctx context.Context) (uint64, error)
}

// EventPublisher pushes committed events to external listeners. Publishing
// is best-effort and decoupled from ledger invariants.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e Event) error
}

// BigString formats a big.Int amount for event payloads; nil prints as "0".
func BigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
