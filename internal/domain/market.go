package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Outcome is the settlement state of a market. The numeric values are part
// of the wire format and must not be reordered.
type Outcome uint8

const (
	OutcomeUnresolved Outcome = iota
	OutcomeUp
	OutcomeDown
)

// String returns the lowercase name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeUp:
		return "up"
	case OutcomeDown:
		return "down"
	default:
		return "unresolved"
	}
}

// Side is the side of a market a stake is placed on. Sides share numeric
// values with the corresponding terminal outcomes.
type Side uint8

const (
	SideUp   Side = Side(OutcomeUp)
	SideDown Side = Side(OutcomeDown)
)

// Valid reports whether s is one of the two stakeable sides.
func (s Side) Valid() bool {
	return s == SideUp || s == SideDown
}

// String returns the lowercase name of the side.
func (s Side) String() string {
	return Outcome(s).String()
}

// ParseSide converts the external representation (1=Up, 2=Down, or the
// textual names) into a Side.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "up":
		return SideUp, nil
	case "2", "down":
		return SideDown, nil
	default:
		return 0, fmt.Errorf("domain: invalid side %q", v)
	}
}

// AssetTag is the opaque fixed-width symbol tag attached to a market
// (e.g. "ETHUSDT"). The engine never interprets it.
type AssetTag [32]byte

// AssetTagFromString packs an ASCII symbol into an AssetTag. Symbols longer
// than 32 bytes are rejected.
func AssetTagFromString(s string) (AssetTag, error) {
	var tag AssetTag
	if len(s) > len(tag) {
		return tag, fmt.Errorf("domain: asset tag %q exceeds 32 bytes", s)
	}
	copy(tag[:], s)
	return tag, nil
}

// String returns the tag with trailing zero bytes trimmed.
func (t AssetTag) String() string {
	return strings.TrimRight(string(t[:]), "\x00")
}

// MarshalText serializes the tag as its trimmed string form.
func (t AssetTag) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses the trimmed string form back into a fixed-width tag.
func (t *AssetTag) UnmarshalText(b []byte) error {
	tag, err := AssetTagFromString(string(b))
	if err != nil {
		return err
	}
	*t = tag
	return nil
}

// Market is one binary-outcome wager: a creator, a reference price, a
// deadline, and two stake pools. Ids are dense and zero-based; records are
// never deleted.
type Market struct {
	ID                uint64         `json:"id"`
	Creator           common.Address `json:"creator"`
	Asset             AssetTag       `json:"asset"`
	ReferencePrice    uint64         `json:"reference_price"` // fixed-point, 8 decimals
	Question          string         `json:"question"`
	EndTime           uint64         `json:"end_time"` // unix seconds; stakes close, resolution opens
	Outcome           Outcome        `json:"outcome"`
	Resolved          bool           `json:"resolved"`
	TotalUp           *big.Int       `json:"total_up"` // net of fees
	TotalDown         *big.Int       `json:"total_down"` // net of fees
	CreatorCommission *big.Int       `json:"creator_commission"`
}

// NewMarket returns an unresolved market with zeroed pools and commission.
func NewMarket(id uint64, creator common.Address, asset AssetTag, referencePrice uint64, question string, endTime uint64) Market {
	return Market{
		ID:                id,
		Creator:           creator,
		Asset:             asset,
		ReferencePrice:    referencePrice,
		Question:          question,
		EndTime:           endTime,
		Outcome:           OutcomeUnresolved,
		TotalUp:           new(big.Int),
		TotalDown:         new(big.Int),
		CreatorCommission: new(big.Int),
	}
}

// Pool returns the stake pool for the given side.
func (m Market) Pool(s Side) *big.Int {
	if s == SideUp {
		return m.TotalUp
	}
	return m.TotalDown
}

// WinningPool returns the pool on the resolved side. Only meaningful once
// the market is resolved.
func (m Market) WinningPool() *big.Int {
	return m.Pool(Side(m.Outcome))
}

// LosingPool returns the pool opposite the resolved side.
func (m Market) LosingPool() *big.Int {
	if m.Outcome == OutcomeUp {
		return m.TotalDown
	}
	return m.TotalUp
}

// Clone returns a deep copy so callers cannot mutate ledger state through
// shared big.Int pointers.
func (m Market) Clone() Market {
	out := m
	out.TotalUp = new(big.Int).Set(m.TotalUp)
	out.TotalDown = new(big.Int).Set(m.TotalDown)
	out.CreatorCommission = new(big.Int).Set(m.CreatorCommission)
	return out
}

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// EngineParams are the read-only configuration constants of the engine,
// exposed to clients alongside the owner authority identity.
type EngineParams struct {
	EntryFeeBp   uint64
	CreatorFeeBp uint64
	MinStake     *big.Int
	Owner        common.Address
}
