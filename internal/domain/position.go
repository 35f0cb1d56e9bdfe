package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Position is a participant's net-of-fee stake on one market. A participant
// may hold both sides at once. HasClaimed is a latch: it flips to true on
// the first successful claim and never resets.
type Position struct {
	MarketID   uint64
	Account    common.Address
	UpStake    *big.Int
	DownStake  *big.Int
	HasClaimed bool
}

// NewPosition returns an empty position for (marketID, account).
func NewPosition(marketID uint64, account common.Address) Position {
	return Position{
		MarketID:  marketID,
		Account:   account,
		UpStake:   new(big.Int),
		DownStake: new(big.Int),
	}
}

// Stake returns the net stake held on the given side.
func (p Position) Stake(s Side) *big.Int {
	if s == SideUp {
		return p.UpStake
	}
	return p.DownStake
}

// Empty reports whether the position holds no stake on either side.
func (p Position) Empty() bool {
	return p.UpStake.Sign() == 0 && p.DownStake.Sign() == 0
}

// Clone returns a deep copy of the position.
func (p Position) Clone() Position {
	out := p
	out.UpStake = new(big.Int).Set(p.UpStake)
	out.DownStake = new(big.Int).Set(p.DownStake)
	return out
}
