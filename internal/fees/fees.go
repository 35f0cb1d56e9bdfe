// Package fees implements the three-way split of an incoming stake into
// net stake, platform fee, and creator fee. All arithmetic is integer with
// truncating division; the truncation dust stays with the staker, which is
// an observable part of the settlement format.
package fees

import (
	"fmt"
	"math/big"
)

// BpDenominator is the basis-point scale: rates are expressed out of 10000.
const BpDenominator = 10_000

var bpDenom = big.NewInt(BpDenominator)

// Split divides a non-negative stake into (net, platformFee, creatorFee):
//
//	platformFee = floor(stake * entryFeeBp / 10000)
//	creatorFee  = floor(stake * creatorFeeBp / 10000)
//	net         = stake - platformFee - creatorFee
//
// The rate sum must not exceed 10000 so net is never negative.
func Split(stake *big.Int, entryFeeBp, creatorFeeBp uint64) (net, platformFee, creatorFee *big.Int, err error) {
	if stake == nil || stake.Sign() < 0 {
		return nil, nil, nil, fmt.Errorf("fees: stake must be non-negative")
	}
	if entryFeeBp+creatorFeeBp > BpDenominator {
		return nil, nil, nil, fmt.Errorf("fees: rate sum %d exceeds %d bp", entryFeeBp+creatorFeeBp, BpDenominator)
	}

	platformFee = mulDivFloor(stake, entryFeeBp)
	creatorFee = mulDivFloor(stake, creatorFeeBp)

	net = new(big.Int).Sub(stake, platformFee)
	net.Sub(net, creatorFee)
	return net, platformFee, creatorFee, nil
}

// mulDivFloor computes floor(v * bp / 10000) without overflow.
func mulDivFloor(v *big.Int, bp uint64) *big.Int {
	out := new(big.Int).Mul(v, new(big.Int).SetUint64(bp))
	return out.Quo(out, bpDenom)
}
