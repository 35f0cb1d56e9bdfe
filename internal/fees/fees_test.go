package fees

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func big18(whole int64, frac int64) *big.Int {
	// whole units plus frac * 1e15 (milli-units), both in 18-decimal base units.
	out := new(big.Int).Mul(big.NewInt(whole), big.NewInt(1e18))
	return out.Add(out, new(big.Int).Mul(big.NewInt(frac), big.NewInt(1e15)))
}

func TestSplit_ReferenceScenario(t *testing.T) {
	// 1.0 native unit at entry=100bp, creator=50bp:
	// platform 0.01, creator 0.005, net 0.985.
	net, platform, creator, err := Split(big18(1, 0), 100, 50)
	require.NoError(t, err)

	assert.Equal(t, big18(0, 10), platform)
	assert.Equal(t, big18(0, 5), creator)
	assert.Equal(t, big18(0, 985), net)
}

func TestSplit_FloorRounding(t *testing.T) {
	// 10001 base units at 1bp: floor(10001/10000) = 1, dust stays with staker.
	net, platform, creator, err := Split(big.NewInt(10001), 1, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), platform.Int64())
	assert.Equal(t, int64(1), creator.Int64())
	assert.Equal(t, int64(9999), net.Int64())
}

func TestSplit_SubUnitStakeCollectsNoFee(t *testing.T) {
	// Stakes too small to produce a whole fee unit pay nothing.
	net, platform, creator, err := Split(big.NewInt(99), 100, 50)
	require.NoError(t, err)

	assert.Zero(t, platform.Sign())
	assert.Zero(t, creator.Sign())
	assert.Equal(t, int64(99), net.Int64())
}

func TestSplit_Exactness(t *testing.T) {
	cases := []struct {
		name                 string
		stake                int64
		entryBp, creatorBp   uint64
		net, platform, cFee  int64
	}{
		{"zero stake", 0, 100, 50, 0, 0, 0},
		{"zero rates", 5_000_000, 0, 0, 5_000_000, 0, 0},
		{"full entry fee", 777, 10_000, 0, 0, 777, 0},
		{"half and half", 1_000_000, 5_000, 5_000, 0, 500_000, 500_000},
		{"odd amounts", 12_345_678, 123, 45, 12_138_272, 151_851, 55_555},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			net, platform, cFee, err := Split(big.NewInt(tc.stake), tc.entryBp, tc.creatorBp)
			require.NoError(t, err)
			assert.Equal(t, tc.net, net.Int64())
			assert.Equal(t, tc.platform, platform.Int64())
			assert.Equal(t, tc.cFee, cFee.Int64())

			// Conservation: the three parts never exceed the gross stake.
			sum := new(big.Int).Add(net, platform)
			sum.Add(sum, cFee)
			assert.Equal(t, tc.stake, sum.Int64())
		})
	}
}

func TestSplit_RejectsInvalidInput(t *testing.T) {
	_, _, _, err := Split(big.NewInt(-1), 100, 50)
	assert.Error(t, err)

	_, _, _, err = Split(big.NewInt(100), 9_000, 1_001)
	assert.Error(t, err)

	_, _, _, err = Split(nil, 100, 50)
	assert.Error(t, err)
}
