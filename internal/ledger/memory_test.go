package ledger

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/updown/internal/domain"
)

var (
	someCreator = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	someAccount = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func newMarket(t *testing.T) domain.Market {
	t.Helper()
	asset, err := domain.AssetTagFromString("BTCUSDT")
	require.NoError(t, err)
	return domain.NewMarket(0, someCreator, asset, 9_000_000_000_000, "BTC >= 90k?", 1_700_003_600)
}

func TestMemoryStore_DenseIDs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for want := uint64(0); want < 5; want++ {
		id, err := s.InsertMarket(ctx, newMarket(t))
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}

	count, err := s.CountMarkets(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	_, err = s.GetMarket(ctx, 5)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_ListPagination(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := s.InsertMarket(ctx, newMarket(t))
		require.NoError(t, err)
	}

	page, err := s.ListMarkets(ctx, domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(1), page[0].ID)
	assert.Equal(t, uint64(2), page[1].ID)

	tail, err := s.ListMarkets(ctx, domain.ListOpts{Limit: 10, Offset: 3})
	require.NoError(t, err)
	assert.Len(t, tail, 1)

	empty, err := s.ListMarkets(ctx, domain.ListOpts{Offset: 99})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStore_ApplyStakeAtomicEffects(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, err := s.InsertMarket(ctx, newMarket(t))
	require.NoError(t, err)

	err = s.ApplyStake(ctx, domain.StakeDelta{
		MarketID:    id,
		Account:     someAccount,
		Side:        domain.SideDown,
		NetStake:    big.NewInt(985),
		PlatformFee: big.NewInt(10),
		CreatorFee:  big.NewInt(5),
	})
	require.NoError(t, err)

	m, err := s.GetMarket(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(985), m.TotalDown.Int64())
	assert.Zero(t, m.TotalUp.Sign())
	assert.Equal(t, int64(5), m.CreatorCommission.Int64())

	platform, err := s.PlatformCommission(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), platform.Int64())

	pos, err := s.GetPosition(ctx, id, someAccount)
	require.NoError(t, err)
	assert.Equal(t, int64(985), pos.DownStake.Int64())

	err = s.ApplyStake(ctx, domain.StakeDelta{
		MarketID: 42, Account: someAccount, Side: domain.SideUp,
		NetStake: big.NewInt(1), PlatformFee: big.NewInt(0), CreatorFee: big.NewInt(0),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_ReadsAreCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, err := s.InsertMarket(ctx, newMarket(t))
	require.NoError(t, err)

	m, err := s.GetMarket(ctx, id)
	require.NoError(t, err)
	m.TotalUp.SetInt64(1_000_000) // must not leak into the store

	fresh, err := s.GetMarket(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, fresh.TotalUp.Sign())
}

func TestMemoryStore_CommissionTakeZeroes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, err := s.InsertMarket(ctx, newMarket(t))
	require.NoError(t, err)

	err = s.ApplyStake(ctx, domain.StakeDelta{
		MarketID: id, Account: someAccount, Side: domain.SideUp,
		NetStake: big.NewInt(985), PlatformFee: big.NewInt(10), CreatorFee: big.NewInt(5),
	})
	require.NoError(t, err)

	got, err := s.TakePlatformCommission(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Int64())

	left, err := s.PlatformCommission(ctx)
	require.NoError(t, err)
	assert.Zero(t, left.Sign())

	cut, err := s.TakeCreatorCommission(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cut.Int64())

	m, err := s.GetMarket(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, m.CreatorCommission.Sign())
}

func TestMemoryStore_ClaimLatch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, err := s.InsertMarket(ctx, newMarket(t))
	require.NoError(t, err)

	require.NoError(t, s.MarkClaimed(ctx, id, someAccount))

	pos, err := s.GetPosition(ctx, id, someAccount)
	require.NoError(t, err)
	assert.True(t, pos.HasClaimed)
}

func TestMemoryTreasury_CreditAndBalance(t *testing.T) {
	tr := NewMemoryTreasury()
	ctx := context.Background()

	bal, err := tr.Balance(ctx, someAccount)
	require.NoError(t, err)
	assert.Zero(t, bal.Sign())

	require.NoError(t, tr.Credit(ctx, someAccount, big.NewInt(100)))
	require.NoError(t, tr.Credit(ctx, someAccount, big.NewInt(50)))

	bal, err = tr.Balance(ctx, someAccount)
	require.NoError(t, err)
	assert.Equal(t, int64(150), bal.Int64())

	assert.Error(t, tr.Credit(ctx, someAccount, big.NewInt(-1)))
}

func TestMemoryJournal_OrderAndPaging(t *testing.T) {
	j := NewMemoryJournal()
	ctx := context.Background()

	for seq := uint64(1); seq <= 5; seq++ {
		ev, err := domain.NewEvent("id", seq, domain.EventMarketCreated, timeRef(), map[string]uint64{"market_id": seq - 1})
		require.NoError(t, err)
		require.NoError(t, j.Append(ctx, ev))
	}

	last, err := j.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), last)

	page, err := j.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(3), page[0].Seq)
	assert.Equal(t, uint64(4), page[1].Seq)
}

func timeRef() time.Time {
	return time.Unix(1_700_000_000, 0)
}
