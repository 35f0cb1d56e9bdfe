package engine

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/updown/internal/domain"
	"github.com/updownlabs/updown/internal/ledger"
)

var (
	owner   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	creator = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	carol   = common.HexToAddress("0x00000000000000000000000000000000000000c2")
)

const refPrice = uint64(200_000_000_000) // 2000.00000000

// fakeClock lets tests move the engine's view of time across the market
// deadline.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine   *Engine
	store    *ledger.MemoryStore
	journal  *ledger.MemoryJournal
	treasury *ledger.MemoryTreasury
	clock    *fakeClock
	endTime  uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := ledger.NewMemoryStore()
	journal := ledger.NewMemoryJournal()
	treasury := ledger.NewMemoryTreasury()

	eng, err := New(context.Background(), Config{
		EntryFeeBp:   100,
		CreatorFeeBp: 50,
		MinStake:     unit(0, 10), // 0.01
		Owner:        owner,
	}, Deps{
		Store:    store,
		Journal:  journal,
		Treasury: treasury,
		Clock:    clock.Now,
	}, slog.Default())
	require.NoError(t, err)

	return &fixture{
		engine:   eng,
		store:    store,
		journal:  journal,
		treasury: treasury,
		clock:    clock,
		endTime:  uint64(clock.Now().Unix()) + 3600,
	}
}

// unit builds whole*1e18 + milli*1e15 base units.
func unit(whole, milli int64) *big.Int {
	out := new(big.Int).Mul(big.NewInt(whole), big.NewInt(1e18))
	return out.Add(out, new(big.Int).Mul(big.NewInt(milli), big.NewInt(1e15)))
}

func (f *fixture) createMarket(t *testing.T) uint64 {
	t.Helper()
	asset, err := domain.AssetTagFromString("ETHUSDT")
	require.NoError(t, err)

	id, err := f.engine.CreateMarket(context.Background(), creator, asset, refPrice,
		"Will ETH be >= $2000 in 1h?", f.endTime)
	require.NoError(t, err)
	return id
}

func TestCreateMarket_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.createMarket(t)
	assert.Equal(t, uint64(0), id)

	m, err := f.engine.GetMarket(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, creator, m.Creator)
	assert.Equal(t, "ETHUSDT", m.Asset.String())
	assert.Equal(t, refPrice, m.ReferencePrice)
	assert.Equal(t, "Will ETH be >= $2000 in 1h?", m.Question)
	assert.Equal(t, f.endTime, m.EndTime)
	assert.Equal(t, domain.OutcomeUnresolved, m.Outcome)
	assert.False(t, m.Resolved)
	assert.Zero(t, m.TotalUp.Sign())
	assert.Zero(t, m.TotalDown.Sign())
	assert.Zero(t, m.CreatorCommission.Sign())
}

func TestCreateMarket_DenseIDs(t *testing.T) {
	f := newFixture(t)

	for want := uint64(0); want < 3; want++ {
		id := f.createMarket(t)
		assert.Equal(t, want, id)
	}

	count, err := f.engine.CountMarkets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestBuyShares_FeeAccounting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createMarket(t)

	net, err := f.engine.BuyShares(ctx, id, alice, domain.SideUp, unit(1, 0))
	require.NoError(t, err)
	assert.Equal(t, unit(0, 985), net)

	platform, err := f.engine.PlatformCommission(ctx)
	require.NoError(t, err)
	assert.Equal(t, unit(0, 10), platform)

	m, err := f.engine.GetMarket(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, unit(0, 5), m.CreatorCommission)
	assert.Equal(t, unit(0, 985), m.TotalUp)
	assert.Zero(t, m.TotalDown.Sign())

	pos, err := f.engine.GetUserInfo(ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, unit(0, 985), pos.UpStake)
	assert.Zero(t, pos.DownStake.Sign())
	assert.False(t, pos.HasClaimed)
}

func TestBuyShares_BothSidesAccumulate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createMarket(t)

	_, err := f.engine.BuyShares(ctx, id, alice, domain.SideUp, unit(1, 0))
	require.NoError(t, err)
	_, err = f.engine.BuyShares(ctx, id, alice, domain.SideDown, unit(2, 0))
	require.NoError(t, err)
	_, err = f.engine.BuyShares(ctx, id, alice, domain.SideUp, unit(1, 0))
	require.NoError(t, err)

	pos, err := f.engine.GetUserInfo(ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, unit(1, 970), pos.UpStake)
	assert.Equal(t, unit(1, 970), pos.DownStake)

	m, err := f.engine.GetMarket(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, unit(1, 970), m.TotalUp)
	assert.Equal(t, unit(1, 970), m.TotalDown)
}

func TestBuyShares_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createMarket(t)

	_, err := f.engine.BuyShares(ctx, 999, alice, domain.SideUp, unit(1, 0))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.engine.BuyShares(ctx, id, alice, domain.SideUp, unit(0, 1)) // 0.001 < 0.01
	assert.ErrorIs(t, err, domain.ErrBelowMinimum)

	_, err = f.engine.BuyShares(ctx, id, alice, domain.Side(7), unit(1, 0))
	assert.Error(t, err)

	f.clock.Advance(2 * time.Hour)
	_, err = f.engine.BuyShares(ctx, id, alice, domain.SideUp, unit(1, 0))
	assert.ErrorIs(t, err, domain.ErrMarketClosed)
}

func TestResolveMarket_OutcomeRule(t *testing.T) {
	cases := []struct {
		name       string
		finalPrice uint64
		want       domain.Outcome
	}{
		{"above reference", refPrice + 1, domain.OutcomeUp},
		{"below reference", refPrice - 1, domain.OutcomeDown},
		{"tie resolves up", refPrice, domain.OutcomeUp},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			id := f.createMarket(t)
			f.clock.Advance(2 * time.Hour)

			outcome, err := f.engine.ResolveMarket(ctx, owner, id, tc.finalPrice)
			require.NoError(t, err)
			assert.Equal(t, tc.want, outcome)

			m, err := f.engine.GetMarket(ctx, id)
			require.NoError(t, err)
			assert.True(t, m.Resolved)
			assert.Equal(t, tc.want, m.Outcome)
		})
	}
}

func TestResolveMarket_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createMarket(t)

	_, err := f.engine.ResolveMarket(ctx, alice, id, refPrice)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.engine.ResolveMarket(ctx, owner, 999, refPrice)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.engine.ResolveMarket(ctx, owner, id, refPrice)
	assert.ErrorIs(t, err, domain.ErrTooEarly)

	f.clock.Advance(2 * time.Hour)
	_, err = f.engine.ResolveMarket(ctx, owner, id, refPrice)
	require.NoError(t, err)

	_, err = f.engine.ResolveMarket(ctx, owner, id, refPrice)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
}

func TestClaim_ProRataPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createMarket(t)

	// Alice and Bob stake Up 1:3, Carol stakes Down.
	_, err := f.engine.BuyShares(ctx, id, alice, domain.SideUp, unit(1, 0))
	require.NoError(t, err)
	_, err = f.engine.BuyShares(ctx, id, bob, domain.SideUp, unit(3, 0))
	require.NoError(t, err)
	_, err = f.engine.BuyShares(ctx, id, carol, domain.SideDown, unit(2, 0))
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	_, err = f.engine.ResolveMarket(ctx, owner, id, refPrice+1)
	require.NoError(t, err)

	// Net stakes: alice 0.985, bob 2.955, carol(down) 1.970.
	// Alice: 0.985 + 0.985*1.970/3.940 = 0.985 + 0.4925 = 1.4775
	alicePayout, err := f.engine.Claim(ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Add(unit(1, 477), big.NewInt(5e14)), alicePayout)

	// Bob: 2.955 + 2.955*1.970/3.940 = 2.955 + 1.4775 = 4.4325
	bobPayout, err := f.engine.Claim(ctx, id, bob)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Add(unit(4, 432), big.NewInt(5e14)), bobPayout)

	bal, err := f.treasury.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, alicePayout, bal)
}

func TestClaim_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createMarket(t)

	_, err := f.engine.BuyShares(ctx, id, alice, domain.SideUp, unit(1, 0))
	require.NoError(t, err)
	_, err = f.engine.BuyShares(ctx, id, carol, domain.SideDown, unit(1, 0))
	require.NoError(t, err)

	_, err = f.engine.Claim(ctx, 999, alice)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.engine.Claim(ctx, id, alice)
	assert.ErrorIs(t, err, domain.ErrNotResolved)

	f.clock.Advance(2 * time.Hour)
	_, err = f.engine.ResolveMarket(ctx, owner, id, refPrice+1)
	require.NoError(t, err)

	// Carol staked the losing side only.
	_, err = f.engine.Claim(ctx, id, carol)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	// Bob never staked at all.
	_, err = f.engine.Claim(ctx, id, bob)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	_, err = f.engine.Claim(ctx, id, alice)
	require.NoError(t, err)
	_, err = f.engine.Claim(ctx, id, alice)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestClaim_EmptyWinningPoolRefundsLosers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createMarket(t)

	// Only Down stakes exist; the market resolves Up.
	_, err := f.engine.BuyShares(ctx, id, carol, domain.SideDown, unit(2, 0))
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	_, err = f.engine.ResolveMarket(ctx, owner, id, refPrice+1)
	require.NoError(t, err)

	refund, err := f.engine.Claim(ctx, id, carol)
	require.NoError(t, err)
	assert.Equal(t, unit(1, 970), refund)

	_, err = f.engine.Claim(ctx, id, carol)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestClaim_ConcurrentClaimsSettleOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createMarket(t)

	_, err := f.engine.BuyShares(ctx, id, alice, domain.SideUp, unit(1, 0))
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)
	_, err = f.engine.ResolveMarket(ctx, owner, id, refPrice)
	require.NoError(t, err)

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Claim(ctx, id, alice)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, latched int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
			latched++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, latched)

	// The single successful claim credited exactly one payout.
	bal, err := f.treasury.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, unit(0, 985), bal) // no opposing pool: own net stake back
}

func TestConservationLaw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createMarket(t)

	stakes := []struct {
		who    common.Address
		side   domain.Side
		amount *big.Int
	}{
		{alice, domain.SideUp, big.NewInt(1_234_567_890_123)},
		{bob, domain.SideUp, big.NewInt(987_654_321_987)},
		{carol, domain.SideDown, big.NewInt(555_555_555_555)},
		{alice, domain.SideDown, big.NewInt(111_111_111_111)},
	}

	gross := new(big.Int)
	for _, s := range stakes {
		_, err := f.engine.BuyShares(ctx, id, s.who, s.side, s.amount)
		require.NoError(t, err)
		gross.Add(gross, s.amount)
	}

	f.clock.Advance(2 * time.Hour)
	_, err := f.engine.ResolveMarket(ctx, owner, id, refPrice+5)
	require.NoError(t, err)

	total := new(big.Int)
	for _, who := range []common.Address{alice, bob, carol} {
		payout, err := f.engine.Claim(ctx, id, who)
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrNothingToClaim)
			continue
		}
		total.Add(total, payout)
	}

	platform, err := f.engine.WithdrawPlatformCommission(ctx, owner)
	require.NoError(t, err)
	total.Add(total, platform)

	creatorCut, err := f.engine.WithdrawCreatorCommission(ctx, creator, id)
	require.NoError(t, err)
	total.Add(total, creatorCut)

	// Payouts + commissions never exceed gross intake, and the dust from
	// floor division is bounded by one base unit per arithmetic step.
	assert.True(t, total.Cmp(gross) <= 0, "total %s exceeds gross %s", total, gross)

	dust := new(big.Int).Sub(gross, total)
	maxDust := big.NewInt(int64(len(stakes))*2 + 3) // 2 fee floors per stake + payout floors
	assert.True(t, dust.Cmp(maxDust) <= 0, "dust %s exceeds bound %s", dust, maxDust)
}

func TestCommissionWithdrawals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createMarket(t)

	_, err := f.engine.BuyShares(ctx, id, alice, domain.SideUp, unit(1, 0))
	require.NoError(t, err)

	_, err = f.engine.WithdrawPlatformCommission(ctx, alice)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	got, err := f.engine.WithdrawPlatformCommission(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, unit(0, 10), got)

	// Second withdrawal takes nothing.
	again, err := f.engine.WithdrawPlatformCommission(ctx, owner)
	require.NoError(t, err)
	assert.Zero(t, again.Sign())

	_, err = f.engine.WithdrawCreatorCommission(ctx, bob, id)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	cut, err := f.engine.WithdrawCreatorCommission(ctx, creator, id)
	require.NoError(t, err)
	assert.Equal(t, unit(0, 5), cut)

	cutAgain, err := f.engine.WithdrawCreatorCommission(ctx, creator, id)
	require.NoError(t, err)
	assert.Zero(t, cutAgain.Sign())

	bal, err := f.treasury.Balance(ctx, creator)
	require.NoError(t, err)
	assert.Equal(t, unit(0, 5), bal)
}

func TestEventLog_OrderedAndComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createMarket(t)

	_, err := f.engine.BuyShares(ctx, id, alice, domain.SideUp, unit(1, 0))
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)
	_, err = f.engine.ResolveMarket(ctx, owner, id, refPrice)
	require.NoError(t, err)
	_, err = f.engine.Claim(ctx, id, alice)
	require.NoError(t, err)

	events, err := f.engine.Events(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 4)

	wantTypes := []domain.EventType{
		domain.EventMarketCreated,
		domain.EventSharesPurchased,
		domain.EventMarketResolved,
		domain.EventPayoutClaimed,
	}
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, wantTypes[i], ev.Type)
		assert.NotEmpty(t, ev.ID)
	}

	// Pagination after a sequence point.
	tail, err := f.engine.Events(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, domain.EventMarketResolved, tail[0].Type)
}
