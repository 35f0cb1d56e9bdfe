// Package engine implements the settlement engine: market creation, stake
// intake with fee accounting, outcome resolution, and pro-rata payout. The
// engine is a single-writer state machine; every mutating operation runs
// under one lock and either commits fully or leaves no trace.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/updownlabs/updown/internal/domain"
	"github.com/updownlabs/updown/internal/fees"
)

// Config holds the engine's fixed settlement constants and the platform
// owner authority, checked on every privileged call.
type Config struct {
	EntryFeeBp   uint64
	CreatorFeeBp uint64
	MinStake     *big.Int
	Owner        common.Address
}

// Validate checks the settlement constants.
func (c Config) Validate() error {
	if c.EntryFeeBp+c.CreatorFeeBp > fees.BpDenominator {
		return fmt.Errorf("engine: fee rates sum to %d bp, max %d", c.EntryFeeBp+c.CreatorFeeBp, fees.BpDenominator)
	}
	if c.MinStake == nil || c.MinStake.Sign() < 0 {
		return fmt.Errorf("engine: min stake must be non-negative")
	}
	if c.Owner == (common.Address{}) {
		return fmt.Errorf("engine: owner address must be set")
	}
	return nil
}

// Deps bundles the engine's collaborators. Store, Journal, and Treasury are
// required; Publisher and Cache are optional and best-effort. Clock
// defaults to time.Now and exists for deterministic tests.
type Deps struct {
	Store     domain.LedgerStore
	Journal   domain.EventJournal
	Treasury  domain.Treasury
	Publisher domain.EventPublisher
	Cache     domain.MarketCache
	Clock     func() time.Time
}

// Engine is the serialized settlement state machine.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	store     domain.LedgerStore
	journal   domain.EventJournal
	treasury  domain.Treasury
	publisher domain.EventPublisher
	cache     domain.MarketCache
	now       func() time.Time
	seq       uint64 // last issued event sequence number, guarded by mu
	logger    *slog.Logger
}

// New creates an Engine and recovers the event sequence counter from the
// journal so restarts keep the notification log monotonic.
func New(ctx context.Context, cfg Config, deps Deps, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Journal == nil || deps.Treasury == nil {
		return nil, fmt.Errorf("engine: store, journal, and treasury are required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	seq, err := deps.Journal.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: recover event sequence: %w", err)
	}

	return &Engine{
		cfg:       cfg,
		store:     deps.Store,
		journal:   deps.Journal,
		treasury:  deps.Treasury,
		publisher: deps.Publisher,
		cache:     deps.Cache,
		now:       clock,
		seq:       seq,
		logger:    logger.With(slog.String("component", "engine")),
	}, nil
}

// Params returns the read-only settlement constants.
func (e *Engine) Params() domain.EngineParams {
	return domain.EngineParams{
		EntryFeeBp:   e.cfg.EntryFeeBp,
		CreatorFeeBp: e.cfg.CreatorFeeBp,
		MinStake:     new(big.Int).Set(e.cfg.MinStake),
		Owner:        e.cfg.Owner,
	}
}

// CreateMarket registers a new market with the caller as creator and emits
// MarketCreated. Any participant may create a market; the engine stores the
// end time as given (future-dating is enforced at the API boundary).
func (e *Engine) CreateMarket(ctx context.Context, creator common.Address, asset domain.AssetTag, referencePrice uint64, question string, endTime uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := domain.NewMarket(0, creator, asset, referencePrice, question, endTime)
	id, err := e.store.InsertMarket(ctx, m)
	if err != nil {
		return 0, fmt.Errorf("engine: create market: %w", err)
	}

	e.emit(ctx, domain.EventMarketCreated, domain.MarketCreated{
		MarketID:       id,
		Creator:        creator,
		Asset:          asset.String(),
		ReferencePrice: referencePrice,
		Question:       question,
		EndTime:        endTime,
	})

	e.logger.InfoContext(ctx, "market created",
		slog.Uint64("market_id", id),
		slog.String("creator", creator.Hex()),
		slog.String("asset", asset.String()),
	)
	return id, nil
}

// BuyShares accepts a stake on one side of an open market. The gross stake
// is split into platform fee, creator fee, and net stake; only the net
// stake enters the pool and the buyer's position. Stakes at or past the
// market's end time are rejected.
func (e *Engine) BuyShares(ctx context.Context, marketID uint64, buyer common.Address, side domain.Side, stake *big.Int) (*big.Int, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("engine: invalid side %d", side)
	}
	if stake == nil || stake.Sign() < 0 {
		return nil, fmt.Errorf("engine: stake must be non-negative")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if m.Resolved || uint64(e.now().Unix()) >= m.EndTime {
		return nil, domain.ErrMarketClosed
	}
	if stake.Cmp(e.cfg.MinStake) < 0 {
		return nil, domain.ErrBelowMinimum
	}

	net, platformFee, creatorFee, err := fees.Split(stake, e.cfg.EntryFeeBp, e.cfg.CreatorFeeBp)
	if err != nil {
		return nil, fmt.Errorf("engine: split stake: %w", err)
	}

	if err := e.store.ApplyStake(ctx, domain.StakeDelta{
		MarketID:    marketID,
		Account:     buyer,
		Side:        side,
		NetStake:    net,
		PlatformFee: platformFee,
		CreatorFee:  creatorFee,
	}); err != nil {
		return nil, fmt.Errorf("engine: apply stake: %w", err)
	}
	e.invalidate(ctx, marketID)

	e.emit(ctx, domain.EventSharesPurchased, domain.SharesPurchased{
		MarketID: marketID,
		Account:  buyer,
		Side:     side,
		NetStake: domain.BigString(net),
	})

	e.logger.InfoContext(ctx, "shares purchased",
		slog.Uint64("market_id", marketID),
		slog.String("account", buyer.Hex()),
		slog.String("side", side.String()),
		slog.String("net_stake", net.String()),
	)
	return net, nil
}

// ResolveMarket freezes a market and derives its outcome from the reported
// final price. Only the platform owner may resolve, only after the end
// time, and only once. A final price equal to the reference resolves Up.
func (e *Engine) ResolveMarket(ctx context.Context, caller common.Address, marketID uint64, finalPrice uint64) (domain.Outcome, error) {
	if caller != e.cfg.Owner {
		return domain.OutcomeUnresolved, domain.ErrUnauthorized
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return domain.OutcomeUnresolved, err
	}
	if m.Resolved {
		return domain.OutcomeUnresolved, domain.ErrAlreadyResolved
	}
	if uint64(e.now().Unix()) < m.EndTime {
		return domain.OutcomeUnresolved, domain.ErrTooEarly
	}

	outcome := domain.OutcomeDown
	if finalPrice >= m.ReferencePrice {
		outcome = domain.OutcomeUp
	}

	if err := e.store.MarkResolved(ctx, marketID, outcome); err != nil {
		return domain.OutcomeUnresolved, fmt.Errorf("engine: mark resolved: %w", err)
	}
	e.invalidate(ctx, marketID)

	e.emit(ctx, domain.EventMarketResolved, domain.MarketResolved{
		MarketID:   marketID,
		Outcome:    outcome,
		FinalPrice: finalPrice,
	})

	e.logger.InfoContext(ctx, "market resolved",
		slog.Uint64("market_id", marketID),
		slog.String("outcome", outcome.String()),
		slog.Uint64("final_price", finalPrice),
	)
	return outcome, nil
}

// Claim pays out a participant on a resolved market: their own winning-side
// net stake plus a pro-rata share of the losing pool. The claimed latch is
// committed to the ledger before the treasury credit, so a reentrant or
// concurrent claim observes the latch and fails with ErrAlreadyClaimed.
//
// When nobody staked the winning side, stakers on the losing side reclaim
// exactly their own net stake instead.
func (e *Engine) Claim(ctx context.Context, marketID uint64, account common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if !m.Resolved {
		return nil, domain.ErrNotResolved
	}

	pos, err := e.store.GetPosition(ctx, marketID, account)
	if err != nil {
		return nil, err
	}
	if pos.HasClaimed {
		return nil, domain.ErrAlreadyClaimed
	}

	payout, err := payout(m, pos)
	if err != nil {
		return nil, err
	}

	// State before transfer: the latch must be durable before value moves.
	if err := e.store.MarkClaimed(ctx, marketID, account); err != nil {
		return nil, fmt.Errorf("engine: mark claimed: %w", err)
	}
	if err := e.treasury.Credit(ctx, account, payout); err != nil {
		return nil, fmt.Errorf("engine: credit payout: %w", err)
	}

	e.emit(ctx, domain.EventPayoutClaimed, domain.PayoutClaimed{
		MarketID: marketID,
		Account:  account,
		Payout:   domain.BigString(payout),
	})

	e.logger.InfoContext(ctx, "payout claimed",
		slog.Uint64("market_id", marketID),
		slog.String("account", account.Hex()),
		slog.String("payout", payout.String()),
	)
	return payout, nil
}

// payout computes the settlement value owed to a position on a resolved
// market. Pro-rata share uses floor division; truncation dust stays in the
// pool, matching the fee engine's rounding policy.
func payout(m domain.Market, pos domain.Position) (*big.Int, error) {
	winningSide := domain.Side(m.Outcome)
	winningStake := pos.Stake(winningSide)
	winningPool := m.WinningPool()
	losingPool := m.LosingPool()

	if winningPool.Sign() == 0 {
		// No winners: losing-side stakers reclaim their own net stake.
		refund := pos.Stake(otherSide(winningSide))
		if refund.Sign() == 0 {
			return nil, domain.ErrNothingToClaim
		}
		return new(big.Int).Set(refund), nil
	}

	if winningStake.Sign() == 0 {
		return nil, domain.ErrNothingToClaim
	}

	share := new(big.Int).Mul(winningStake, losingPool)
	share.Quo(share, winningPool)
	return share.Add(share, winningStake), nil
}

func otherSide(s domain.Side) domain.Side {
	if s == domain.SideUp {
		return domain.SideDown
	}
	return domain.SideUp
}

// WithdrawPlatformCommission moves the accrued platform commission to the
// owner's treasury balance. The accrual is zeroed in the same serialized
// step, so repeated calls withdraw nothing further.
func (e *Engine) WithdrawPlatformCommission(ctx context.Context, caller common.Address) (*big.Int, error) {
	if caller != e.cfg.Owner {
		return nil, domain.ErrUnauthorized
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	amount, err := e.store.TakePlatformCommission(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: take platform commission: %w", err)
	}
	if amount.Sign() == 0 {
		return amount, nil
	}
	if err := e.treasury.Credit(ctx, caller, amount); err != nil {
		return nil, fmt.Errorf("engine: credit platform commission: %w", err)
	}

	e.emit(ctx, domain.EventCommissionWithdrawn, domain.CommissionWithdrawn{
		Account: caller,
		Amount:  domain.BigString(amount),
	})
	return amount, nil
}

// WithdrawCreatorCommission moves a market's accrued creator commission to
// the creator's treasury balance. Only the market creator may withdraw.
func (e *Engine) WithdrawCreatorCommission(ctx context.Context, caller common.Address, marketID uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if caller != m.Creator {
		return nil, domain.ErrUnauthorized
	}

	amount, err := e.store.TakeCreatorCommission(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("engine: take creator commission: %w", err)
	}
	if amount.Sign() == 0 {
		return amount, nil
	}
	e.invalidate(ctx, marketID)
	if err := e.treasury.Credit(ctx, caller, amount); err != nil {
		return nil, fmt.Errorf("engine: credit creator commission: %w", err)
	}

	e.emit(ctx, domain.EventCommissionWithdrawn, domain.CommissionWithdrawn{
		MarketID: &marketID,
		Account:  caller,
		Amount:   domain.BigString(amount),
	})
	return amount, nil
}

// GetMarket returns a market, checking the cache first and backfilling on a
// miss. Reads do not take the engine lock; the store provides its own
// consistency.
func (e *Engine) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	if e.cache != nil {
		if m, err := e.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	m, err := e.store.GetMarket(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}

	if e.cache != nil {
		if cacheErr := e.cache.Set(ctx, m); cacheErr != nil {
			e.logger.WarnContext(ctx, "cache set failed",
				slog.Uint64("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return m, nil
}

// GetUserInfo returns a participant's position on a market.
func (e *Engine) GetUserInfo(ctx context.Context, marketID uint64, account common.Address) (domain.Position, error) {
	return e.store.GetPosition(ctx, marketID, account)
}

// ListMarkets returns markets in id order.
func (e *Engine) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return e.store.ListMarkets(ctx, opts)
}

// CountMarkets returns the number of markets ever created.
func (e *Engine) CountMarkets(ctx context.Context) (int64, error) {
	return e.store.CountMarkets(ctx)
}

// PlatformCommission reads the current global accrual.
func (e *Engine) PlatformCommission(ctx context.Context) (*big.Int, error) {
	return e.store.PlatformCommission(ctx)
}

// Events returns a page of the notification log, in sequence order.
func (e *Engine) Events(ctx context.Context, afterSeq uint64, limit int) ([]domain.Event, error) {
	return e.journal.List(ctx, afterSeq, limit)
}

// emit records one event in the journal and pushes it to the publisher.
// Called with the engine lock held, after the authorizing mutation has
// committed. The notification log is decoupled from ledger invariants, so
// delivery failures are logged, not propagated.
func (e *Engine) emit(ctx context.Context, typ domain.EventType, payload any) {
	e.seq++
	ev, err := domain.NewEvent(uuid.NewString(), e.seq, typ, e.now(), payload)
	if err != nil {
		e.logger.ErrorContext(ctx, "build event failed",
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := e.journal.Append(ctx, ev); err != nil {
		e.logger.ErrorContext(ctx, "journal append failed",
			slog.String("type", string(typ)),
			slog.Uint64("seq", ev.Seq),
			slog.String("error", err.Error()),
		)
	}
	if e.publisher != nil {
		if err := e.publisher.PublishEvent(ctx, ev); err != nil {
			e.logger.WarnContext(ctx, "event publish failed",
				slog.String("type", string(typ)),
				slog.Uint64("seq", ev.Seq),
				slog.String("error", err.Error()),
			)
		}
	}
}

// invalidate drops a market's cache entry after a write.
func (e *Engine) invalidate(ctx context.Context, id uint64) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, id); err != nil {
		e.logger.WarnContext(ctx, "cache invalidate failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}
