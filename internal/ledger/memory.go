// Package ledger provides the in-memory implementations of the ledger
// store, treasury, and event journal. They are authoritative in memory
// persistence mode and back every engine test.
package ledger

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/updownlabs/updown/internal/domain"
)

type positionKey struct {
	marketID uint64
	account  common.Address
}

// MemoryStore implements domain.LedgerStore with mutex-guarded maps.
// Markets live in a dense slice so id assignment is the slice index.
type MemoryStore struct {
	mu                 sync.RWMutex
	markets            []domain.Market
	positions          map[positionKey]domain.Position
	platformCommission *big.Int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions:          make(map[positionKey]domain.Position),
		platformCommission: new(big.Int),
	}
}

// InsertMarket appends the market and returns its dense, zero-based id.
func (s *MemoryStore) InsertMarket(_ context.Context, m domain.Market) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uint64(len(s.markets))
	m.ID = id
	s.markets = append(s.markets, m.Clone())
	return id, nil
}

// GetMarket returns a deep copy of the market with the given id.
func (s *MemoryStore) GetMarket(_ context.Context, id uint64) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id >= uint64(len(s.markets)) {
		return domain.Market{}, domain.ErrNotFound
	}
	return s.markets[id].Clone(), nil
}

// ListMarkets returns markets in id order with pagination.
func (s *MemoryStore) ListMarkets(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := opts.Offset
	if start > len(s.markets) {
		start = len(s.markets)
	}
	end := len(s.markets)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}

	out := make([]domain.Market, 0, end-start)
	for _, m := range s.markets[start:end] {
		out = append(out, m.Clone())
	}
	return out, nil
}

// CountMarkets returns the number of markets ever created.
func (s *MemoryStore) CountMarkets(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.markets)), nil
}

// GetPosition returns the participant's position, or an empty one if the
// participant never staked on the market.
func (s *MemoryStore) GetPosition(_ context.Context, marketID uint64, account common.Address) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if marketID >= uint64(len(s.markets)) {
		return domain.Position{}, domain.ErrNotFound
	}
	if p, ok := s.positions[positionKey{marketID, account}]; ok {
		return p.Clone(), nil
	}
	return domain.NewPosition(marketID, account), nil
}

// ApplyStake credits pools, the position, and both commission accruals in
// one step under the store lock.
func (s *MemoryStore) ApplyStake(_ context.Context, d domain.StakeDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.MarketID >= uint64(len(s.markets)) {
		return domain.ErrNotFound
	}

	m := &s.markets[d.MarketID]
	m.Pool(d.Side).Add(m.Pool(d.Side), d.NetStake)
	m.CreatorCommission.Add(m.CreatorCommission, d.CreatorFee)
	s.platformCommission.Add(s.platformCommission, d.PlatformFee)

	key := positionKey{d.MarketID, d.Account}
	p, ok := s.positions[key]
	if !ok {
		p = domain.NewPosition(d.MarketID, d.Account)
	}
	p.Stake(d.Side).Add(p.Stake(d.Side), d.NetStake)
	s.positions[key] = p
	return nil
}

// MarkResolved sets outcome and resolved together.
func (s *MemoryStore) MarkResolved(_ context.Context, id uint64, outcome domain.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id >= uint64(len(s.markets)) {
		return domain.ErrNotFound
	}
	s.markets[id].Outcome = outcome
	s.markets[id].Resolved = true
	return nil
}

// MarkClaimed latches HasClaimed for the participant's position.
func (s *MemoryStore) MarkClaimed(_ context.Context, id uint64, account common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id >= uint64(len(s.markets)) {
		return domain.ErrNotFound
	}
	key := positionKey{id, account}
	p, ok := s.positions[key]
	if !ok {
		p = domain.NewPosition(id, account)
	}
	p.HasClaimed = true
	s.positions[key] = p
	return nil
}

// PlatformCommission reads the global accrual.
func (s *MemoryStore) PlatformCommission(_ context.Context) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.platformCommission), nil
}

// TakePlatformCommission zeroes the global accrual and returns the amount.
func (s *MemoryStore) TakePlatformCommission(_ context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.platformCommission
	s.platformCommission = new(big.Int)
	return out, nil
}

// TakeCreatorCommission zeroes a market's creator accrual and returns it.
func (s *MemoryStore) TakeCreatorCommission(_ context.Context, id uint64) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id >= uint64(len(s.markets)) {
		return nil, domain.ErrNotFound
	}
	out := s.markets[id].CreatorCommission
	s.markets[id].CreatorCommission = new(big.Int)
	return out, nil
}

// Compile-time interface check.
var _ domain.LedgerStore = (*MemoryStore)(nil)
