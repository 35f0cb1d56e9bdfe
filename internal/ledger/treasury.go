package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/updownlabs/updown/internal/domain"
)

// MemoryTreasury implements domain.Treasury as a mutex-guarded balance
// book. Credits are only issued after the authorizing ledger mutation has
// committed, so a balance here is always backed by settled state.
type MemoryTreasury struct {
	mu       sync.RWMutex
	balances map[common.Address]*big.Int
}

// NewMemoryTreasury creates an empty treasury.
func NewMemoryTreasury() *MemoryTreasury {
	return &MemoryTreasury{balances: make(map[common.Address]*big.Int)}
}

// Credit adds amount to the recipient's balance.
func (t *MemoryTreasury) Credit(_ context.Context, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("treasury: credit amount must be non-negative")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	bal, ok := t.balances[to]
	if !ok {
		bal = new(big.Int)
		t.balances[to] = bal
	}
	bal.Add(bal, amount)
	return nil
}

// Balance returns the recipient's credited balance; zero if never credited.
func (t *MemoryTreasury) Balance(_ context.Context, of common.Address) (*big.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if bal, ok := t.balances[of]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

// Compile-time interface check.
var _ domain.Treasury = (*MemoryTreasury)(nil)
