package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/updownlabs/updown/internal/domain"
)

// TreasuryStore records settlement credits per account in PostgreSQL.
type TreasuryStore struct {
	pool *pgxpool.Pool
}

func NewTreasuryStore(pool *pgxpool.Pool) *TreasuryStore {
	return &TreasuryStore{pool: pool}
}

// Credit adds amount to the account's balance. Negative amounts are rejected.
func (s *TreasuryStore) Credit(ctx context.Context, account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("postgres: credit %s: negative or nil amount", account.Hex())
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO treasury_balances (account, balance)
		VALUES ($1, $2::numeric)
		ON CONFLICT (account) DO UPDATE SET
			balance = treasury_balances.balance + EXCLUDED.balance`,
		account.Hex(), amount.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: credit %s: %w", account.Hex(), err)
	}
	return nil
}

// Balance returns the account's accumulated credits, zero if never credited.
func (s *TreasuryStore) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	var raw string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::text FROM treasury_balances WHERE account = $1`,
		account.Hex(),
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("postgres: balance %s: %w", account.Hex(), err)
	}
	return parseAmount(raw)
}

var _ domain.Treasury = (*TreasuryStore)(nil)
