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

// LedgerStore implements domain.LedgerStore on PostgreSQL. Monetary values
// travel as decimal strings and live in NUMERIC(78,0) columns so amounts
// stay integer-exact at any magnitude.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const marketCols = `id, creator, asset, reference_price, question, end_time,
	outcome, resolved, total_up::text, total_down::text, creator_commission::text`

// InsertMarket appends a market with the next dense id. The engine
// serializes all writes, so MAX(id)+1 cannot race.
func (s *LedgerStore) InsertMarket(ctx context.Context, m domain.Market) (uint64, error) {
	const query = `
		INSERT INTO markets (
			id, creator, asset, reference_price, question, end_time,
			outcome, resolved, total_up, total_down, creator_commission
		)
		SELECT COALESCE(MAX(id) + 1, 0), $1, $2, $3, $4, $5, $6, $7, 0, 0, 0
		FROM markets
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		m.Creator.Hex(), m.Asset.String(), int64(m.ReferencePrice),
		m.Question, int64(m.EndTime), int16(m.Outcome), m.Resolved,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert market: %w", err)
	}
	return uint64(id), nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                             domain.Market
		id, refPrice, endTime         int64
		creator, asset, up, down, cut string
		outcome                       int16
	)
	err := row.Scan(&id, &creator, &asset, &refPrice, &m.Question, &endTime,
		&outcome, &m.Resolved, &up, &down, &cut)
	if err != nil {
		return domain.Market{}, err
	}

	m.ID = uint64(id)
	m.Creator = common.HexToAddress(creator)
	m.ReferencePrice = uint64(refPrice)
	m.EndTime = uint64(endTime)
	m.Outcome = domain.Outcome(outcome)

	tag, err := domain.AssetTagFromString(asset)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: market %d asset: %w", id, err)
	}
	m.Asset = tag

	if m.TotalUp, err = parseAmount(up); err != nil {
		return domain.Market{}, fmt.Errorf("postgres: market %d total_up: %w", id, err)
	}
	if m.TotalDown, err = parseAmount(down); err != nil {
		return domain.Market{}, fmt.Errorf("postgres: market %d total_down: %w", id, err)
	}
	if m.CreatorCommission, err = parseAmount(cut); err != nil {
		return domain.Market{}, fmt.Errorf("postgres: market %d creator_commission: %w", id, err)
	}
	return m, nil
}

// parseAmount converts a NUMERIC text representation into a big.Int.
func parseAmount(s string) (*big.Int, error) {
	out, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return out, nil
}

// GetMarket retrieves one market by id.
func (s *LedgerStore) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, int64(id))
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// ListMarkets returns markets in id order with pagination.
func (s *LedgerStore) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets ORDER BY id`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// CountMarkets returns the number of markets ever created.
func (s *LedgerStore) CountMarkets(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// GetPosition returns the participant's position, or an empty one if the
// participant never staked on the market.
func (s *LedgerStore) GetPosition(ctx context.Context, marketID uint64, account common.Address) (domain.Position, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM markets WHERE id = $1)", int64(marketID),
	).Scan(&exists)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: check market %d: %w", marketID, err)
	}
	if !exists {
		return domain.Position{}, domain.ErrNotFound
	}

	var up, down string
	pos := domain.NewPosition(marketID, account)
	err = s.pool.QueryRow(ctx,
		`SELECT up_stake::text, down_stake::text, has_claimed
		 FROM positions WHERE market_id = $1 AND account = $2`,
		int64(marketID), account.Hex(),
	).Scan(&up, &down, &pos.HasClaimed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pos, nil
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %d/%s: %w", marketID, account.Hex(), err)
	}

	if pos.UpStake, err = parseAmount(up); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: position up_stake: %w", err)
	}
	if pos.DownStake, err = parseAmount(down); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: position down_stake: %w", err)
	}
	return pos, nil
}

// ApplyStake credits pools, position, and both commission accruals inside
// one transaction.
func (s *LedgerStore) ApplyStake(ctx context.Context, d domain.StakeDelta) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin stake tx: %w", err)
	}
	defer tx.Rollback(ctx)

	poolCol := "total_up"
	posCol := "up_stake"
	if d.Side == domain.SideDown {
		poolCol = "total_down"
		posCol = "down_stake"
	}

	tag, err := tx.Exec(ctx, fmt.Sprintf(`
		UPDATE markets SET
			%s = %s + $1::numeric,
			creator_commission = creator_commission + $2::numeric,
			updated_at = NOW()
		WHERE id = $3`, poolCol, poolCol),
		d.NetStake.String(), d.CreatorFee.String(), int64(d.MarketID),
	)
	if err != nil {
		return fmt.Errorf("postgres: stake pools: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	if _, err := tx.Exec(ctx,
		`UPDATE platform_ledger SET commission = commission + $1::numeric WHERE id = 1`,
		d.PlatformFee.String(),
	); err != nil {
		return fmt.Errorf("postgres: stake platform commission: %w", err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO positions (market_id, account, %s)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (market_id, account) DO UPDATE SET
			%s = positions.%s + EXCLUDED.%s,
			updated_at = NOW()`, posCol, posCol, posCol, posCol),
		int64(d.MarketID), d.Account.Hex(), d.NetStake.String(),
	); err != nil {
		return fmt.Errorf("postgres: stake position: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit stake tx: %w", err)
	}
	return nil
}

// MarkResolved sets outcome and resolved in one statement.
func (s *LedgerStore) MarkResolved(ctx context.Context, id uint64, outcome domain.Outcome) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET outcome = $1, resolved = TRUE, updated_at = NOW() WHERE id = $2`,
		int16(outcome), int64(id),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark resolved %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkClaimed latches has_claimed for the participant's position, creating
// an empty row when the participant never staked.
func (s *LedgerStore) MarkClaimed(ctx context.Context, id uint64, account common.Address) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (market_id, account, has_claimed)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (market_id, account) DO UPDATE SET
			has_claimed = TRUE,
			updated_at = NOW()`,
		int64(id), account.Hex(),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark claimed %d/%s: %w", id, account.Hex(), err)
	}
	return nil
}

// PlatformCommission reads the global accrual.
func (s *LedgerStore) PlatformCommission(ctx context.Context) (*big.Int, error) {
	var raw string
	err := s.pool.QueryRow(ctx,
		`SELECT commission::text FROM platform_ledger WHERE id = 1`,
	).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("postgres: platform commission: %w", err)
	}
	return parseAmount(raw)
}

// TakePlatformCommission zeroes the global accrual and returns the amount.
func (s *LedgerStore) TakePlatformCommission(ctx context.Context) (*big.Int, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `
		UPDATE platform_ledger SET commission = 0
		WHERE id = 1
		RETURNING (SELECT commission::text FROM platform_ledger WHERE id = 1)`,
	).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("postgres: take platform commission: %w", err)
	}
	return parseAmount(raw)
}

// TakeCreatorCommission zeroes a market's creator accrual and returns it.
func (s *LedgerStore) TakeCreatorCommission(ctx context.Context, id uint64) (*big.Int, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `
		UPDATE markets SET creator_commission = 0, updated_at = NOW()
		WHERE id = $1
		RETURNING (SELECT creator_commission::text FROM markets WHERE id = $1)`,
		int64(id),
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: take creator commission %d: %w", id, err)
	}
	return parseAmount(raw)
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
