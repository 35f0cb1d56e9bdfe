package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/updown/internal/domain"
	"github.com/updownlabs/updown/internal/engine"
	"github.com/updownlabs/updown/internal/ledger"
	"github.com/updownlabs/updown/internal/server/handler"
)

var (
	testOwner   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testCreator = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	testAlice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testCarol   = common.HexToAddress("0x00000000000000000000000000000000000000c2")
)

const testRefPrice = uint64(200_000_000_000)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type apiFixture struct {
	srv     *Server
	clock   *testClock
	endTime uint64
}

func newAPIFixture(t *testing.T, apiKey string) *apiFixture {
	t.Helper()

	logger := slog.Default()
	clock := &testClock{now: time.Now()}

	eng, err := engine.New(context.Background(), engine.Config{
		EntryFeeBp:   100,
		CreatorFeeBp: 50,
		MinStake:     big.NewInt(1_000),
		Owner:        testOwner,
	}, engine.Deps{
		Store:    ledger.NewMemoryStore(),
		Journal:  ledger.NewMemoryJournal(),
		Treasury: ledger.NewMemoryTreasury(),
		Clock:    clock.Now,
	}, logger)
	require.NoError(t, err)

	srv := NewServer(Config{
		Port:   0,
		APIKey: apiKey,
	}, Handlers{
		Health:  handler.NewHealthHandler(logger),
		Markets: handler.NewMarketHandler(eng, logger),
		Trades:  handler.NewTradeHandler(eng, logger),
		Admin:   handler.NewAdminHandler(eng, logger),
		Events:  handler.NewEventHandler(eng, logger),
	}, nil, logger)

	return &apiFixture{
		srv:     srv,
		clock:   clock,
		endTime: uint64(clock.Now().Unix()) + 3600,
	}
}

// do runs a request through the full middleware chain and decodes the JSON
// response body into out (when out is non-nil).
func (f *apiFixture) do(t *testing.T, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.srv.httpServer.Handler.ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out),
			"body: %s", rec.Body.String())
	}
	return rec
}

func (f *apiFixture) createMarket(t *testing.T) uint64 {
	t.Helper()

	var created struct {
		ID uint64 `json:"id"`
	}
	rec := f.do(t, http.MethodPost, "/api/markets", map[string]any{
		"creator":         testCreator.Hex(),
		"asset":           "ETHUSDT",
		"reference_price": testRefPrice,
		"question":        "Will ETH be >= $2000 in 1h?",
		"end_time":        f.endTime,
	}, &created)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return created.ID
}

func TestAPI_HealthAndConfig(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var cfg struct {
		EntryFeeBp   uint64 `json:"entry_fee_bp"`
		CreatorFeeBp uint64 `json:"creator_fee_bp"`
		MinStake     string `json:"min_stake"`
		Owner        string `json:"owner"`
	}
	rec = f.do(t, http.MethodGet, "/api/config", nil, &cfg)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(100), cfg.EntryFeeBp)
	assert.Equal(t, uint64(50), cfg.CreatorFeeBp)
	assert.Equal(t, "1000", cfg.MinStake)
	assert.Equal(t, testOwner.Hex(), cfg.Owner)
}

func TestAPI_CreateAndGetMarket(t *testing.T) {
	f := newAPIFixture(t, "")
	id := f.createMarket(t)

	var m struct {
		ID       uint64 `json:"id"`
		Creator  string `json:"creator"`
		Asset    string `json:"asset"`
		Question string `json:"question"`
		Outcome  string `json:"outcome"`
		Resolved bool   `json:"resolved"`
		TotalUp  string `json:"total_up"`
	}
	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/markets/%d", id), nil, &m)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, m.ID)
	assert.Equal(t, testCreator.Hex(), m.Creator)
	assert.Equal(t, "ETHUSDT", m.Asset)
	assert.False(t, m.Resolved)
	assert.Equal(t, "0", m.TotalUp)

	rec = f.do(t, http.MethodGet, "/api/markets/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/markets/notanumber", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_CreateMarket_Validation(t *testing.T) {
	f := newAPIFixture(t, "")

	// Past deadline.
	rec := f.do(t, http.MethodPost, "/api/markets", map[string]any{
		"creator":         testCreator.Hex(),
		"asset":           "ETHUSDT",
		"reference_price": testRefPrice,
		"question":        "expired?",
		"end_time":        uint64(time.Now().Unix()) - 10,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Bad creator address.
	rec = f.do(t, http.MethodPost, "/api/markets", map[string]any{
		"creator":         "nothex",
		"asset":           "ETHUSDT",
		"reference_price": testRefPrice,
		"question":        "q",
		"end_time":        f.endTime,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing question.
	rec = f.do(t, http.MethodPost, "/api/markets", map[string]any{
		"creator":         testCreator.Hex(),
		"asset":           "ETHUSDT",
		"reference_price": testRefPrice,
		"end_time":        f.endTime,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ListMarkets(t *testing.T) {
	f := newAPIFixture(t, "")
	f.createMarket(t)
	f.createMarket(t)
	f.createMarket(t)

	var list struct {
		Markets []json.RawMessage `json:"markets"`
		Total   int64             `json:"total"`
		Limit   int               `json:"limit"`
		Offset  int               `json:"offset"`
	}
	rec := f.do(t, http.MethodGet, "/api/markets?limit=2&offset=1", nil, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, list.Markets, 2)
	assert.Equal(t, int64(3), list.Total)
	assert.Equal(t, 2, list.Limit)
	assert.Equal(t, 1, list.Offset)
}

func TestAPI_StakeClaimLifecycle(t *testing.T) {
	f := newAPIFixture(t, "")
	id := f.createMarket(t)

	// Alice stakes Up, Carol stakes Down.
	var stake struct {
		NetStake string `json:"net_stake"`
		Side     string `json:"side"`
	}
	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/stakes", id), map[string]any{
		"account": testAlice.Hex(),
		"side":    "up",
		"stake":   "1000000",
	}, &stake)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "985000", stake.NetStake) // 1.5% fees off gross
	assert.Equal(t, "up", stake.Side)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/stakes", id), map[string]any{
		"account": testCarol.Hex(),
		"side":    "down",
		"stake":   "1000000",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Below minimum stake.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/stakes", id), map[string]any{
		"account": testAlice.Hex(),
		"side":    "up",
		"stake":   "10",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Claim before resolution conflicts.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/claims", id), map[string]any{
		"account": testAlice.Hex(),
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Resolution by a non-owner is forbidden; before the deadline it is too
	// early even for the owner.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/resolve", id), map[string]any{
		"caller":      testAlice.Hex(),
		"final_price": testRefPrice,
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/resolve", id), map[string]any{
		"caller":      testOwner.Hex(),
		"final_price": testRefPrice,
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.clock.Advance(2 * time.Hour)

	// Stakes after the deadline are rejected.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/stakes", id), map[string]any{
		"account": testAlice.Hex(),
		"side":    "up",
		"stake":   "1000000",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Tie resolves Up.
	var resolved struct {
		Outcome string `json:"outcome"`
	}
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/resolve", id), map[string]any{
		"caller":      testOwner.Hex(),
		"final_price": testRefPrice,
	}, &resolved)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "up", resolved.Outcome)

	// Winner takes own net stake plus the full losing pool.
	var claim struct {
		Payout string `json:"payout"`
	}
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/claims", id), map[string]any{
		"account": testAlice.Hex(),
	}, &claim)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1970000", claim.Payout)

	// Second claim hits the latch.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/claims", id), map[string]any{
		"account": testAlice.Hex(),
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Loser has nothing to claim.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/claims", id), map[string]any{
		"account": testCarol.Hex(),
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Position reflects the claim latch.
	var pos struct {
		UpStake    string `json:"up_stake"`
		HasClaimed bool   `json:"has_claimed"`
	}
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/markets/%d/positions/%s", id, testAlice.Hex()), nil, &pos)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "985000", pos.UpStake)
	assert.True(t, pos.HasClaimed)
}

func TestAPI_Commissions(t *testing.T) {
	f := newAPIFixture(t, "")
	id := f.createMarket(t)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/stakes", id), map[string]any{
		"account": testAlice.Hex(),
		"side":    "up",
		"stake":   "1000000",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var accrued struct {
		Amount string `json:"amount"`
	}
	rec = f.do(t, http.MethodGet, "/api/commissions/platform", nil, &accrued)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10000", accrued.Amount) // 100 bp of 1_000_000

	// Only the owner may withdraw the platform commission.
	rec = f.do(t, http.MethodPost, "/api/commissions/platform", map[string]any{
		"caller": testAlice.Hex(),
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var withdrawn struct {
		Amount string `json:"amount"`
	}
	rec = f.do(t, http.MethodPost, "/api/commissions/platform", map[string]any{
		"caller": testOwner.Hex(),
	}, &withdrawn)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10000", withdrawn.Amount)

	// Creator commission, creator-only.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/commissions", id), map[string]any{
		"caller": testAlice.Hex(),
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/commissions", id), map[string]any{
		"caller": testCreator.Hex(),
	}, &withdrawn)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5000", withdrawn.Amount) // 50 bp of 1_000_000
}

func TestAPI_Events(t *testing.T) {
	f := newAPIFixture(t, "")
	id := f.createMarket(t)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/markets/%d/stakes", id), map[string]any{
		"account": testAlice.Hex(),
		"side":    "up",
		"stake":   "1000000",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var page struct {
		Events []domain.Event `json:"events"`
		NextSeq uint64        `json:"next_seq"`
	}
	rec = f.do(t, http.MethodGet, "/api/events", nil, &page)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, page.Events, 2)
	assert.Equal(t, domain.EventMarketCreated, page.Events[0].Type)
	assert.Equal(t, domain.EventSharesPurchased, page.Events[1].Type)
	assert.Equal(t, uint64(2), page.NextSeq)

	// Cursor pagination.
	rec = f.do(t, http.MethodGet, "/api/events?after_seq=1", nil, &page)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, page.Events, 1)
	assert.Equal(t, domain.EventSharesPurchased, page.Events[0].Type)
}

func TestAPI_AuthMiddleware(t *testing.T) {
	f := newAPIFixture(t, "sekrit")

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	rec := httptest.NewRecorder()
	f.srv.httpServer.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	f.srv.httpServer.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	f.srv.httpServer.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
