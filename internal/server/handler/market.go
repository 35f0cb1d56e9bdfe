package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/updownlabs/updown/internal/domain"
)

// MarketService defines the methods the market handler requires from the
// settlement engine. It is declared locally so the handler package does not
// depend on the concrete engine implementation.
type MarketService interface {
	Params() domain.EngineParams
	CreateMarket(ctx context.Context, creator common.Address, asset domain.AssetTag, referencePrice uint64, question string, endTime uint64) (uint64, error)
	GetMarket(ctx context.Context, id uint64) (domain.Market, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	CountMarkets(ctx context.Context) (int64, error)
}

// MarketHandler serves market registry HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	now     func() time.Time
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		now:     time.Now,
		logger:  logger,
	}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Total   int64        `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets returns markets in creation order with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ListMarkets(r.Context(), opts)
	if err != nil {
		writeDomainError(w, h.logger, "list markets", err)
		return
	}

	total, err := h.markets.CountMarkets(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, "count markets", err)
		return
	}

	views := make([]marketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, viewMarket(m))
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: views,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its id.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, "get market", err)
		return
	}

	writeJSON(w, http.StatusOK, viewMarket(market))
}

// createMarketRequest is the body for market creation.
type createMarketRequest struct {
	Creator        string `json:"creator"`
	Asset          string `json:"asset"`
	ReferencePrice uint64 `json:"reference_price"`
	Question       string `json:"question"`
	EndTime        uint64 `json:"end_time"`
}

// CreateMarket registers a new market. Deadlines already in the past are
// rejected here; the engine itself only orders stakes against the deadline.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	creator, err := parseAddress(req.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	asset, err := domain.AssetTagFromString(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "missing question")
		return
	}
	if req.EndTime <= uint64(h.now().Unix()) {
		writeError(w, http.StatusBadRequest, "end_time must be in the future")
		return
	}

	id, err := h.markets.CreateMarket(r.Context(), creator, asset, req.ReferencePrice, req.Question, req.EndTime)
	if err != nil {
		writeDomainError(w, h.logger, "create market", err)
		return
	}

	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, "get created market", err)
		return
	}

	writeJSON(w, http.StatusCreated, viewMarket(market))
}

// configResponse exposes the engine's settlement parameters.
type configResponse struct {
	EntryFeeBp   uint64 `json:"entry_fee_bp"`
	CreatorFeeBp uint64 `json:"creator_fee_bp"`
	MinStake     string `json:"min_stake"`
	Owner        string `json:"owner"`
}

// GetConfig returns the fee rates, minimum stake, and owner identity.
// GET /api/config
func (h *MarketHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	params := h.markets.Params()

	minStake := params.MinStake
	if minStake == nil {
		minStake = new(big.Int)
	}

	writeJSON(w, http.StatusOK, configResponse{
		EntryFeeBp:   params.EntryFeeBp,
		CreatorFeeBp: params.CreatorFeeBp,
		MinStake:     minStake.String(),
		Owner:        params.Owner.Hex(),
	})
}
