package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/updownlabs/updown/internal/domain"
)

// TradeService defines the staking and settlement methods the trade handler
// requires from the engine.
type TradeService interface {
	BuyShares(ctx context.Context, marketID uint64, buyer common.Address, side domain.Side, stake *big.Int) (*big.Int, error)
	Claim(ctx context.Context, marketID uint64, account common.Address) (*big.Int, error)
	GetUserInfo(ctx context.Context, marketID uint64, account common.Address) (domain.Position, error)
}

// TradeHandler serves stake placement, claims, and position lookups.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given service and logger.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logger,
	}
}

// placeStakeRequest is the body for stake placement. Stake is a decimal
// base-unit amount.
type placeStakeRequest struct {
	Account string `json:"account"`
	Side    string `json:"side"`
	Stake   string `json:"stake"`
}

// placeStakeResponse reports the net amount credited to the chosen pool.
type placeStakeResponse struct {
	MarketID uint64 `json:"market_id"`
	Account  string `json:"account"`
	Side     string `json:"side"`
	NetStake string `json:"net_stake"`
}

// PlaceStake places a stake on one side of an open market.
// POST /api/markets/{id}/stakes
func (h *TradeHandler) PlaceStake(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req placeStakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := parseAddress(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	side, err := domain.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stake, err := parseAmount(req.Stake)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	netStake, err := h.trades.BuyShares(r.Context(), id, account, side, stake)
	if err != nil {
		writeDomainError(w, h.logger, "place stake", err)
		return
	}

	writeJSON(w, http.StatusCreated, placeStakeResponse{
		MarketID: id,
		Account:  account.Hex(),
		Side:     side.String(),
		NetStake: netStake.String(),
	})
}

// claimRequest is the body for payout claims.
type claimRequest struct {
	Account string `json:"account"`
}

// claimResponse reports the settled payout.
type claimResponse struct {
	MarketID uint64 `json:"market_id"`
	Account  string `json:"account"`
	Payout   string `json:"payout"`
}

// Claim settles a participant's position on a resolved market.
// POST /api/markets/{id}/claims
func (h *TradeHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := parseAddress(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payout, err := h.trades.Claim(r.Context(), id, account)
	if err != nil {
		writeDomainError(w, h.logger, "claim", err)
		return
	}

	writeJSON(w, http.StatusOK, claimResponse{
		MarketID: id,
		Account:  account.Hex(),
		Payout:   payout.String(),
	})
}

// GetPosition returns a participant's stakes and claim latch for a market.
// GET /api/markets/{id}/positions/{address}
func (h *TradeHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, err := parseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pos, err := h.trades.GetUserInfo(r.Context(), id, account)
	if err != nil {
		writeDomainError(w, h.logger, "get position", err)
		return
	}

	writeJSON(w, http.StatusOK, viewPosition(pos))
}
