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

// AdminService defines resolution and commission withdrawal methods. The
// engine itself enforces the owner and creator authority checks.
type AdminService interface {
	ResolveMarket(ctx context.Context, caller common.Address, marketID uint64, finalPrice uint64) (domain.Outcome, error)
	WithdrawPlatformCommission(ctx context.Context, caller common.Address) (*big.Int, error)
	WithdrawCreatorCommission(ctx context.Context, caller common.Address, marketID uint64) (*big.Int, error)
	PlatformCommission(ctx context.Context) (*big.Int, error)
}

// AdminHandler serves market resolution and commission withdrawal endpoints.
type AdminHandler struct {
	admin  AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler with the given service and logger.
func NewAdminHandler(admin AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  admin,
		logger: logger,
	}
}

// resolveRequest is the body for market resolution.
type resolveRequest struct {
	Caller     string `json:"caller"`
	FinalPrice uint64 `json:"final_price"`
}

// resolveResponse reports the settled outcome.
type resolveResponse struct {
	MarketID   uint64 `json:"market_id"`
	Outcome    string `json:"outcome"`
	FinalPrice uint64 `json:"final_price"`
}

// Resolve settles a market against its final price. Only the owner authority
// may resolve; a final price at or above the reference resolves Up.
// POST /api/markets/{id}/resolve
func (h *AdminHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.admin.ResolveMarket(r.Context(), caller, id, req.FinalPrice)
	if err != nil {
		writeDomainError(w, h.logger, "resolve market", err)
		return
	}

	writeJSON(w, http.StatusOK, resolveResponse{
		MarketID:   id,
		Outcome:    outcome.String(),
		FinalPrice: req.FinalPrice,
	})
}

// withdrawRequest is the body for commission withdrawals.
type withdrawRequest struct {
	Caller string `json:"caller"`
}

// withdrawResponse reports the amount moved to the caller's treasury balance.
type withdrawResponse struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// WithdrawPlatform moves the accrued platform commission to the owner.
// POST /api/commissions/platform
func (h *AdminHandler) WithdrawPlatform(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := h.admin.WithdrawPlatformCommission(r.Context(), caller)
	if err != nil {
		writeDomainError(w, h.logger, "withdraw platform commission", err)
		return
	}

	writeJSON(w, http.StatusOK, withdrawResponse{
		Account: caller.Hex(),
		Amount:  amount.String(),
	})
}

// WithdrawCreator moves a market's accrued creator commission to its creator.
// POST /api/markets/{id}/commissions
func (h *AdminHandler) WithdrawCreator(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := h.admin.WithdrawCreatorCommission(r.Context(), caller, id)
	if err != nil {
		writeDomainError(w, h.logger, "withdraw creator commission", err)
		return
	}

	writeJSON(w, http.StatusOK, withdrawResponse{
		Account: caller.Hex(),
		Amount:  amount.String(),
	})
}

// GetPlatformCommission reports the current platform accrual without
// withdrawing it.
// GET /api/commissions/platform
func (h *AdminHandler) GetPlatformCommission(w http.ResponseWriter, r *http.Request) {
	amount, err := h.admin.PlatformCommission(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, "get platform commission", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}
