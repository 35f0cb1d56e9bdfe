package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/updownlabs/updown/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps ledger errors onto HTTP status codes. Unknown errors
// are logged and rendered as a generic 500.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrBelowMinimum):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrMarketClosed),
		errors.Is(err, domain.ErrAlreadyResolved),
		errors.Is(err, domain.ErrTooEarly),
		errors.Is(err, domain.ErrNotResolved),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrNothingToClaim):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Error("handler: "+op+" failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathID extracts a numeric market id path parameter using Go 1.22+ built-in
// routing (http.Request.PathValue).
func pathID(r *http.Request) (uint64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid market id %q", raw)
	}
	return id, nil
}

// parseAddress validates a 0x-prefixed hex account address.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// parseAmount parses a non-negative decimal base-unit amount.
func parseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return amount, nil
}

// marketView is the wire shape of a market. Monetary values are decimal
// strings so clients never round them through floats.
type marketView struct {
	ID                uint64 `json:"id"`
	Creator           string `json:"creator"`
	Asset             string `json:"asset"`
	ReferencePrice    uint64 `json:"reference_price"`
	Question          string `json:"question"`
	EndTime           uint64 `json:"end_time"`
	Outcome           string `json:"outcome"`
	Resolved          bool   `json:"resolved"`
	TotalUp           string `json:"total_up"`
	TotalDown         string `json:"total_down"`
	CreatorCommission string `json:"creator_commission"`
}

func viewMarket(m domain.Market) marketView {
	return marketView{
		ID:                m.ID,
		Creator:           m.Creator.Hex(),
		Asset:             m.Asset.String(),
		ReferencePrice:    m.ReferencePrice,
		Question:          m.Question,
		EndTime:           m.EndTime,
		Outcome:           m.Outcome.String(),
		Resolved:          m.Resolved,
		TotalUp:           m.TotalUp.String(),
		TotalDown:         m.TotalDown.String(),
		CreatorCommission: m.CreatorCommission.String(),
	}
}

// positionView is the wire shape of a participant's position.
type positionView struct {
	MarketID   uint64 `json:"market_id"`
	Account    string `json:"account"`
	UpStake    string `json:"up_stake"`
	DownStake  string `json:"down_stake"`
	HasClaimed bool   `json:"has_claimed"`
}

func viewPosition(p domain.Position) positionView {
	return positionView{
		MarketID:   p.MarketID,
		Account:    p.Account.Hex(),
		UpStake:    p.UpStake.String(),
		DownStake:  p.DownStake.String(),
		HasClaimed: p.HasClaimed,
	}
}
