package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"liquidation_go/internal/domain"
	"liquidation_go/internal/engine"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
)

const maxBodyBytes = 1 << 20

// SettleRequest is the body of POST /v1/settle. Amounts are decimal strings
// in raw units.
type SettleRequest struct {
	VaultID    string          `json:"vault_id"`
	Bid        string          `json:"bid"`
	ValidUntil uint64          `json:"valid_until"`
	Signature  hexutil.Bytes   `json:"signature"`
	UpdateData []hexutil.Bytes `json:"update_data,omitempty"`
	Value      string          `json:"value,omitempty"`
}

// SettleResponse is returned for a completed settlement.
type SettleResponse struct {
	Status    string `json:"status"`
	VaultID   string `json:"vault_id"`
	Bid       string `json:"bid"`
	Signature string `json:"signature,omitempty"`
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(s)
}

func (r SettleRequest) toDomain() (domain.SettleRequest, error) {
	vaultID, err := uint256.FromDecimal(r.VaultID)
	if err != nil {
		return domain.SettleRequest{}, err
	}
	bid, err := parseAmount(r.Bid)
	if err != nil {
		return domain.SettleRequest{}, err
	}
	value, err := parseAmount(r.Value)
	if err != nil {
		return domain.SettleRequest{}, err
	}

	updates := make([][]byte, 0, len(r.UpdateData))
	for _, u := range r.UpdateData {
		updates = append(updates, u)
	}

	return domain.SettleRequest{
		Authorization: domain.Authorization{
			VaultID:    vaultID,
			Bid:        bid,
			ValidUntil: r.ValidUntil,
			Signature:  r.Signature,
		},
		UpdateData: updates,
		Value:      value,
	}, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed request body: "+err.Error(), false)
		return false
	}
	return true
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	var body SettleRequest
	if !decodeBody(w, r, &body) {
		return
	}
	req, err := body.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid amount: "+err.Error(), false)
		return
	}

	if err := s.submitter.Submit(r.Context(), engine.SettleCommand{Caller: caller, Request: req}); err != nil {
		writeDomainError(w, err)
		return
	}

	resp := SettleResponse{Status: "settled", VaultID: req.VaultID.Dec(), Bid: req.Bid.Dec()}
	if len(req.Signature) > 0 {
		resp.Signature = domain.KeyOf(req.Signature).Hex()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReceiveRequest is the body of POST /v1/receive.
type ReceiveRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	var body ReceiveRequest
	if !decodeBody(w, r, &body) {
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid amount: "+err.Error(), false)
		return
	}

	if err := s.submitter.Submit(r.Context(), engine.ReceiveCommand{Sender: caller, Amount: amount}); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received", "amount": amount.Dec()})
}

// AuthorizationStatus reports whether an authorization was consumed.
type AuthorizationStatus struct {
	Signature  string     `json:"signature"`
	Consumed   bool       `json:"consumed"`
	Marker     uint64     `json:"marker,omitempty"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// handleAuthorization accepts either the raw signature or its 32-byte key.
func (s *Server) handleAuthorization(w http.ResponseWriter, r *http.Request) {
	raw, err := hexutil.Decode(chi.URLParam(r, "signature"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "signature must be 0x-prefixed hex", false)
		return
	}

	var key domain.SignatureKey
	if len(raw) == len(key) {
		copy(key[:], raw)
	} else {
		key = domain.KeyOf(raw)
	}

	c, found, err := s.store.ConsumedAt(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := AuthorizationStatus{Signature: key.Hex(), Consumed: found}
	if found {
		status.Marker = c.Marker
		status.ConsumedAt = &c.ConsumedAt
	}
	writeJSON(w, http.StatusOK, status)
}

// VaultResponse is the JSON view of a vault.
type VaultResponse struct {
	ID               string `json:"id"`
	DebtToken        string `json:"debt_token"`
	DebtAmount       string `json:"debt_amount"`
	CollateralToken  string `json:"collateral_token"`
	CollateralAmount string `json:"collateral_amount"`
	Status           string `json:"status"`
}

func (s *Server) handleVault(w http.ResponseWriter, r *http.Request) {
	id, err := uint256.FromDecimal(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "vault id must be a decimal integer", false)
		return
	}

	v, err := s.store.Vault(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, VaultResponse{
		ID:               v.ID.Dec(),
		DebtToken:        v.DebtToken.Hex(),
		DebtAmount:       v.DebtAmount.Dec(),
		CollateralToken:  v.CollateralToken.Hex(),
		CollateralAmount: v.CollateralAmount.Dec(),
		Status:           string(v.Status),
	})
}

func queryLimit(r *http.Request, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 1000 {
		return n
	}
	return def
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	var vaultID *uint256.Int
	if raw := r.URL.Query().Get("vault_id"); raw != "" {
		id, err := uint256.FromDecimal(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "vault_id must be a decimal integer", false)
			return
		}
		vaultID = id
	}

	list, err := s.store.Settlements(r.Context(), vaultID, queryLimit(r, 100))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	after, _ := strconv.ParseUint(r.URL.Query().Get("after"), 10, 64)

	list, err := s.store.EventsAfter(r.Context(), after, queryLimit(r, 100))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	marker, err := s.store.Marker(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "storage unavailable", true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "marker": marker})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
