package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"liquidation_go/internal/domain"
	"liquidation_go/internal/engine"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, retriable bool) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message, Retriable: retriable})
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{domain.ErrInvalidAuthorizationSignature, http.StatusBadRequest, "invalid_authorization_signature"},
	{domain.ErrExpiredAuthorization, http.StatusGone, "expired_authorization"},
	{domain.ErrAuthorizationAlreadyUsed, http.StatusConflict, "authorization_already_used"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrVaultNotLiquidatable, http.StatusConflict, "vault_not_liquidatable"},
	{domain.ErrInsufficientAllowance, http.StatusUnprocessableEntity, "insufficient_allowance"},
	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{domain.ErrPriceUnavailable, http.StatusFailedDependency, "price_unavailable"},
	{domain.ErrStalePrice, http.StatusFailedDependency, "stale_price"},
	{domain.ErrInvalidPriceUpdate, http.StatusBadRequest, "invalid_price_update"},
	{domain.ErrAmountOverflow, http.StatusUnprocessableEntity, "amount_overflow"},
	{engine.ErrStopped, http.StatusServiceUnavailable, "unavailable"},
	{context.Canceled, http.StatusServiceUnavailable, "cancelled"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

// writeDomainError maps a settlement error onto an HTTP response.
func writeDomainError(w http.ResponseWriter, err error) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			writeError(w, e.status, e.code, err.Error(), domain.IsRetriable(err))
			return
		}
	}
	slog.Error("Unhandled error", slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, "internal", "internal error", false)
}
