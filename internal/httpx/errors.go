package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/stock"
	"go.uber.org/zap"
)

type errorBody struct {
	Error      string            `json:"error"`
	Code       string            `json:"code"`
	Retryable  bool              `json:"retryable,omitempty"`
	Shortfalls []stock.Shortfall `json:"shortfalls,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "bad_request"})
}

// writeError keeps insufficiency and storage conflicts apart: the first asks
// the operator to ship less, the second to retry.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var (
		insufficient *stock.InsufficientError
		status       int
		body         = errorBody{Error: err.Error()}
	)
	switch {
	case errors.As(err, &insufficient):
		status, body.Code, body.Shortfalls = http.StatusUnprocessableEntity, "insufficient_stock", insufficient.Shortfalls
	case errors.Is(err, stock.ErrStorageConflict):
		status, body.Code, body.Retryable = http.StatusConflict, "storage_conflict", true
		w.Header().Set("Retry-After", "1")
	case errors.Is(err, orders.ErrInvalidTransition):
		status, body.Code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, orders.ErrNotFound):
		status, body.Code = http.StatusNotFound, "not_found"
	case errors.Is(err, stock.ErrMalformedLine):
		status, body.Code = http.StatusBadRequest, "malformed_line"
	case errors.Is(err, stock.ErrInvalidQuantity), errors.Is(err, orders.ErrInvalidShipQuantity),
		errors.Is(err, orders.ErrInvalidInput), errors.Is(err, stock.ErrUnknownProduct):
		status, body.Code = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, orders.ErrCustomerNotFound), errors.Is(err, orders.ErrPriceNotFound):
		status, body.Code = http.StatusUnprocessableEntity, "lookup_failed"
	default:
		log.Error("request failed", zap.Error(err))
		status, body = http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"}
	}
	writeJSON(w, status, body)
}
