package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type OrdersHandler struct {
	Service *orders.Service
	Cache   *redisx.Cache // optional
	Log     *zap.Logger
}

type CreateOrderResp struct {
	Order      orders.Order `json:"order"`
	Idempotent bool         `json:"idempotent"`
}

type ShipReq struct {
	ShipQty []int `json:"ship_qty"`
}

type RepriceReq struct {
	PriceList string `json:"price_list"`
}

type SufficiencyReq struct {
	OrderIDs []string `json:"order_ids"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Use(actor)
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Post("/sufficiency", h.sufficiency)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Delete("/", h.deleteOrder)
			r.Get("/status", h.getStatus)
			r.Post("/approve", h.transition(h.Service.ApproveProduction))
			r.Post("/complete", h.transition(h.Service.Complete))
			r.Post("/pull-back", h.transition(h.Service.PullBack))
			r.Post("/reject", h.transition(h.Service.Reject))
			r.Post("/ship", h.ship)
			r.Post("/ship-all", h.shipAll)
			r.Post("/reprice", h.reprice)
		})
	})
}

// actor copies the caller id resolved by the identity gate in front of us.
func actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-User-Id"); id != "" {
			r = r.WithContext(orders.WithActor(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.CustomerID == "" || len(req.Lines) == 0 {
		badRequest(w, "missing fields")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Fast path; the unique external_id in the store stays the real guard.
	if h.Cache != nil && req.ExternalID != "" {
		if id, ok, _ := h.Cache.OrderFor(ctx, req.ExternalID); ok {
			if o, err := h.Service.Get(ctx, id); err == nil {
				writeJSON(w, http.StatusOK, CreateOrderResp{Order: o, Idempotent: true})
				return
			}
		}
	}

	o, existed, err := h.Service.Create(ctx, req)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if h.Cache != nil && req.ExternalID != "" {
		if err := h.Cache.RememberOrder(ctx, req.ExternalID, o.ID); err != nil {
			h.Log.Warn("idempotency key not cached", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	code := http.StatusCreated
	if existed {
		code = http.StatusOK
	}
	writeJSON(w, code, CreateOrderResp{Order: o, Idempotent: existed})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	f := orders.Filter{
		Status:     orders.Status(r.URL.Query().Get("status")),
		CustomerID: r.URL.Query().Get("customer_id"),
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			badRequest(w, "invalid limit")
			return
		}
		f.Limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Service.List(ctx, f)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Service.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.Cache != nil {
		if e, ok, err := h.Cache.Status(ctx, id); err == nil && ok {
			writeJSON(w, http.StatusOK, e)
			return
		}
	}

	// 2) store
	o, err := h.Service.Get(ctx, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	e := redisx.Entry(o.ID, string(o.Status), o.ProcessedAt)
	if h.Cache != nil {
		if _, err := h.Cache.SetStatus(ctx, e); err != nil {
			h.Log.Warn("status cache fill failed", zap.String("order_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *OrdersHandler) transition(op func(context.Context, string) (orders.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		o, err := op(ctx, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

func (h *OrdersHandler) ship(w http.ResponseWriter, r *http.Request) {
	var req ShipReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Service.Ship(ctx, chi.URLParam(r, "id"), req.ShipQty)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) shipAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Service.ShipAll(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) reprice(w http.ResponseWriter, r *http.Request) {
	var req RepriceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.Reprice(ctx, chi.URLParam(r, "id"), req.PriceList)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Service.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) sufficiency(w http.ResponseWriter, r *http.Request) {
	var req SufficiencyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if len(req.OrderIDs) == 0 {
		badRequest(w, "missing order_ids")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	res, err := h.Service.Sufficiency(ctx, req.OrderIDs)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
