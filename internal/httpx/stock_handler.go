package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-stock-orders/internal/stock"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type StockHandler struct {
	Ledger  *stock.Ledger
	Catalog stock.Catalog
	Log     *zap.Logger
}

type RestockReq struct {
	Items []struct {
		ProductID stock.ProductID `json:"product_id"`
		Qty       int             `json:"qty"`
	} `json:"items"`
}

type DecrementResp struct {
	Applied bool `json:"applied"`
}

func (h *StockHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Put("/products/{id}", h.upsertProduct)
	r.Get("/stock", h.onHand)
	r.Post("/stock/restock", h.restock)
	r.Post("/stock/decrement", h.decrement)
}

func (h *StockHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Catalog.Products(ctx)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if ps == nil {
		ps = []stock.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *StockHandler) upsertProduct(w http.ResponseWriter, r *http.Request) {
	id, err := stock.ParseProductID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid product id")
		return
	}
	var p stock.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if strings.TrimSpace(p.Name) == "" {
		badRequest(w, "missing name")
		return
	}
	p.ID = id

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	out, err := h.Catalog.UpsertProduct(ctx, p)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// onHand serves GET /stock?ids=1,2,3. Unknown ids are left out.
func (h *StockHandler) onHand(w http.ResponseWriter, r *http.Request) {
	var ids []stock.ProductID
	for _, s := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		id, err := stock.ParseProductID(s)
		if err != nil {
			badRequest(w, "invalid id "+strconv.Quote(s))
			return
		}
		ids = append(ids, id)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	m, err := h.Ledger.GetOnHand(ctx, ids)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	out := make(map[string]int, len(m))
	for id, q := range m {
		out[strconv.FormatInt(int64(id), 10)] = q
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *StockHandler) request(w http.ResponseWriter, r *http.Request) (stock.Request, bool) {
	var req RestockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return nil, false
	}
	if len(req.Items) == 0 {
		badRequest(w, "missing items")
		return nil, false
	}
	out := stock.Request{}
	for _, it := range req.Items {
		out.Add(it.ProductID, it.Qty)
	}
	return out, true
}

func (h *StockHandler) restock(w http.ResponseWriter, r *http.Request) {
	req, ok := h.request(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Ledger.Restock(ctx, req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decrement is the raw ledger operation, for stock corrections outside any
// order. applied=false means nothing changed.
func (h *StockHandler) decrement(w http.ResponseWriter, r *http.Request) {
	req, ok := h.request(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	applied, err := h.Ledger.DecrementIfSufficient(ctx, req)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, DecrementResp{Applied: applied})
}
