package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/api/middleware"
	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/inventory"
)

const defaultExpiringDays = 30

// StockHandler handles restocking and stock reads
type StockHandler struct {
	inventory *inventory.Service
	logger    *zap.Logger
}

// NewStockHandler creates a new handler
func NewStockHandler(inv *inventory.Service, logger *zap.Logger) *StockHandler {
	return &StockHandler{inventory: inv, logger: orNop(logger)}
}

// Routes returns the handler routes
func (h *StockHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequireRole(domain.RolePharmacist, domain.RoleAdmin))
	r.Post("/add-item", h.AddItem)
	r.Get("/summary", h.Summary)
	r.Get("/expiring", h.Expiring)
	r.Get("/drug/{drugId}", h.ByDrug)
	return r
}

// AddItem handles POST /stock/add-item
func (h *StockHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req domain.RestockRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	item, err := h.inventory.AddStockBatch(r.Context(), actor, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// Summary handles GET /stock/summary
func (h *StockHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.inventory.StockSummary(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(summary))
}

// Expiring handles GET /stock/expiring?days=N
func (h *StockHandler) Expiring(w http.ResponseWriter, r *http.Request) {
	days := defaultExpiringDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, h.logger, domain.Invalid("days", "expected a whole number, got %q", v))
			return
		}
		days = n
	}

	items, err := h.inventory.ExpiringStock(r.Context(), days)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(items))
}

// ByDrug handles GET /stock/drug/{drugId}
func (h *StockHandler) ByDrug(w http.ResponseWriter, r *http.Request) {
	items, err := h.inventory.ListStock(r.Context(), chi.URLParam(r, "drugId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(items))
}
