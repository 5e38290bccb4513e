package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/inventory"
)

// DrugHandler serves the drug catalog
type DrugHandler struct {
	inventory *inventory.Service
	logger    *zap.Logger
}

// NewDrugHandler creates a new handler
func NewDrugHandler(inv *inventory.Service, logger *zap.Logger) *DrugHandler {
	return &DrugHandler{inventory: inv, logger: orNop(logger)}
}

// Routes returns the read routes open to every role
func (h *DrugHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	return r
}

// AdminRoutes returns the catalog maintenance routes. The caller mounts
// them behind an ADMIN role check.
func (h *DrugHandler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	return r
}

// List handles GET /drugs
func (h *DrugHandler) List(w http.ResponseWriter, r *http.Request) {
	drugs, err := h.inventory.ListDrugs(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(drugs))
}

// Get handles GET /drugs/{id}
func (h *DrugHandler) Get(w http.ResponseWriter, r *http.Request) {
	drug, err := h.inventory.GetDrug(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, drug)
}

// Create handles POST /admin/drugs
func (h *DrugHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.Drug
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	drug, err := h.inventory.CreateDrug(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, drug)
}

// Update handles PUT /admin/drugs/{id}
func (h *DrugHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.Drug
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	drug, err := h.inventory.UpdateDrug(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, drug)
}

// Delete handles DELETE /admin/drugs/{id}
func (h *DrugHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.inventory.DeleteDrug(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
