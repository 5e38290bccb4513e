package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/api/middleware"
	"github.com/drfirst/go-dispensary/internal/dispensing"
	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/store"
)

// dispenseErrors reports an unknown prescription id as bad input
var dispenseErrors = errorMapping{notFound: http.StatusBadRequest}

// PrescriptionHandler handles the pharmacy queue and dispensing endpoints
type PrescriptionHandler struct {
	engine *dispensing.Engine
	store  store.Store
	logger *zap.Logger
}

// NewPrescriptionHandler creates a new handler
func NewPrescriptionHandler(engine *dispensing.Engine, s store.Store, logger *zap.Logger) *PrescriptionHandler {
	return &PrescriptionHandler{engine: engine, store: s, logger: orNop(logger)}
}

// Routes returns the handler routes
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	pharmacy := middleware.RequireRole(domain.RolePharmacist, domain.RoleAdmin)

	r.With(pharmacy).Get("/pending", h.listByStatus(domain.StatusPending))
	r.With(pharmacy).Get("/dispensed", h.listByStatus(domain.StatusDispensed))
	r.Get("/{id}", h.Get)
	r.With(pharmacy).Post("/{id}/dispense", h.Dispense)
	return r
}

// DispenseResponse is the body of a successful dispense
type DispenseResponse struct {
	PrescriptionID string                    `json:"prescriptionId"`
	BillID         string                    `json:"billId"`
	TotalBill      decimal.Decimal           `json:"totalBill"`
	Status         domain.PrescriptionStatus `json:"status"`
	DispensedAt    time.Time                 `json:"dispensedAt"`
	Allocations    []domain.Allocation       `json:"allocations"`
}

// Dispense handles POST /prescriptions/{id}/dispense
func (h *PrescriptionHandler) Dispense(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.engine.Dispense(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		dispenseErrors.write(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, DispenseResponse{
		PrescriptionID: result.Prescription.ID,
		BillID:         result.Bill.ID,
		TotalBill:      result.TotalBill,
		Status:         result.Prescription.Status,
		DispensedAt:    result.Bill.IssuedAt,
		Allocations:    result.Allocations,
	})
}

// Get handles GET /prescriptions/{id}
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetPrescription(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PrescriptionHandler) listByStatus(status domain.PrescriptionStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := h.store.ListPrescriptions(r.Context(), status)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, listOf(list))
	}
}
