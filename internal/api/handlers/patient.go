package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/api/middleware"
	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/patients"
)

// PatientHandler handles patient registration and lookup
type PatientHandler struct {
	patients *patients.Service
	logger   *zap.Logger
}

// NewPatientHandler creates a new handler
func NewPatientHandler(svc *patients.Service, logger *zap.Logger) *PatientHandler {
	return &PatientHandler{patients: svc, logger: orNop(logger)}
}

// Routes returns the handler routes
func (h *PatientHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(middleware.RequireRole(domain.RoleDoctor, domain.RoleAdmin)).Post("/", h.Register)
	r.Get("/", h.List)
	r.Get("/search/{mobile}", h.Search)
	r.Get("/{id}", h.History)
	return r
}

// Register handles POST /patients
func (h *PatientHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.Patient
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	p, err := h.patients.Register(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// List handles GET /patients
func (h *PatientHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.patients.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(list))
}

// Search handles GET /patients/search/{mobile}
func (h *PatientHandler) Search(w http.ResponseWriter, r *http.Request) {
	list, err := h.patients.SearchByMobile(r.Context(), chi.URLParam(r, "mobile"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(list))
}

// History handles GET /patients/{id}
func (h *PatientHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.patients.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}
