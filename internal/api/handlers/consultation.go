package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/api/middleware"
	"github.com/drfirst/go-dispensary/internal/consultation"
	"github.com/drfirst/go-dispensary/internal/domain"
)

// an unknown patient or drug in the request body is bad input, not a missing resource
var consultationErrors = errorMapping{notFound: http.StatusBadRequest}

// ConsultationHandler records consultations
type ConsultationHandler struct {
	recorder *consultation.Recorder
	logger   *zap.Logger
}

// NewConsultationHandler creates a new handler
func NewConsultationHandler(recorder *consultation.Recorder, logger *zap.Logger) *ConsultationHandler {
	return &ConsultationHandler{recorder: recorder, logger: orNop(logger)}
}

// Routes returns the handler routes
func (h *ConsultationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(middleware.RequireRole(domain.RoleDoctor)).Post("/", h.Create)
	return r
}

// Create handles POST /consultations
func (h *ConsultationHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req domain.ConsultationRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	out, err := h.recorder.Record(r.Context(), actor, req)
	if err != nil {
		consultationErrors.write(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}
