// Package api assembles the clinic HTTP API
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/api/handlers"
	"github.com/drfirst/go-dispensary/internal/api/middleware"
	"github.com/drfirst/go-dispensary/internal/auth"
	"github.com/drfirst/go-dispensary/internal/billing"
	"github.com/drfirst/go-dispensary/internal/consultation"
	"github.com/drfirst/go-dispensary/internal/dispensing"
	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/inventory"
	"github.com/drfirst/go-dispensary/internal/observability/metrics"
	"github.com/drfirst/go-dispensary/internal/patients"
	"github.com/drfirst/go-dispensary/internal/store"
)

// Deps are the services the router exposes
type Deps struct {
	Service   string
	Store     store.Store
	Auth      *auth.Service
	Engine    *dispensing.Engine
	Recorder  *consultation.Recorder
	Inventory *inventory.Service
	Patients  *patients.Service
	Billing   *billing.Service

	// Readiness lists the dependencies /ready pings. The store is always checked.
	Readiness      map[string]handlers.Pinger
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	Logger         *zap.Logger
}

// NewRouter builds the routing tree
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if d.Service == "" {
		d.Service = "clinic-api"
	}

	ready := map[string]handlers.Pinger{"store": d.Store}
	for name, p := range d.Readiness {
		ready[name] = p
	}

	prescriptions := handlers.NewPrescriptionHandler(d.Engine, d.Store, logger)
	consultations := handlers.NewConsultationHandler(d.Recorder, logger)
	stock := handlers.NewStockHandler(d.Inventory, logger)
	drugs := handlers.NewDrugHandler(d.Inventory, logger)
	patientHandler := handlers.NewPatientHandler(d.Patients, logger)
	bills := handlers.NewBillHandler(d.Billing, logger)
	authHandler := handlers.NewAuthHandler(d.Auth, logger)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics(d.Metrics))
	r.Use(middleware.Tracing(d.Service))

	// Health checks (no auth)
	r.Get("/health", handlers.Health(d.Service))
	r.Get("/ready", handlers.Ready(ready))
	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", authHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(d.Auth))

			r.Mount("/consultations", consultations.Routes())
			r.Mount("/prescriptions", prescriptions.Routes())
			r.Mount("/stock", stock.Routes())
			r.Mount("/drugs", drugs.Routes())
			r.Mount("/patients", patientHandler.Routes())
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(domain.RolePharmacist, domain.RoleAdmin))
				r.Mount("/bills", bills.Routes())
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(domain.RoleAdmin))
				r.Mount("/drugs", drugs.AdminRoutes())
				r.Post("/users", authHandler.CreateUser)
				r.Get("/financials/revenue.xlsx", bills.Revenue)
			})
		})
	})

	return r
}
