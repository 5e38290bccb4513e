package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/billing"
	"github.com/drfirst/go-dispensary/internal/domain"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// BillHandler serves billing reads and the revenue export
type BillHandler struct {
	billing *billing.Service
	logger  *zap.Logger
}

// NewBillHandler creates a new handler
func NewBillHandler(svc *billing.Service, logger *zap.Logger) *BillHandler {
	return &BillHandler{billing: svc, logger: orNop(logger)}
}

// Routes returns the handler routes
func (h *BillHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/income", h.Income)
	return r
}

// List handles GET /bills?from=YYYY-MM-DD&to=YYYY-MM-DD. Both ends default
// to today; to is inclusive of the whole day.
func (h *BillHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	today := time.Now().UTC().Format(domain.DateLayout)

	from, err := dateParam(q.Get("from"), today, "from")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	to, err := dateParam(q.Get("to"), today, "to")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	bills, err := h.billing.List(r.Context(), from, to.AddDate(0, 0, 1))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(bills))
}

// Income handles GET /bills/income?range=today|week|month
func (h *BillHandler) Income(w http.ResponseWriter, r *http.Request) {
	summary, err := h.billing.Income(r.Context(), billing.Range(r.URL.Query().Get("range")))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Revenue handles GET /admin/financials/revenue.xlsx?month=YYYY-MM
func (h *BillHandler) Revenue(w http.ResponseWriter, r *http.Request) {
	month := r.URL.Query().Get("month")
	if month == "" {
		month = time.Now().UTC().Format("2006-01")
	}

	// buffered so a failed export can still be reported as JSON
	var buf bytes.Buffer
	summary, err := h.billing.ExportRevenue(r.Context(), month, &buf)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="revenue-%s.xlsx"`, month))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Bill-Count", strconv.Itoa(summary.BillCount))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func dateParam(v, fallback, field string) (time.Time, error) {
	if v == "" {
		v = fallback
	}
	t, err := domain.ParseDate(v)
	if err != nil {
		return time.Time{}, domain.Invalid(field, "expected YYYY-MM-DD, got %q", v)
	}
	return t, nil
}
