// Package memory provides an in-process store for development and tests.
// Transactions are serialized and applied copy-on-write, so a failed
// transaction leaves no trace.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/store"
)

type state struct {
	drugs         map[string]domain.Drug
	stock         map[string]domain.StockItem
	patients      map[string]domain.Patient
	consultations map[string]domain.Consultation
	prescriptions map[string]domain.Prescription
	bills         map[string]domain.Bill
	users         map[string]domain.User
	events        []domain.Event
}

func newState() *state {
	return &state{
		drugs:         map[string]domain.Drug{},
		stock:         map[string]domain.StockItem{},
		patients:      map[string]domain.Patient{},
		consultations: map[string]domain.Consultation{},
		prescriptions: map[string]domain.Prescription{},
		bills:         map[string]domain.Bill{},
		users:         map[string]domain.User{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.drugs {
		c.drugs[k] = v
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	for k, v := range s.patients {
		c.patients[k] = v
	}
	for k, v := range s.consultations {
		v.Attachments = append([]string(nil), v.Attachments...)
		c.consultations[k] = v
	}
	for k, v := range s.prescriptions {
		v.Lines = append([]domain.PrescribedDrug(nil), v.Lines...)
		c.prescriptions[k] = v
	}
	for k, v := range s.bills {
		c.bills[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	c.events = append([]domain.Event(nil), s.events...)
	return c
}

// Store is a mutex-guarded in-memory implementation of store.Store
type Store struct {
	mu sync.Mutex
	st *state
}

// New creates an empty store
func New() *Store {
	return &Store{st: newState()}
}

var _ store.Store = (*Store)(nil)

// Ping always succeeds
func (s *Store) Ping(context.Context) error { return nil }

// InTx serializes transactions. fn sees a private copy that replaces the
// committed state only if fn succeeds.
func (s *Store) InTx(ctx context.Context, fn store.TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	working := s.st.clone()
	if err := fn(ctx, &tx{st: working}); err != nil {
		return err
	}
	s.st = working
	return nil
}

// Events returns every event appended by committed transactions
func (s *Store) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.st.events...)
}

// BillsFor returns the bills recorded against a prescription
func (s *Store) BillsFor(prescriptionID string) []domain.Bill {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Bill
	for _, b := range s.st.bills {
		if b.PrescriptionID == prescriptionID {
			out = append(out, b)
		}
	}
	return out
}

// StockItem returns a batch by id
func (s *Store) StockItem(id string) (domain.StockItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.st.stock[id]
	return item, ok
}

// Counts reports row counts for consultations, prescriptions and bills
func (s *Store) Counts() (consultations, prescriptions, bills int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.consultations), len(s.st.prescriptions), len(s.st.bills)
}

// CreateDrug inserts a drug with a unique name
func (s *Store) CreateDrug(_ context.Context, d *domain.Drug) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.drugNameTaken(d.Name, "") {
		return domain.Conflict("drug", "name "+d.Name+" already exists")
	}
	s.st.drugs[d.ID] = *d
	return nil
}

// UpdateDrug replaces name and dosage form
func (s *Store) UpdateDrug(_ context.Context, d *domain.Drug) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.st.drugs[d.ID]
	if !ok {
		return domain.NotFound("drug", d.ID)
	}
	if s.st.drugNameTaken(d.Name, d.ID) {
		return domain.Conflict("drug", "name "+d.Name+" already exists")
	}
	existing.Name = d.Name
	existing.DosageForm = d.DosageForm
	s.st.drugs[d.ID] = existing
	*d = existing
	return nil
}

// DeleteDrug removes a drug no batch or prescription line references
func (s *Store) DeleteDrug(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.drugs[id]; !ok {
		return domain.NotFound("drug", id)
	}
	for _, item := range s.st.stock {
		if item.DrugID == id {
			return domain.Conflict("drug", "referenced by stock batches")
		}
	}
	for _, p := range s.st.prescriptions {
		for _, line := range p.Lines {
			if line.DrugID == id {
				return domain.Conflict("drug", "referenced by prescriptions")
			}
		}
	}
	delete(s.st.drugs, id)
	return nil
}

// GetDrug returns a drug by id
func (s *Store) GetDrug(_ context.Context, id string) (*domain.Drug, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getDrug(id)
}

// ListDrugs returns the catalog ordered by name
func (s *Store) ListDrugs(context.Context) ([]domain.Drug, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Drug, 0, len(s.st.drugs))
	for _, d := range s.st.drugs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListStockItems returns every batch of a drug in FEFO order
func (s *Store) ListStockItems(_ context.Context, drugID string) ([]domain.StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StockItem
	for _, item := range s.st.stock {
		if item.DrugID == drugID {
			out = append(out, s.st.withDrugName(item))
		}
	}
	domain.SortFEFO(out)
	return out, nil
}

// ListExpiringStock returns batches with stock expiring before the cutoff
func (s *Store) ListExpiringStock(_ context.Context, before time.Time) ([]domain.StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StockItem
	for _, item := range s.st.stock {
		if item.QuantityInStock > 0 && item.ExpiryDate.Before(before) {
			out = append(out, s.st.withDrugName(item))
		}
	}
	domain.SortFEFO(out)
	return out, nil
}

// StockSummary aggregates stock per drug
func (s *Store) StockSummary(context.Context) ([]domain.StockSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDrug := make(map[string]*domain.StockSummary, len(s.st.drugs))
	for _, d := range s.st.drugs {
		byDrug[d.ID] = &domain.StockSummary{DrugID: d.ID, DrugName: d.Name, DosageForm: d.DosageForm}
	}
	for _, item := range s.st.stock {
		sum, ok := byDrug[item.DrugID]
		if !ok || item.QuantityInStock <= 0 {
			continue
		}
		sum.TotalQuantity += item.QuantityInStock
		sum.ActiveBatches++
		if sum.EarliestExpiry == nil || item.ExpiryDate.Before(*sum.EarliestExpiry) {
			expiry := item.ExpiryDate
			sum.EarliestExpiry = &expiry
		}
	}
	out := make([]domain.StockSummary, 0, len(byDrug))
	for _, sum := range byDrug {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DrugName < out[j].DrugName })
	return out, nil
}

// CreatePatient inserts a patient with a unique mobile number
func (s *Store) CreatePatient(_ context.Context, p *domain.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.st.patients {
		if existing.MobileNumber == p.MobileNumber {
			return domain.Conflict("patient", "mobile number "+p.MobileNumber+" already registered")
		}
	}
	s.st.patients[p.ID] = *p
	return nil
}

// GetPatient returns a patient by id
func (s *Store) GetPatient(_ context.Context, id string) (*domain.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getPatient(id)
}

// ListPatients returns patients newest first
func (s *Store) ListPatients(context.Context) ([]domain.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.patientsWhere(func(domain.Patient) bool { return true }), nil
}

// SearchPatients matches mobile numbers by prefix
func (s *Store) SearchPatients(_ context.Context, mobilePrefix string) ([]domain.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.patientsWhere(func(p domain.Patient) bool {
		return strings.HasPrefix(p.MobileNumber, mobilePrefix)
	}), nil
}

// ListConsultations returns a patient's consultations with prescriptions, newest first
func (s *Store) ListConsultations(_ context.Context, patientID string) ([]domain.Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Consultation
	for _, c := range s.st.consultations {
		if c.PatientID != patientID {
			continue
		}
		c.Attachments = append([]string{}, c.Attachments...)
		if u, ok := s.st.users[c.DoctorID]; ok {
			c.DoctorName = u.Name
		}
		for _, p := range s.st.prescriptions {
			if p.ConsultationID == c.ID {
				full := s.st.fullPrescription(p)
				c.Prescription = &full
				break
			}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// GetPrescription returns a prescription with lines and bill
func (s *Store) GetPrescription(_ context.Context, id string) (*domain.Prescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.prescriptions[id]
	if !ok {
		return nil, domain.NotFound("prescription", id)
	}
	full := s.st.fullPrescription(p)
	return &full, nil
}

// ListPrescriptions returns prescriptions in a status. Pending oldest first,
// dispensed newest first.
func (s *Store) ListPrescriptions(_ context.Context, status domain.PrescriptionStatus) ([]domain.PrescriptionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PrescriptionSummary
	for _, p := range s.st.prescriptions {
		if p.Status != status {
			continue
		}
		sum := domain.PrescriptionSummary{
			ID:             p.ID,
			ConsultationID: p.ConsultationID,
			Status:         p.Status,
			ItemCount:      len(p.Lines),
			CreatedAt:      p.CreatedAt,
			DispensedAt:    p.DispensedAt,
		}
		if c, ok := s.st.consultations[p.ConsultationID]; ok {
			sum.PatientID = c.PatientID
			if pt, ok := s.st.patients[c.PatientID]; ok {
				sum.PatientName = pt.Name
				sum.PatientMobile = pt.MobileNumber
			}
			if u, ok := s.st.users[c.DoctorID]; ok {
				sum.DoctorName = u.Name
			}
		}
		if b := s.st.billFor(p.ID); b != nil {
			total := b.TotalAmount
			sum.TotalAmount = &total
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if status == domain.StatusDispensed && out[i].DispensedAt != nil && out[j].DispensedAt != nil {
			return out[i].DispensedAt.After(*out[j].DispensedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListBills returns bills issued in [from, to), newest first
func (s *Store) ListBills(_ context.Context, from, to time.Time) ([]domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Bill
	for _, b := range s.st.bills {
		if b.IssuedAt.Before(from) || !b.IssuedAt.Before(to) {
			continue
		}
		if p, ok := s.st.prescriptions[b.PrescriptionID]; ok {
			if c, ok := s.st.consultations[p.ConsultationID]; ok {
				b.PatientName = s.st.patients[c.PatientID].Name
			}
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

// CreateUser inserts a user with a unique username
func (s *Store) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.st.users {
		if strings.EqualFold(existing.Username, u.Username) {
			return domain.Conflict("user", "username "+u.Username+" already exists")
		}
	}
	s.st.users[u.ID] = *u
	return nil
}

// GetUserByUsername looks a user up case-insensitively
func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.st.users {
		if strings.EqualFold(u.Username, username) {
			found := u
			return &found, nil
		}
	}
	return nil, domain.NotFound("user", username)
}

// CountUsers returns the number of accounts
func (s *Store) CountUsers(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.users), nil
}

type tx struct {
	st *state
}

func (t *tx) LockPrescription(_ context.Context, id string) (*domain.Prescription, error) {
	p, ok := t.st.prescriptions[id]
	if !ok {
		return nil, domain.NotFound("prescription", id)
	}
	full := t.st.fullPrescription(p)
	return &full, nil
}

func (t *tx) LockDispensableBatches(_ context.Context, drugID string) ([]domain.StockItem, error) {
	var out []domain.StockItem
	for _, item := range t.st.stock {
		if item.DrugID == drugID && item.QuantityInStock > 0 {
			out = append(out, item)
		}
	}
	domain.SortFEFO(out)
	return out, nil
}

func (t *tx) DeductStock(_ context.Context, stockItemID string, qty int) error {
	item, ok := t.st.stock[stockItemID]
	if !ok || item.QuantityInStock < qty {
		return store.ErrStaleStock
	}
	item.QuantityInStock -= qty
	t.st.stock[stockItemID] = item
	return nil
}

func (t *tx) InsertBill(_ context.Context, b *domain.Bill) error {
	if t.st.billFor(b.PrescriptionID) != nil {
		return domain.Conflict("bill", "prescription "+b.PrescriptionID+" already billed")
	}
	t.st.bills[b.ID] = *b
	return nil
}

func (t *tx) MarkDispensed(_ context.Context, prescriptionID, userID string, at time.Time) error {
	p, ok := t.st.prescriptions[prescriptionID]
	if !ok {
		return domain.NotFound("prescription", prescriptionID)
	}
	if p.Status != domain.StatusPending {
		return domain.ErrAlreadyDispensed
	}
	by := userID
	dispensedAt := at
	p.Status = domain.StatusDispensed
	p.DispensedAt = &dispensedAt
	p.DispensedBy = &by
	t.st.prescriptions[prescriptionID] = p
	return nil
}

func (t *tx) GetDrug(_ context.Context, id string) (*domain.Drug, error) {
	return t.st.getDrug(id)
}

func (t *tx) InsertStockItem(_ context.Context, item *domain.StockItem) error {
	if _, ok := t.st.drugs[item.DrugID]; !ok {
		return domain.NotFound("drug", item.DrugID)
	}
	t.st.stock[item.ID] = *item
	return nil
}

func (t *tx) GetPatient(_ context.Context, id string) (*domain.Patient, error) {
	return t.st.getPatient(id)
}

func (t *tx) UpdatePatientWeight(_ context.Context, patientID string, weightKg float64) error {
	p, ok := t.st.patients[patientID]
	if !ok {
		return domain.NotFound("patient", patientID)
	}
	w := weightKg
	p.CurrentWeightKg = &w
	t.st.patients[patientID] = p
	return nil
}

func (t *tx) InsertConsultation(_ context.Context, c *domain.Consultation) error {
	if _, ok := t.st.patients[c.PatientID]; !ok {
		return domain.NotFound("patient", c.PatientID)
	}
	stored := *c
	stored.Attachments = append([]string{}, c.Attachments...)
	stored.Prescription = nil
	t.st.consultations[c.ID] = stored
	return nil
}

func (t *tx) InsertPrescription(_ context.Context, p *domain.Prescription) error {
	if _, ok := t.st.consultations[p.ConsultationID]; !ok {
		return domain.NotFound("consultation", p.ConsultationID)
	}
	for _, line := range p.Lines {
		if _, ok := t.st.drugs[line.DrugID]; !ok {
			return domain.NotFound("drug", line.DrugID)
		}
	}
	stored := *p
	stored.Lines = append([]domain.PrescribedDrug(nil), p.Lines...)
	stored.Bill = nil
	t.st.prescriptions[p.ID] = stored
	return nil
}

func (t *tx) AppendEvent(_ context.Context, e *domain.Event) error {
	t.st.events = append(t.st.events, *e)
	return nil
}

func (s *state) getDrug(id string) (*domain.Drug, error) {
	d, ok := s.drugs[id]
	if !ok {
		return nil, domain.NotFound("drug", id)
	}
	return &d, nil
}

func (s *state) getPatient(id string) (*domain.Patient, error) {
	p, ok := s.patients[id]
	if !ok {
		return nil, domain.NotFound("patient", id)
	}
	return &p, nil
}

func (s *state) drugNameTaken(name, exceptID string) bool {
	for _, d := range s.drugs {
		if d.ID != exceptID && strings.EqualFold(d.Name, name) {
			return true
		}
	}
	return false
}

func (s *state) withDrugName(item domain.StockItem) domain.StockItem {
	item.DrugName = s.drugs[item.DrugID].Name
	return item
}

func (s *state) billFor(prescriptionID string) *domain.Bill {
	for _, b := range s.bills {
		if b.PrescriptionID == prescriptionID {
			found := b
			return &found
		}
	}
	return nil
}

func (s *state) fullPrescription(p domain.Prescription) domain.Prescription {
	lines := make([]domain.PrescribedDrug, len(p.Lines))
	for i, line := range p.Lines {
		line.DrugName = s.drugs[line.DrugID].Name
		lines[i] = line
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].DrugID < lines[j].DrugID })
	p.Lines = lines
	p.Bill = s.billFor(p.ID)
	return p
}

func (s *state) patientsWhere(keep func(domain.Patient) bool) []domain.Patient {
	var out []domain.Patient
	for _, p := range s.patients {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// sumQuantities totals a drug's stock and reports whether any batch went negative
func (s *Store) sumQuantities(drugID string) (total int, negative bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.st.stock {
		if item.DrugID != drugID {
			continue
		}
		total += item.QuantityInStock
		if item.QuantityInStock < 0 {
			negative = true
		}
	}
	return total, negative
}
