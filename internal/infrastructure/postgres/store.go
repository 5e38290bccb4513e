// Package postgres provides PostgreSQL infrastructure components: the
// clinic store and the transactional outbox relay.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/store"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// queryer is satisfied by both *pgxpool.Pool and pgx.Tx
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.Store on a pgx pool
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// NewStore wraps a pool
func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Connect opens a pool and verifies connectivity
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Pool exposes the underlying pool for the outbox and inbox
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InTx runs fn in a READ COMMITTED transaction. Row locks taken inside fn
// serialize competing writers.
func (s *Store) InTx(ctx context.Context, fn store.TxFunc) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateDrug inserts a drug
func (s *Store) CreateDrug(ctx context.Context, d *domain.Drug) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO drugs (id, name, dosage_form, created_at) VALUES ($1, $2, $3, $4)`,
		d.ID, d.Name, string(d.DosageForm), d.CreatedAt)
	if isPgError(err, pgUniqueViolation) {
		return domain.Conflict("drug", "name "+d.Name+" already exists")
	}
	if err != nil {
		return fmt.Errorf("insert drug: %w", err)
	}
	return nil
}

// UpdateDrug changes name and dosage form
func (s *Store) UpdateDrug(ctx context.Context, d *domain.Drug) error {
	err := s.pool.QueryRow(ctx,
		`UPDATE drugs SET name = $2, dosage_form = $3 WHERE id = $1 RETURNING created_at`,
		d.ID, d.Name, string(d.DosageForm)).Scan(&d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotFound("drug", d.ID)
	}
	if isPgError(err, pgUniqueViolation) {
		return domain.Conflict("drug", "name "+d.Name+" already exists")
	}
	if err != nil {
		return fmt.Errorf("update drug: %w", err)
	}
	return nil
}

// DeleteDrug removes an unreferenced drug
func (s *Store) DeleteDrug(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM drugs WHERE id = $1`, id)
	if isPgError(err, pgForeignKeyViolation) {
		return domain.Conflict("drug", "referenced by stock batches or prescriptions")
	}
	if err != nil {
		return fmt.Errorf("delete drug: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("drug", id)
	}
	return nil
}

// GetDrug returns a drug by id
func (s *Store) GetDrug(ctx context.Context, id string) (*domain.Drug, error) {
	return getDrug(ctx, s.pool, id)
}

// ListDrugs returns the catalog ordered by name
func (s *Store) ListDrugs(ctx context.Context) ([]domain.Drug, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, dosage_form, created_at FROM drugs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query drugs: %w", err)
	}
	defer rows.Close()

	var out []domain.Drug
	for rows.Next() {
		var d domain.Drug
		if err := rows.Scan(&d.ID, &d.Name, &d.DosageForm, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan drug: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const stockColumns = `s.id, s.drug_id, d.name, s.batch_number, s.expiry_date, s.quantity_in_stock,
	s.purchase_price, s.selling_price, s.supplier_id, s.created_at`

// ListStockItems returns all batches of a drug in FEFO order
func (s *Store) ListStockItems(ctx context.Context, drugID string) ([]domain.StockItem, error) {
	return queryStock(ctx, s.pool, `
		SELECT `+stockColumns+`
		FROM stock_items s JOIN drugs d ON d.id = s.drug_id
		WHERE s.drug_id = $1
		ORDER BY s.expiry_date, s.created_at, s.id`, drugID)
}

// ListExpiringStock returns batches with stock expiring before the cutoff
func (s *Store) ListExpiringStock(ctx context.Context, before time.Time) ([]domain.StockItem, error) {
	return queryStock(ctx, s.pool, `
		SELECT `+stockColumns+`
		FROM stock_items s JOIN drugs d ON d.id = s.drug_id
		WHERE s.quantity_in_stock > 0 AND s.expiry_date < $1
		ORDER BY s.expiry_date, s.created_at, s.id`, before)
}

// StockSummary aggregates on-hand stock per drug
func (s *Store) StockSummary(ctx context.Context) ([]domain.StockSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.name, d.dosage_form,
		       COALESCE(SUM(s.quantity_in_stock), 0),
		       COUNT(s.id),
		       MIN(s.expiry_date)
		FROM drugs d
		LEFT JOIN stock_items s ON s.drug_id = d.id AND s.quantity_in_stock > 0
		GROUP BY d.id, d.name, d.dosage_form
		ORDER BY d.name`)
	if err != nil {
		return nil, fmt.Errorf("query stock summary: %w", err)
	}
	defer rows.Close()

	var out []domain.StockSummary
	for rows.Next() {
		var sum domain.StockSummary
		var total int64
		var batches int64
		if err := rows.Scan(&sum.DrugID, &sum.DrugName, &sum.DosageForm, &total, &batches, &sum.EarliestExpiry); err != nil {
			return nil, fmt.Errorf("scan stock summary: %w", err)
		}
		sum.TotalQuantity = int(total)
		sum.ActiveBatches = int(batches)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// CreatePatient registers a patient
func (s *Store) CreatePatient(ctx context.Context, p *domain.Patient) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO patients (id, name, mobile_number, current_weight_kg, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Name, p.MobileNumber, p.CurrentWeightKg, p.CreatedAt)
	if isPgError(err, pgUniqueViolation) {
		return domain.Conflict("patient", "mobile number "+p.MobileNumber+" already registered")
	}
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

// GetPatient returns a patient by id
func (s *Store) GetPatient(ctx context.Context, id string) (*domain.Patient, error) {
	return getPatient(ctx, s.pool, id, false)
}

// ListPatients returns patients newest first
func (s *Store) ListPatients(ctx context.Context) ([]domain.Patient, error) {
	return queryPatients(ctx, s.pool, `
		SELECT id, name, mobile_number, current_weight_kg, created_at
		FROM patients ORDER BY created_at DESC`)
}

// SearchPatients matches mobile numbers by prefix
func (s *Store) SearchPatients(ctx context.Context, mobilePrefix string) ([]domain.Patient, error) {
	return queryPatients(ctx, s.pool, `
		SELECT id, name, mobile_number, current_weight_kg, created_at
		FROM patients WHERE mobile_number LIKE $1 || '%'
		ORDER BY created_at DESC`, mobilePrefix)
}

// ListConsultations returns a patient's consultations with their prescriptions
func (s *Store) ListConsultations(ctx context.Context, patientID string) ([]domain.Consultation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.patient_id, c.doctor_id, COALESCE(u.name, ''), c.diagnosis,
		       c.weight_at_consultation, c.created_at, p.id
		FROM consultations c
		LEFT JOIN users u ON u.id = c.doctor_id
		LEFT JOIN prescriptions p ON p.consultation_id = c.id
		WHERE c.patient_id = $1
		ORDER BY c.created_at DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("query consultations: %w", err)
	}

	var out []domain.Consultation
	var prescriptionIDs []*string
	for rows.Next() {
		var c domain.Consultation
		var prescriptionID *string
		if err := rows.Scan(&c.ID, &c.PatientID, &c.DoctorID, &c.DoctorName, &c.Diagnosis,
			&c.WeightAtConsultation, &c.CreatedAt, &prescriptionID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan consultation: %w", err)
		}
		out = append(out, c)
		prescriptionIDs = append(prescriptionIDs, prescriptionID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		attachments, err := loadAttachments(ctx, s.pool, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Attachments = attachments
		if prescriptionIDs[i] == nil {
			continue
		}
		p, err := loadPrescription(ctx, s.pool, *prescriptionIDs[i], false)
		if err != nil {
			return nil, err
		}
		out[i].Prescription = p
	}
	return out, nil
}

// GetPrescription returns a prescription with lines and bill
func (s *Store) GetPrescription(ctx context.Context, id string) (*domain.Prescription, error) {
	return loadPrescription(ctx, s.pool, id, false)
}

// ListPrescriptions returns the pharmacy queue for a status
func (s *Store) ListPrescriptions(ctx context.Context, status domain.PrescriptionStatus) ([]domain.PrescriptionSummary, error) {
	order := "p.created_at ASC"
	if status == domain.StatusDispensed {
		order = "p.dispensed_at DESC"
	}
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.consultation_id, p.status, pt.id, pt.name, pt.mobile_number,
		       COALESCE(u.name, ''),
		       (SELECT COUNT(*) FROM prescribed_drugs pd WHERE pd.prescription_id = p.id),
		       p.created_at, p.dispensed_at, b.total_amount
		FROM prescriptions p
		JOIN consultations c ON c.id = p.consultation_id
		JOIN patients pt ON pt.id = c.patient_id
		LEFT JOIN users u ON u.id = c.doctor_id
		LEFT JOIN pharmacy_bills b ON b.prescription_id = p.id
		WHERE p.status = $1
		ORDER BY `+order, string(status))
	if err != nil {
		return nil, fmt.Errorf("query prescriptions: %w", err)
	}
	defer rows.Close()

	var out []domain.PrescriptionSummary
	for rows.Next() {
		var sum domain.PrescriptionSummary
		var items int64
		if err := rows.Scan(&sum.ID, &sum.ConsultationID, &sum.Status, &sum.PatientID, &sum.PatientName,
			&sum.PatientMobile, &sum.DoctorName, &items, &sum.CreatedAt, &sum.DispensedAt, &sum.TotalAmount); err != nil {
			return nil, fmt.Errorf("scan prescription summary: %w", err)
		}
		sum.ItemCount = int(items)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ListBills returns bills issued in [from, to), newest first
func (s *Store) ListBills(ctx context.Context, from, to time.Time) ([]domain.Bill, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT b.id, b.prescription_id, b.total_amount, b.issued_at, pt.name
		FROM pharmacy_bills b
		JOIN prescriptions p ON p.id = b.prescription_id
		JOIN consultations c ON c.id = p.consultation_id
		JOIN patients pt ON pt.id = c.patient_id
		WHERE b.issued_at >= $1 AND b.issued_at < $2
		ORDER BY b.issued_at DESC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query bills: %w", err)
	}
	defer rows.Close()

	var out []domain.Bill
	for rows.Next() {
		var b domain.Bill
		if err := rows.Scan(&b.ID, &b.PrescriptionID, &b.TotalAmount, &b.IssuedAt, &b.PatientName); err != nil {
			return nil, fmt.Errorf("scan bill: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CreateUser inserts a staff account
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, password_hash, name, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.PasswordHash, u.Name, string(u.Role), u.CreatedAt)
	if isPgError(err, pgUniqueViolation) {
		return domain.Conflict("user", "username "+u.Username+" already exists")
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByUsername looks a user up case-insensitively
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, name, role, created_at
		FROM users WHERE LOWER(username) = LOWER($1)`, username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Name, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("user", username)
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// CountUsers returns the number of accounts
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return int(n), nil
}

func getDrug(ctx context.Context, q queryer, id string) (*domain.Drug, error) {
	var d domain.Drug
	err := q.QueryRow(ctx, `SELECT id, name, dosage_form, created_at FROM drugs WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.DosageForm, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("drug", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query drug: %w", err)
	}
	return &d, nil
}

func getPatient(ctx context.Context, q queryer, id string, lock bool) (*domain.Patient, error) {
	query := `SELECT id, name, mobile_number, current_weight_kg, created_at FROM patients WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var p domain.Patient
	err := q.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.MobileNumber, &p.CurrentWeightKg, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("patient", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query patient: %w", err)
	}
	return &p, nil
}

func queryPatients(ctx context.Context, q queryer, sql string, args ...any) ([]domain.Patient, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	defer rows.Close()

	var out []domain.Patient
	for rows.Next() {
		var p domain.Patient
		if err := rows.Scan(&p.ID, &p.Name, &p.MobileNumber, &p.CurrentWeightKg, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func queryStock(ctx context.Context, q queryer, sql string, args ...any) ([]domain.StockItem, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query stock: %w", err)
	}
	defer rows.Close()

	var out []domain.StockItem
	for rows.Next() {
		var item domain.StockItem
		if err := rows.Scan(&item.ID, &item.DrugID, &item.DrugName, &item.BatchNumber, &item.ExpiryDate,
			&item.QuantityInStock, &item.PurchasePrice, &item.SellingPrice, &item.SupplierID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stock item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func loadAttachments(ctx context.Context, q queryer, consultationID string) ([]string, error) {
	rows, err := q.Query(ctx, `
		SELECT reference FROM consultation_attachments
		WHERE consultation_id = $1 ORDER BY position`, consultationID)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// loadPrescription reads the prescription row, optionally locking it, then
// its lines ordered by drug id and its bill if any
func loadPrescription(ctx context.Context, q queryer, id string, lock bool) (*domain.Prescription, error) {
	query := `SELECT id, consultation_id, status, dispensed_at, dispensed_by, created_at FROM prescriptions WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var p domain.Prescription
	err := q.QueryRow(ctx, query, id).
		Scan(&p.ID, &p.ConsultationID, &p.Status, &p.DispensedAt, &p.DispensedBy, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("prescription", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query prescription: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT pd.id, pd.prescription_id, pd.drug_id, d.name, pd.dosage, pd.quantity
		FROM prescribed_drugs pd JOIN drugs d ON d.id = pd.drug_id
		WHERE pd.prescription_id = $1
		ORDER BY pd.drug_id, pd.id`, id)
	if err != nil {
		return nil, fmt.Errorf("query prescribed drugs: %w", err)
	}
	for rows.Next() {
		var line domain.PrescribedDrug
		if err := rows.Scan(&line.ID, &line.PrescriptionID, &line.DrugID, &line.DrugName, &line.Dosage, &line.Quantity); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan prescribed drug: %w", err)
		}
		p.Lines = append(p.Lines, line)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var b domain.Bill
	err = q.QueryRow(ctx, `
		SELECT id, prescription_id, total_amount, issued_at
		FROM pharmacy_bills WHERE prescription_id = $1`, id).
		Scan(&b.ID, &b.PrescriptionID, &b.TotalAmount, &b.IssuedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("query bill: %w", err)
	default:
		p.Bill = &b
	}
	return &p, nil
}

// isPgError reports whether err carries the given SQLSTATE code
func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
