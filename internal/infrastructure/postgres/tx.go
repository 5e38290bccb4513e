package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/store"
)

// pgTx implements store.Tx on an open pgx transaction
type pgTx struct {
	tx pgx.Tx
}

var _ store.Tx = (*pgTx)(nil)

func (t *pgTx) LockPrescription(ctx context.Context, id string) (*domain.Prescription, error) {
	return loadPrescription(ctx, t.tx, id, true)
}

// LockDispensableBatches locks the drug's batches that still hold stock in
// FEFO order. Locks are taken in the same order by every dispenser.
func (t *pgTx) LockDispensableBatches(ctx context.Context, drugID string) ([]domain.StockItem, error) {
	return queryStock(ctx, t.tx, `
		SELECT `+stockColumns+`
		FROM stock_items s JOIN drugs d ON d.id = s.drug_id
		WHERE s.drug_id = $1 AND s.quantity_in_stock > 0
		ORDER BY s.expiry_date, s.created_at, s.id
		FOR UPDATE OF s`, drugID)
}

func (t *pgTx) DeductStock(ctx context.Context, stockItemID string, qty int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE stock_items SET quantity_in_stock = quantity_in_stock - $2
		WHERE id = $1 AND quantity_in_stock >= $2`, stockItemID, qty)
	if err != nil {
		return fmt.Errorf("deduct stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrStaleStock
	}
	return nil
}

func (t *pgTx) InsertBill(ctx context.Context, b *domain.Bill) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO pharmacy_bills (id, prescription_id, total_amount, issued_at)
		VALUES ($1, $2, $3, $4)`, b.ID, b.PrescriptionID, b.TotalAmount, b.IssuedAt)
	if isPgError(err, pgUniqueViolation) {
		return domain.Conflict("bill", "prescription "+b.PrescriptionID+" already billed")
	}
	if err != nil {
		return fmt.Errorf("insert bill: %w", err)
	}
	return nil
}

func (t *pgTx) MarkDispensed(ctx context.Context, prescriptionID, userID string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE prescriptions SET status = 'DISPENSED', dispensed_at = $2, dispensed_by = $3
		WHERE id = $1 AND status = 'PENDING'`, prescriptionID, at, userID)
	if err != nil {
		return fmt.Errorf("mark dispensed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyDispensed
	}
	return nil
}

func (t *pgTx) GetDrug(ctx context.Context, id string) (*domain.Drug, error) {
	return getDrug(ctx, t.tx, id)
}

func (t *pgTx) InsertStockItem(ctx context.Context, item *domain.StockItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_items (id, drug_id, batch_number, expiry_date, quantity_in_stock,
		                         purchase_price, selling_price, supplier_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		item.ID, item.DrugID, item.BatchNumber, item.ExpiryDate, item.QuantityInStock,
		item.PurchasePrice, item.SellingPrice, item.SupplierID, item.CreatedAt)
	if isPgError(err, pgForeignKeyViolation) {
		return domain.NotFound("drug", item.DrugID)
	}
	if err != nil {
		return fmt.Errorf("insert stock item: %w", err)
	}
	return nil
}

func (t *pgTx) GetPatient(ctx context.Context, id string) (*domain.Patient, error) {
	return getPatient(ctx, t.tx, id, true)
}

func (t *pgTx) UpdatePatientWeight(ctx context.Context, patientID string, weightKg float64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE patients SET current_weight_kg = $2 WHERE id = $1`, patientID, weightKg)
	if err != nil {
		return fmt.Errorf("update patient weight: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("patient", patientID)
	}
	return nil
}

func (t *pgTx) InsertConsultation(ctx context.Context, c *domain.Consultation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO consultations (id, patient_id, doctor_id, diagnosis, weight_at_consultation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.PatientID, c.DoctorID, c.Diagnosis, c.WeightAtConsultation, c.CreatedAt)
	if isPgError(err, pgForeignKeyViolation) {
		return domain.NotFound("patient", c.PatientID)
	}
	if err != nil {
		return fmt.Errorf("insert consultation: %w", err)
	}

	for i, ref := range c.Attachments {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO consultation_attachments (consultation_id, position, reference)
			VALUES ($1, $2, $3)`, c.ID, i, ref); err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
	}
	return nil
}

// InsertPrescription writes the prescription and lines. Each line is checked
// against the catalog first so the failing drug can be named.
func (t *pgTx) InsertPrescription(ctx context.Context, p *domain.Prescription) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO prescriptions (id, consultation_id, status, created_at)
		VALUES ($1, $2, $3, $4)`, p.ID, p.ConsultationID, string(p.Status), p.CreatedAt)
	if isPgError(err, pgUniqueViolation) {
		return domain.Conflict("prescription", "consultation "+p.ConsultationID+" already has a prescription")
	}
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}

	for _, line := range p.Lines {
		var exists bool
		if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM drugs WHERE id = $1)`, line.DrugID).Scan(&exists); err != nil {
			return fmt.Errorf("check drug: %w", err)
		}
		if !exists {
			return domain.NotFound("drug", line.DrugID)
		}
		_, err := t.tx.Exec(ctx, `
			INSERT INTO prescribed_drugs (id, prescription_id, drug_id, dosage, quantity)
			VALUES ($1, $2, $3, $4, $5)`, line.ID, p.ID, line.DrugID, line.Dosage, line.Quantity)
		if isPgError(err, pgForeignKeyViolation) {
			return domain.NotFound("drug", line.DrugID)
		}
		if err != nil {
			return fmt.Errorf("insert prescribed drug: %w", err)
		}
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, e *domain.Event) error {
	if e.Topic == "" {
		return fmt.Errorf("append %s: %w", e.EventType, errNoTopic)
	}
	body, err := e.Envelope()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return WriteEntry(ctx, t.tx, &OutboxEntry{
		EventID:       e.ID,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		EventType:     string(e.EventType),
		Payload:       body,
		KafkaTopic:    e.Topic,
		KafkaKey:      e.AggregateID,
	})
}

var errNoTopic = errors.New("event has no topic")
