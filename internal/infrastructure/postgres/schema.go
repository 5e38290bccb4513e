package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied idempotently at startup. Quantities can never go
// negative and a prescription can be billed at most once.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	name          TEXT NOT NULL,
	role          TEXT NOT NULL CHECK (role IN ('DOCTOR', 'PHARMACIST', 'ADMIN')),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS users_username_key ON users (LOWER(username));

CREATE TABLE IF NOT EXISTS drugs (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	dosage_form TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS drugs_name_key ON drugs (LOWER(name));

CREATE TABLE IF NOT EXISTS stock_items (
	id                TEXT PRIMARY KEY,
	drug_id           TEXT NOT NULL REFERENCES drugs (id),
	batch_number      TEXT NOT NULL,
	expiry_date       DATE NOT NULL,
	quantity_in_stock INTEGER NOT NULL CHECK (quantity_in_stock >= 0),
	purchase_price    NUMERIC(12, 2) NOT NULL CHECK (purchase_price >= 0),
	selling_price     NUMERIC(12, 2) NOT NULL CHECK (selling_price > 0),
	supplier_id       TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS stock_items_fefo_idx
	ON stock_items (drug_id, expiry_date, created_at, id)
	WHERE quantity_in_stock > 0;

CREATE TABLE IF NOT EXISTS patients (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	mobile_number     TEXT NOT NULL UNIQUE,
	current_weight_kg DOUBLE PRECISION,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS consultations (
	id                     TEXT PRIMARY KEY,
	patient_id             TEXT NOT NULL REFERENCES patients (id),
	doctor_id              TEXT NOT NULL,
	diagnosis              TEXT NOT NULL,
	weight_at_consultation DOUBLE PRECISION,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS consultations_patient_idx ON consultations (patient_id, created_at DESC);

CREATE TABLE IF NOT EXISTS consultation_attachments (
	consultation_id TEXT NOT NULL REFERENCES consultations (id),
	position        INTEGER NOT NULL,
	reference       TEXT NOT NULL,
	PRIMARY KEY (consultation_id, position)
);

CREATE TABLE IF NOT EXISTS prescriptions (
	id              TEXT PRIMARY KEY,
	consultation_id TEXT NOT NULL UNIQUE REFERENCES consultations (id),
	status          TEXT NOT NULL CHECK (status IN ('PENDING', 'DISPENSED')),
	dispensed_at    TIMESTAMPTZ,
	dispensed_by    TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS prescriptions_status_idx ON prescriptions (status, created_at);

CREATE TABLE IF NOT EXISTS prescribed_drugs (
	id              TEXT PRIMARY KEY,
	prescription_id TEXT NOT NULL REFERENCES prescriptions (id),
	drug_id         TEXT NOT NULL REFERENCES drugs (id),
	dosage          TEXT NOT NULL,
	quantity        INTEGER NOT NULL CHECK (quantity > 0)
);

CREATE TABLE IF NOT EXISTS pharmacy_bills (
	id              TEXT PRIMARY KEY,
	prescription_id TEXT NOT NULL UNIQUE REFERENCES prescriptions (id),
	total_amount    NUMERIC(12, 2) NOT NULL CHECK (total_amount >= 0),
	issued_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS pharmacy_bills_issued_idx ON pharmacy_bills (issued_at);

CREATE TABLE IF NOT EXISTS outbox (
	id             BIGSERIAL PRIMARY KEY,
	event_id       TEXT NOT NULL UNIQUE,
	aggregate_id   TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	kafka_topic    TEXT NOT NULL,
	kafka_key      TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at   TIMESTAMPTZ,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	last_error     TEXT
);
CREATE INDEX IF NOT EXISTS outbox_unprocessed_idx ON outbox (created_at) WHERE processed_at IS NULL;

CREATE TABLE IF NOT EXISTS inbox (
	idempotency_key TEXT PRIMARY KEY,
	handler_name    TEXT NOT NULL,
	status          TEXT NOT NULL,
	payload         JSONB,
	result          JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at      TIMESTAMPTZ
);
`

// Migrate creates the schema if it does not exist
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
