package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType names a domain event
type EventType string

const (
	EventConsultationRecorded  EventType = "ConsultationRecorded"
	EventPrescriptionDispensed EventType = "PrescriptionDispensed"
	EventStockBatchAdded       EventType = "StockBatchAdded"
	EventStockAlertRaised      EventType = "StockAlertRaised"
)

// Broker topics events are relayed to
const (
	TopicConsultations = "clinic.consultations"
	TopicDispensing    = "pharmacy.dispensing"
	TopicStock         = "pharmacy.stock"
	TopicStockAlerts   = "pharmacy.stock-alerts"
	TopicDeadLetter    = "dead.letter"
)

var topicByEvent = map[EventType]string{
	EventConsultationRecorded:  TopicConsultations,
	EventPrescriptionDispensed: TopicDispensing,
	EventStockBatchAdded:       TopicStock,
	EventStockAlertRaised:      TopicStockAlerts,
}

// Event is a domain event written to the outbox in the same transaction
// as the change it describes
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Topic         string          `json:"-"`
	ActorID       string          `json:"actor_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewEvent creates an event keyed by aggregate id
func NewEvent(aggregateType, aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payload,
		Topic:         topicByEvent[eventType],
		OccurredAt:    time.Now().UTC(),
	}, nil
}

// WithActor records who caused the event
func (e *Event) WithActor(actor Actor) *Event {
	e.ActorID = actor.UserID
	return e
}

// Envelope is the message body published to the broker
func (e *Event) Envelope() ([]byte, error) {
	return json.Marshal(e)
}

// ConsultationRecordedData is the payload of EventConsultationRecorded
type ConsultationRecordedData struct {
	ConsultationID string        `json:"consultation_id"`
	PrescriptionID string        `json:"prescription_id"`
	PatientID      string        `json:"patient_id"`
	DoctorID       string        `json:"doctor_id"`
	Lines          []LineRequest `json:"lines"`
	RecordedAt     time.Time     `json:"recorded_at"`
}

// PrescriptionDispensedData is the payload of EventPrescriptionDispensed
type PrescriptionDispensedData struct {
	PrescriptionID string          `json:"prescription_id"`
	BillID         string          `json:"bill_id"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	DispensedBy    string          `json:"dispensed_by"`
	DispensedAt    time.Time       `json:"dispensed_at"`
	DrugIDs        []string        `json:"drug_ids"`
	Allocations    []Allocation    `json:"allocations"`
}

// StockBatchAddedData is the payload of EventStockBatchAdded
type StockBatchAddedData struct {
	StockItemID string    `json:"stock_item_id"`
	DrugID      string    `json:"drug_id"`
	BatchNumber string    `json:"batch_number"`
	Quantity    int       `json:"quantity"`
	ExpiryDate  time.Time `json:"expiry_date"`
	AddedBy     string    `json:"added_by"`
}

// AlertKind classifies a stock alert
type AlertKind string

const (
	AlertLowStock AlertKind = "LOW_STOCK"
	AlertExpired  AlertKind = "EXPIRED"
	AlertExpiring AlertKind = "EXPIRING"
)

// StockAlertRaisedData is the payload of EventStockAlertRaised. Batch
// fields are set for expiry alerts only.
type StockAlertRaisedData struct {
	Kind          AlertKind  `json:"kind"`
	DrugID        string     `json:"drug_id"`
	DrugName      string     `json:"drug_name"`
	TotalUnits    int        `json:"total_units"`
	Threshold     int        `json:"threshold,omitempty"`
	StockItemID   string     `json:"stock_item_id,omitempty"`
	BatchNumber   string     `json:"batch_number,omitempty"`
	BatchUnits    int        `json:"batch_units,omitempty"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	SourceEventID string     `json:"source_event_id"`
	RaisedAt      time.Time  `json:"raised_at"`
}

// Key is the broker key of the alert. Compaction keeps the latest alert per
// drug, kind and batch.
func (a StockAlertRaisedData) Key() string {
	if a.StockItemID == "" {
		return a.DrugID + ":" + string(a.Kind)
	}
	return a.DrugID + ":" + string(a.Kind) + ":" + a.StockItemID
}
