package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Inbound realtime event names.
const (
	EventOrderNew         = "order:new"
	EventOrderUpdated     = "order:updated"
	EventOrderCancelled   = "order:cancelled"
	EventOrderPrinted     = "order:printed"
	EventOrderPrintFailed = "order:print_failed"
	EventCourseUpdated    = "course:updated"
	EventItemsReady       = "items:ready"
	EventScanToPay        = "scan-to-pay:completed"
	EventDeliveryLocation = "delivery:location_updated"
)

// InboundEvents lists every event the transport forwards to the engine.
var InboundEvents = []string{
	EventOrderNew,
	EventOrderUpdated,
	EventOrderCancelled,
	EventOrderPrinted,
	EventOrderPrintFailed,
	EventCourseUpdated,
	EventItemsReady,
	EventScanToPay,
	EventDeliveryLocation,
}

// CourseUpdate is a typed course:updated payload.
type CourseUpdate struct {
	OrderID    string
	CourseID   string
	FireStatus FireStatus
	At         *time.Time
}

// ItemsReadyBatch is a typed items:ready payload for one kitchen station.
type ItemsReadyBatch struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number,omitempty"`
	TableName   string    `json:"table_name,omitempty"`
	StationID   string    `json:"station_id"`
	StationName string    `json:"station_name,omitempty"`
	ItemNames   []string  `json:"item_names"`
	AllReady    bool      `json:"all_ready"`
	ReceivedAt  time.Time `json:"received_at"`
}

// ScanToPayCompleted is a typed scan-to-pay:completed payload.
type ScanToPayCompleted struct {
	OrderID   string          `json:"order_id"`
	CheckID   string          `json:"check_id"`
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	TipAmount decimal.Decimal `json:"tip_amount"`
	PaidAt    time.Time       `json:"paid_at"`
}

// DeliveryLocation is a typed delivery:location_updated payload.
type DeliveryLocation struct {
	OrderID   string
	Status    string
	Latitude  *float64
	Longitude *float64
	ETA       *time.Time
}
