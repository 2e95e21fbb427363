package model

// OrderStatus is the canonical order lifecycle status.
type OrderStatus string

const (
	StatusReceived       OrderStatus = "RECEIVED"
	StatusInPreparation  OrderStatus = "IN_PREPARATION"
	StatusReadyForPickup OrderStatus = "READY_FOR_PICKUP"
	StatusClosed         OrderStatus = "CLOSED"
	StatusVoided         OrderStatus = "VOIDED"
)

// OrderStatuses lists every canonical status in lifecycle order.
var OrderStatuses = []OrderStatus{
	StatusReceived,
	StatusInPreparation,
	StatusReadyForPickup,
	StatusClosed,
	StatusVoided,
}

// Rank orders the active statuses along the kitchen flow. A transition to
// a lower rank is a recall. Terminal statuses share the highest rank.
func (s OrderStatus) Rank() int {
	switch s {
	case StatusReceived:
		return 0
	case StatusInPreparation:
		return 1
	case StatusReadyForPickup:
		return 2
	case StatusClosed, StatusVoided:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is one of the canonical statuses.
func (s OrderStatus) Valid() bool {
	return s.Rank() >= 0
}

// IsRecall reports whether moving from s to next walks the order backward
// (e.g. READY_FOR_PICKUP -> IN_PREPARATION).
func (s OrderStatus) IsRecall(next OrderStatus) bool {
	return s.Valid() && next.Valid() && next.Rank() < s.Rank()
}

// FireStatus is a course's kitchen readiness.
type FireStatus string

const (
	FirePending FireStatus = "PENDING"
	FireFired   FireStatus = "FIRED"
	FireReady   FireStatus = "READY"
)

// Rank returns PENDING=0 < FIRED=1 < READY=2. Unknown values rank as PENDING.
func (f FireStatus) Rank() int {
	switch f {
	case FireFired:
		return 1
	case FireReady:
		return 2
	default:
		return 0
	}
}

// MaxFire returns whichever status ranks higher.
func MaxFire(a, b FireStatus) FireStatus {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// FulfillmentStatus is the per-item kitchen status.
type FulfillmentStatus string

const (
	FulfillmentNew      FulfillmentStatus = "NEW"
	FulfillmentHold     FulfillmentStatus = "HOLD"
	FulfillmentSent     FulfillmentStatus = "SENT"
	FulfillmentOnTheFly FulfillmentStatus = "ON_THE_FLY"
	FulfillmentReady    FulfillmentStatus = "READY"
	FulfillmentServed   FulfillmentStatus = "SERVED"
)

// FireStatus maps an item's fulfillment onto its course fire progression.
func (f FulfillmentStatus) FireStatus() FireStatus {
	switch f {
	case FulfillmentSent, FulfillmentOnTheFly:
		return FireFired
	case FulfillmentReady, FulfillmentServed:
		return FireReady
	default:
		return FirePending
	}
}

// ThrottleStatus is the admission-control tri-state.
type ThrottleStatus string

const (
	ThrottleNone     ThrottleStatus = "NONE"
	ThrottleHeld     ThrottleStatus = "HELD"
	ThrottleReleased ThrottleStatus = "RELEASED"
)

// ThrottleSource records who placed a hold.
type ThrottleSource string

const (
	ThrottleAuto   ThrottleSource = "AUTO"
	ThrottleManual ThrottleSource = "MANUAL"
)

// PrintStatus is the ephemeral kitchen-ticket print state of an order.
type PrintStatus string

const (
	PrintNone     PrintStatus = "none"
	PrintPrinting PrintStatus = "printing"
	PrintPrinted  PrintStatus = "printed"
	PrintFailed   PrintStatus = "failed"
)

// PaymentStatus is a check's settlement state.
type PaymentStatus string

const (
	PaymentOpen    PaymentStatus = "OPEN"
	PaymentPartial PaymentStatus = "PARTIAL"
	PaymentPaid    PaymentStatus = "PAID"
)
