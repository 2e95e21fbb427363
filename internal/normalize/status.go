package normalize

import (
	"strings"

	"github.com/roach88/ordersync/internal/model"
)

// Backend order statuses.
const (
	BackendPending   = "pending"
	BackendConfirmed = "confirmed"
	BackendPreparing = "preparing"
	BackendReady     = "ready"
	BackendCompleted = "completed"
	BackendCancelled = "cancelled"
)

// BackendStatuses lists every status the remote service emits.
var BackendStatuses = []string{
	BackendPending,
	BackendConfirmed,
	BackendPreparing,
	BackendReady,
	BackendCompleted,
	BackendCancelled,
}

var fromBackend = map[string]model.OrderStatus{
	BackendPending:   model.StatusReceived,
	BackendConfirmed: model.StatusReceived,
	BackendPreparing: model.StatusInPreparation,
	BackendReady:     model.StatusReadyForPickup,
	BackendCompleted: model.StatusClosed,
	BackendCancelled: model.StatusVoided,
}

// toBackend is deliberately not the inverse of fromBackend: pending and
// confirmed both collapse to RECEIVED, which maps back to confirmed.
var toBackend = map[model.OrderStatus]string{
	model.StatusReceived:       BackendConfirmed,
	model.StatusInPreparation:  BackendPreparing,
	model.StatusReadyForPickup: BackendReady,
	model.StatusClosed:         BackendCompleted,
	model.StatusVoided:         BackendCancelled,
}

// StatusFromBackend maps a backend status to its canonical value. Canonical
// names are accepted as-is. ok is false when raw is unrecognized, in which
// case RECEIVED is returned.
func StatusFromBackend(raw string) (status model.OrderStatus, ok bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if s, found := fromBackend[key]; found {
		return s, true
	}
	if s := model.OrderStatus(strings.ToUpper(key)); s.Valid() {
		return s, true
	}
	return model.StatusReceived, false
}

// StatusToBackend maps a canonical status to the value sent when the client
// requests a status change. Unknown statuses map to "".
func StatusToBackend(s model.OrderStatus) string {
	return toBackend[s]
}

var fulfillmentAliases = map[string]model.FulfillmentStatus{
	"NEW":         model.FulfillmentNew,
	"HOLD":        model.FulfillmentHold,
	"HELD":        model.FulfillmentHold,
	"SENT":        model.FulfillmentSent,
	"FIRED":       model.FulfillmentSent,
	"IN_PROGRESS": model.FulfillmentSent,
	"PREPARING":   model.FulfillmentSent,
	"ON_THE_FLY":  model.FulfillmentOnTheFly,
	"READY":       model.FulfillmentReady,
	"COMPLETED":   model.FulfillmentReady,
	"SERVED":      model.FulfillmentServed,
	"DELIVERED":   model.FulfillmentServed,
}

// Fulfillment maps a raw item status. Unrecognized values default to NEW
// for items without a course and HOLD for course-assigned items, since
// coursed items wait to be fired.
func Fulfillment(raw string, hasCourse bool) (status model.FulfillmentStatus, ok bool) {
	key := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", "_"))
	if s, found := fulfillmentAliases[key]; found {
		return s, true
	}
	if hasCourse {
		return model.FulfillmentHold, false
	}
	return model.FulfillmentNew, false
}

// FireStatus parses a course fire status. ok is false when raw is not one
// of PENDING, FIRED or READY (any case).
func FireStatus(raw string) (status model.FireStatus, ok bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING":
		return model.FirePending, true
	case "FIRED":
		return model.FireFired, true
	case "READY":
		return model.FireReady, true
	default:
		return model.FirePending, false
	}
}

// ThrottleStatus parses a throttle state. Unknown values are NONE.
func ThrottleStatus(raw string) model.ThrottleStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "HELD", "HOLD", "THROTTLED":
		return model.ThrottleHeld
	case "RELEASED":
		return model.ThrottleReleased
	default:
		return model.ThrottleNone
	}
}

// ThrottleSource parses a throttle source. Unknown values are "".
func ThrottleSource(raw string) model.ThrottleSource {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "AUTO", "AUTOMATIC":
		return model.ThrottleAuto
	case "MANUAL":
		return model.ThrottleManual
	default:
		return ""
	}
}

// PaymentStatus parses a check payment status. Unknown values are OPEN.
func PaymentStatus(raw string) model.PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PAID", "CLOSED", "SETTLED":
		return model.PaymentPaid
	case "PARTIAL", "PARTIALLY_PAID":
		return model.PaymentPartial
	default:
		return model.PaymentOpen
	}
}
