package normalize

import (
	"time"

	"github.com/roach88/ordersync/internal/model"
)

// OrderID extracts the order id from an event payload that may carry
// either a bare reference or a full order.
func OrderID(raw map[string]any) string {
	r := &reader{}
	if id := r.str(raw, "orderId", "order_id"); id != "" {
		return id
	}
	return r.str(Unwrap(raw), "id", "_id")
}

// HasOrderBody reports whether the payload carries a full order rather
// than a bare reference.
func HasOrderBody(raw map[string]any) bool {
	body := Unwrap(raw)
	if has(body, "checks", "selections", "items") {
		return true
	}
	return has(body, "id", "_id") && has(body, "status")
}

// Reason extracts a human-readable failure reason.
func Reason(raw map[string]any) string {
	r := &reader{}
	return r.str(raw, "reason", "error", "message")
}

// CourseUpdate parses a course:updated payload. The fire status defaults to
// PENDING when missing.
func CourseUpdate(raw map[string]any) model.CourseUpdate {
	r := &reader{}
	src := raw
	if inner := object(raw, "course"); inner != nil {
		src = inner
	}
	fs, _ := FireStatus(r.str(src, "fireStatus", "fire_status", "status"))
	u := model.CourseUpdate{
		OrderID:    OrderID(raw),
		CourseID:   r.str(src, "courseId", "course_id", "id"),
		FireStatus: fs,
	}
	switch fs {
	case model.FireReady:
		u.At = r.timestamp(src, "readyAt", "ready_at", "updatedAt", "updated_at")
	case model.FireFired:
		u.At = r.timestamp(src, "firedAt", "fired_at", "updatedAt", "updated_at")
	}
	return u
}

// ItemsReady parses an items:ready station batch. receivedAt stamps the
// batch when the payload has no timestamp.
func ItemsReady(raw map[string]any, receivedAt time.Time) model.ItemsReadyBatch {
	r := &reader{}
	b := model.ItemsReadyBatch{
		OrderID:     OrderID(raw),
		OrderNumber: r.str(raw, "orderNumber", "order_number"),
		TableName:   r.str(raw, "tableName", "table_name", "tableNumber"),
		StationID:   r.str(raw, "stationId", "station_id"),
		StationName: r.str(raw, "stationName", "station_name"),
		ItemNames:   r.strs(raw, "items", "itemNames", "item_names"),
		AllReady:    r.boolean(raw, "allReady", "all_ready", "allItemsReady"),
		ReceivedAt:  receivedAt,
	}
	if t := r.timestamp(raw, "readyAt", "ready_at", "timestamp"); t != nil {
		b.ReceivedAt = *t
	}
	return b
}

// ScanToPay parses a scan-to-pay:completed notice.
func ScanToPay(raw map[string]any, receivedAt time.Time) model.ScanToPayCompleted {
	r := &reader{}
	p := model.ScanToPayCompleted{
		OrderID:   OrderID(raw),
		CheckID:   r.str(raw, "checkId", "check_id"),
		PaymentID: r.str(raw, "paymentId", "payment_id", "id"),
		Amount:    r.money(raw, "amount", "totalAmount"),
		TipAmount: r.money(raw, "tipAmount", "tip_amount", "tip"),
		PaidAt:    receivedAt,
	}
	if t := r.timestamp(raw, "paidAt", "paid_at", "completedAt"); t != nil {
		p.PaidAt = *t
	}
	return p
}

// DeliveryLocation parses a delivery:location_updated payload. Coordinates
// may arrive flat or under "location".
func DeliveryLocation(raw map[string]any) model.DeliveryLocation {
	r := &reader{}
	src := raw
	if inner := object(raw, "location"); inner != nil {
		src = inner
	}
	return model.DeliveryLocation{
		OrderID:   OrderID(raw),
		Status:    r.str(raw, "status", "deliveryStatus"),
		Latitude:  r.float(src, "lat", "latitude"),
		Longitude: r.float(src, "lng", "longitude"),
		ETA:       r.timestamp(raw, "eta", "estimatedArrival"),
	}
}
