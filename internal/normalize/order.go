package normalize

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/roach88/ordersync/internal/course"
	"github.com/roach88/ordersync/internal/model"
	"github.com/roach88/ordersync/internal/syncerr"
)

// Order converts an upstream order record into the canonical aggregate.
// It never fails; defaulted fields are logged at debug level.
func Order(raw map[string]any) model.Order {
	o, defects := OrderWithDefects(raw)
	for _, d := range defects {
		slog.Debug("order field defaulted",
			"order_id", d.OrderID,
			"code", d.Code,
			"detail", d.Message,
		)
	}
	return o
}

// OrderWithDefects is Order plus the list of fields that had to be
// defaulted.
func OrderWithDefects(raw map[string]any) (model.Order, []*syncerr.Error) {
	raw = Unwrap(raw)
	r := &reader{}
	r.orderID = r.str(raw, "id", "_id", "orderId", "order_id")
	if r.orderID == "" {
		r.defect("id", nil)
	}

	o := model.Order{
		ID:           r.orderID,
		LocalID:      r.str(raw, "localId", "local_id", "clientOrderId", "client_order_id"),
		OrderNumber:  r.str(raw, "orderNumber", "order_number", "number"),
		TableID:      r.str(raw, "tableId", "table_id"),
		TableName:    r.str(raw, "tableName", "table_name", "tableNumber", "table_number"),
		ServerID:     r.str(raw, "serverId", "server_id", "employeeId", "employee_id"),
		DiningOption: r.str(raw, "diningOption", "dining_option", "orderType", "order_type"),
		GuestCount:   r.integer(raw, "guestCount", "guest_count", "guests"),
		Notes:        r.str(raw, "notes", "note"),
		Source:       r.str(raw, "source", "channel"),
		IsQueued:     r.boolean(raw, "isQueued", "is_queued"),
	}

	rawStatus := r.str(raw, "status", "orderStatus", "order_status")
	status, ok := StatusFromBackend(rawStatus)
	if !ok {
		r.defect("status", rawStatus)
	}
	o.Status = status

	if t := r.timestamp(raw, "createdAt", "created_at", "openedAt", "opened_at"); t != nil {
		o.CreatedAt = *t
	}
	if t := r.timestamp(raw, "updatedAt", "updated_at"); t != nil {
		o.UpdatedAt = *t
	}
	o.ClosedAt = r.timestamp(raw, "closedAt", "closed_at", "completedAt", "completed_at")

	o.Checks = r.checks(raw, o.ID)

	if has(raw, "courses") {
		for _, c := range r.list(raw, "courses") {
			o.Courses = append(o.Courses, r.courseRecord(c))
		}
	} else {
		o.Courses = course.DeriveCourses(o.Selections())
	}

	o.Subtotal = r.moneyOrSum(raw, o.Checks, func(c model.Check) decimal.Decimal { return c.Subtotal },
		"subtotal", "subTotal", "sub_total")
	o.TaxAmount = r.moneyOrSum(raw, o.Checks, func(c model.Check) decimal.Decimal { return c.TaxAmount },
		"taxAmount", "tax_amount", "tax")
	o.TotalAmount = r.moneyOrSum(raw, o.Checks, func(c model.Check) decimal.Decimal { return c.TotalAmount },
		"totalAmount", "total_amount", "total")
	o.TipAmount = r.money(raw, "tipAmount", "tip_amount", "tip")
	o.Discount = r.money(raw, "discountAmount", "discount_amount", "discount")

	o.Throttle = r.throttle(raw)
	o.Marketplace = r.marketplace(raw)
	o.Delivery = r.delivery(raw)

	return o, r.defects
}

// Unwrap returns the nested "order" record when an event wraps the
// aggregate, otherwise raw itself.
func Unwrap(raw map[string]any) map[string]any {
	if inner := object(raw, "order"); inner != nil {
		return inner
	}
	return raw
}

func (r *reader) moneyOrSum(raw map[string]any, checks []model.Check, pick func(model.Check) decimal.Decimal, keys ...string) decimal.Decimal {
	if has(raw, keys...) {
		return r.money(raw, keys...)
	}
	sum := decimal.Zero
	for _, c := range checks {
		sum = sum.Add(pick(c))
	}
	return sum
}

// checks returns at least one check. Payloads without a checks array but
// with top-level selections are treated as a single check.
func (r *reader) checks(raw map[string]any, orderID string) []model.Check {
	records := r.list(raw, "checks")
	if len(records) == 0 {
		return []model.Check{r.check(raw, orderID)}
	}
	out := make([]model.Check, 0, len(records))
	for _, c := range records {
		out = append(out, r.check(c, ""))
	}
	return out
}

func (r *reader) check(m map[string]any, fallbackID string) model.Check {
	c := model.Check{
		ID:            r.str(m, "id", "checkId", "check_id"),
		DisplayNumber: r.str(m, "displayNumber", "display_number"),
		PaymentStatus: PaymentStatus(r.str(m, "paymentStatus", "payment_status")),
		Subtotal:      r.money(m, "subtotal", "subTotal", "sub_total"),
		TaxAmount:     r.money(m, "taxAmount", "tax_amount", "tax"),
		TotalAmount:   r.money(m, "totalAmount", "total_amount", "total"),
	}
	if c.ID == "" {
		c.ID = fallbackID
	}
	for _, s := range r.list(m, "selections", "items") {
		c.Selections = append(c.Selections, r.selection(s))
	}
	for _, s := range r.list(m, "voidedSelections", "voided_selections") {
		c.VoidedSelections = append(c.VoidedSelections, r.selection(s))
	}
	for _, p := range r.list(m, "payments") {
		c.Payments = append(c.Payments, model.Payment{
			ID:        r.str(p, "id", "paymentId", "payment_id"),
			Method:    r.str(p, "method", "type", "paymentMethod"),
			Amount:    r.money(p, "amount"),
			TipAmount: r.money(p, "tipAmount", "tip_amount", "tip"),
			Status:    r.str(p, "status"),
		})
	}
	for _, d := range r.list(m, "discounts", "appliedDiscounts") {
		c.Discounts = append(c.Discounts, model.Discount{
			ID:     r.str(d, "id", "discountId", "discount_id"),
			Name:   r.str(d, "name"),
			Amount: r.money(d, "amount", "discountAmount"),
		})
	}
	return c
}

func (r *reader) selection(m map[string]any) model.Selection {
	s := model.Selection{
		ID:         r.str(m, "id", "selectionId", "selection_id"),
		MenuItemID: r.str(m, "menuItemId", "menu_item_id", "itemId", "item_id"),
		Name:       r.str(m, "name", "displayName", "display_name", "menuItemName"),
		Quantity:   r.integer(m, "quantity", "qty"),
		Price:      r.money(m, "price", "unitPrice", "unit_price"),
		SeatNumber: r.integer(m, "seatNumber", "seat_number", "seat"),
		Notes:      r.str(m, "notes", "specialInstructions", "special_instructions"),
		SentAt:     r.timestamp(m, "sentAt", "sent_at", "firedAt", "fired_at"),
	}
	if s.Quantity <= 0 {
		s.Quantity = 1
	}

	s.Course = r.courseRef(m)

	rawStatus := r.str(m, "fulfillmentStatus", "fulfillment_status", "status")
	status, ok := Fulfillment(rawStatus, s.Course != nil)
	if !ok && rawStatus != "" {
		r.defect("fulfillmentStatus", rawStatus)
	}
	s.Fulfillment = status

	if s.Course != nil && s.Course.FireStatus == "" {
		s.Course.FireStatus = status.FireStatus()
	}

	for _, mod := range r.list(m, "modifiers", "modifications") {
		s.Modifiers = append(s.Modifiers, model.Modifier{
			ID:    r.str(mod, "id", "modifierId", "modifier_id"),
			Name:  r.str(mod, "name", "displayName", "display_name"),
			Price: r.money(mod, "price"),
		})
	}
	return s
}

// courseRef reads the selection's course, nested or flat. Returns nil when
// the selection is not assigned to a course.
func (r *reader) courseRef(m map[string]any) *model.CourseRef {
	src := object(m, "course")
	ref := &model.CourseRef{}
	if src != nil {
		ref.ID = r.str(src, "id", "courseId", "course_id")
		ref.Name = r.str(src, "name")
		ref.SortOrder = r.integer(src, "sortOrder", "sort_order")
		if fs, ok := FireStatus(r.str(src, "fireStatus", "fire_status")); ok {
			ref.FireStatus = fs
		}
		ref.ReadyAt = r.timestamp(src, "readyAt", "ready_at")
	}
	if ref.ID == "" {
		ref.ID = r.str(m, "courseId", "course_id")
		ref.Name = r.str(m, "courseName", "course_name")
		ref.SortOrder = r.integer(m, "courseSortOrder", "course_sort_order")
		if fs, ok := FireStatus(r.str(m, "courseFireStatus", "course_fire_status")); ok {
			ref.FireStatus = fs
		}
		ref.ReadyAt = r.timestamp(m, "courseReadyAt", "course_ready_at", "readyAt", "ready_at")
	}
	if ref.ID == "" {
		return nil
	}
	return ref
}

func (r *reader) courseRecord(m map[string]any) model.Course {
	fs, ok := FireStatus(r.str(m, "fireStatus", "fire_status", "status"))
	if !ok {
		r.defect("courses.fireStatus", m["fireStatus"])
	}
	return model.Course{
		ID:         r.str(m, "id", "courseId", "course_id"),
		Name:       r.str(m, "name"),
		SortOrder:  r.integer(m, "sortOrder", "sort_order"),
		FireStatus: fs,
		FiredAt:    r.timestamp(m, "firedAt", "fired_at"),
		ReadyAt:    r.timestamp(m, "readyAt", "ready_at"),
	}
}

// throttle prefers the nested record; flat legacy fields are read only when
// it is absent.
func (r *reader) throttle(raw map[string]any) *model.Throttle {
	if src := object(raw, "throttle"); src != nil {
		return &model.Throttle{
			Status:     ThrottleStatus(r.str(src, "status", "state")),
			Source:     ThrottleSource(r.str(src, "source")),
			Reason:     r.str(src, "reason"),
			HeldAt:     r.timestamp(src, "heldAt", "held_at"),
			ReleasedAt: r.timestamp(src, "releasedAt", "released_at"),
		}
	}
	if !has(raw, "throttleStatus", "throttle_status", "isThrottled", "is_throttled") {
		return nil
	}
	t := &model.Throttle{
		Status:     ThrottleStatus(r.str(raw, "throttleStatus", "throttle_status")),
		Source:     ThrottleSource(r.str(raw, "throttleSource", "throttle_source")),
		Reason:     r.str(raw, "throttleReason", "throttle_reason"),
		HeldAt:     r.timestamp(raw, "throttleHeldAt", "throttle_held_at"),
		ReleasedAt: r.timestamp(raw, "throttleReleasedAt", "throttle_released_at"),
	}
	if t.Status == model.ThrottleNone && r.boolean(raw, "isThrottled", "is_throttled") {
		t.Status = model.ThrottleHeld
	}
	return t
}

func (r *reader) marketplace(raw map[string]any) *model.Marketplace {
	var m model.Marketplace
	if src := object(raw, "marketplace"); src != nil {
		m = model.Marketplace{
			Provider:        r.str(src, "provider", "name", "channel"),
			ExternalOrderID: r.str(src, "externalOrderId", "external_order_id", "orderId"),
			CustomerName:    r.str(src, "customerName", "customer_name"),
		}
	} else {
		m = model.Marketplace{
			Provider:        r.str(raw, "marketplaceProvider", "marketplace_provider"),
			ExternalOrderID: r.str(raw, "marketplaceOrderId", "marketplace_order_id", "externalOrderId", "external_order_id"),
			CustomerName:    r.str(raw, "marketplaceCustomerName", "marketplace_customer_name", "customerName", "customer_name"),
		}
	}
	if m.Provider == "" {
		return nil
	}
	return &m
}

func (r *reader) delivery(raw map[string]any) *model.Delivery {
	var d model.Delivery
	if src := object(raw, "delivery"); src != nil {
		d = model.Delivery{
			Status:      r.str(src, "status"),
			DriverName:  r.str(src, "driverName", "driver_name"),
			DriverPhone: r.str(src, "driverPhone", "driver_phone"),
			Latitude:    r.float(src, "lat", "latitude"),
			Longitude:   r.float(src, "lng", "longitude"),
			ETA:         r.timestamp(src, "eta", "estimatedArrival"),
		}
	} else {
		d = model.Delivery{
			Status:      r.str(raw, "deliveryStatus", "delivery_status"),
			DriverName:  r.str(raw, "deliveryDriverName", "delivery_driver_name", "driverName"),
			DriverPhone: r.str(raw, "deliveryDriverPhone", "delivery_driver_phone", "driverPhone"),
			Latitude:    r.float(raw, "deliveryLat", "delivery_lat"),
			Longitude:   r.float(raw, "deliveryLng", "delivery_lng"),
			ETA:         r.timestamp(raw, "deliveryEta", "delivery_eta"),
		}
	}
	if d.Status == "" && d.DriverName == "" {
		return nil
	}
	return &d
}
