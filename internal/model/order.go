package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Order is the canonical in-memory order aggregate.
type Order struct {
	ID           string          `json:"id"`
	LocalID      string          `json:"local_id,omitempty"`
	OrderNumber  string          `json:"order_number,omitempty"`
	Status       OrderStatus     `json:"status"`
	Checks       []Check         `json:"checks"`
	Courses      []Course        `json:"courses,omitempty"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	TipAmount    decimal.Decimal `json:"tip_amount"`
	Discount     decimal.Decimal `json:"discount"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	TableID      string          `json:"table_id,omitempty"`
	TableName    string          `json:"table_name,omitempty"`
	ServerID     string          `json:"server_id,omitempty"`
	DiningOption string          `json:"dining_option,omitempty"`
	GuestCount   int             `json:"guest_count"`
	Notes        string          `json:"notes,omitempty"`
	Source       string          `json:"source,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
	Throttle     *Throttle       `json:"throttle,omitempty"`
	Marketplace  *Marketplace    `json:"marketplace,omitempty"`
	Delivery     *Delivery       `json:"delivery,omitempty"`
	IsQueued     bool            `json:"is_queued"`
}

// Check is a billable grouping of selections within an order.
type Check struct {
	ID               string          `json:"id"`
	DisplayNumber    string          `json:"display_number,omitempty"`
	Selections       []Selection     `json:"selections"`
	Payments         []Payment       `json:"payments,omitempty"`
	Discounts        []Discount      `json:"discounts,omitempty"`
	VoidedSelections []Selection     `json:"voided_selections,omitempty"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	TaxAmount        decimal.Decimal `json:"tax_amount"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
}

// Selection is one ordered line item.
type Selection struct {
	ID          string            `json:"id"`
	MenuItemID  string            `json:"menu_item_id"`
	Name        string            `json:"name"`
	Quantity    int               `json:"quantity"`
	Price       decimal.Decimal   `json:"price"`
	Fulfillment FulfillmentStatus `json:"fulfillment"`
	Course      *CourseRef        `json:"course,omitempty"`
	Modifiers   []Modifier        `json:"modifiers,omitempty"`
	SeatNumber  int               `json:"seat_number,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	SentAt      *time.Time        `json:"sent_at,omitempty"`
}

// CourseRef is a selection's pointer to its course plus the item-level
// fire signal used when an order carries no course list.
type CourseRef struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	SortOrder  int        `json:"sort_order"`
	FireStatus FireStatus `json:"fire_status"`
	ReadyAt    *time.Time `json:"ready_at,omitempty"`
}

// Modifier is an option attached to a selection.
type Modifier struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Payment is a tender applied to a check.
type Payment struct {
	ID        string          `json:"id"`
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	TipAmount decimal.Decimal `json:"tip_amount"`
	Status    string          `json:"status"`
}

// Discount is a price reduction on a check.
type Discount struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// Course is a serving phase that groups selections.
type Course struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	SortOrder  int        `json:"sort_order"`
	FireStatus FireStatus `json:"fire_status"`
	FiredAt    *time.Time `json:"fired_at,omitempty"`
	ReadyAt    *time.Time `json:"ready_at,omitempty"`
}

// Advance moves the course forward to next. Returns false when next would
// regress the course; the course is left untouched in that case.
func (c *Course) Advance(next FireStatus, at *time.Time) bool {
	if next.Rank() < c.FireStatus.Rank() {
		return false
	}
	if next == c.FireStatus {
		return true
	}
	c.FireStatus = next
	switch next {
	case FireFired:
		if c.FiredAt == nil {
			c.FiredAt = at
		}
	case FireReady:
		if at != nil {
			c.ReadyAt = at
		}
	}
	return true
}

// Throttle is the admission-control record attached to an order.
type Throttle struct {
	Status     ThrottleStatus `json:"status"`
	Source     ThrottleSource `json:"source,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	HeldAt     *time.Time     `json:"held_at,omitempty"`
	ReleasedAt *time.Time     `json:"released_at,omitempty"`
}

// Marketplace identifies an order placed through a third-party channel.
type Marketplace struct {
	Provider        string `json:"provider"`
	ExternalOrderID string `json:"external_order_id,omitempty"`
	CustomerName    string `json:"customer_name,omitempty"`
}

// Delivery tracks an out-for-delivery order.
type Delivery struct {
	Status      string     `json:"status"`
	DriverName  string     `json:"driver_name,omitempty"`
	DriverPhone string     `json:"driver_phone,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	ETA         *time.Time `json:"eta,omitempty"`
}

// CourseByID returns a pointer into o.Courses, or nil.
func (o *Order) CourseByID(id string) *Course {
	for i := range o.Courses {
		if o.Courses[i].ID == id {
			return &o.Courses[i]
		}
	}
	return nil
}

// SortedCourses returns a copy of the course list ordered by SortOrder,
// then id for a stable tie-break.
func (o *Order) SortedCourses() []Course {
	out := make([]Course, len(o.Courses))
	copy(out, o.Courses)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Selections returns every selection across all checks, in check order.
func (o *Order) Selections() []Selection {
	var out []Selection
	for _, c := range o.Checks {
		out = append(out, c.Selections...)
	}
	return out
}

// Clone returns a deep copy so readers never share slices with the store.
func (o Order) Clone() Order {
	out := o
	if o.Checks != nil {
		out.Checks = make([]Check, len(o.Checks))
		for i, c := range o.Checks {
			out.Checks[i] = c.clone()
		}
	}
	out.Courses = cloneSlice(o.Courses)
	if o.Throttle != nil {
		t := *o.Throttle
		out.Throttle = &t
	}
	if o.Marketplace != nil {
		m := *o.Marketplace
		out.Marketplace = &m
	}
	if o.Delivery != nil {
		d := *o.Delivery
		out.Delivery = &d
	}
	return out
}

func (c Check) clone() Check {
	out := c
	out.Selections = cloneSelections(c.Selections)
	out.VoidedSelections = cloneSelections(c.VoidedSelections)
	out.Payments = cloneSlice(c.Payments)
	out.Discounts = cloneSlice(c.Discounts)
	return out
}

func cloneSelections(in []Selection) []Selection {
	if in == nil {
		return nil
	}
	out := make([]Selection, len(in))
	for i, s := range in {
		out[i] = s
		if s.Course != nil {
			ref := *s.Course
			out[i].Course = &ref
		}
		out[i].Modifiers = cloneSlice(s.Modifiers)
	}
	return out
}

// cloneSlice copies a slice of plain values, preserving nil.
func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
