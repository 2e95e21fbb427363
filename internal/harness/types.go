package harness

import (
	"github.com/roach88/ordersync/internal/model"
	"github.com/roach88/ordersync/internal/notify"
)

// Step kinds recorded in the trace.
const (
	StepEvent      = "event"
	StepStartPrint = "start_print"
	StepAdvance    = "advance"
)

// TraceEvent records one replayed step.
type TraceEvent struct {
	Step int    `json:"step"`
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// OrderState is the part of an order a scenario snapshot pins down.
type OrderState struct {
	ID       string               `json:"id"`
	Status   model.OrderStatus    `json:"status"`
	Print    model.PrintStatus    `json:"print"`
	Throttle model.ThrottleStatus `json:"throttle"`
	Courses  []CourseState        `json:"courses,omitempty"`
}

type CourseState struct {
	ID   string           `json:"id"`
	Fire model.FireStatus `json:"fire"`
}

// Notice is a delivered notification without its timestamp and payload.
type Notice struct {
	Kind    notify.Kind `json:"kind"`
	OrderID string      `json:"order_id"`
}

// Snapshot is the deterministic outcome of a replay.
type Snapshot struct {
	Scenario      string       `json:"scenario"`
	Trace         []TraceEvent `json:"trace"`
	Orders        []OrderState `json:"orders"`
	Notifications []Notice     `json:"notifications"`
}

// Result is the outcome of a scenario replay.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	Snapshot Snapshot `json:"snapshot"`

	// Errors contains one message per failed assertion.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult(name string) *Result {
	return &Result{
		Pass: true,
		Snapshot: Snapshot{
			Scenario:      name,
			Trace:         []TraceEvent{},
			Orders:        []OrderState{},
			Notifications: []Notice{},
		},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(step int, kind, name string) {
	r.Snapshot.Trace = append(r.Snapshot.Trace, TraceEvent{Step: step, Kind: kind, Name: name})
}
