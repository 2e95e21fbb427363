package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/ordersync/internal/course"
	"github.com/roach88/ordersync/internal/model"
	"github.com/roach88/ordersync/internal/notify"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions runs every assertion against the harness state and
// returns one message per failure.
func EvaluateAssertions(h *Harness, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(h, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(h *Harness, a Assertion) error {
	switch a.Type {
	case AssertOrderStatus:
		o, ok := h.engine.Orders().Get(a.Order)
		if !ok {
			return missingOrder(a)
		}
		return expectEqual(a, string(o.Status))
	case AssertPrintStatus:
		return expectEqual(a, string(h.engine.Prints().Status(a.Order)))
	case AssertThrottleStatus:
		o, ok := h.engine.Orders().Get(a.Order)
		if !ok {
			return missingOrder(a)
		}
		return expectEqual(a, string(course.ThrottleOf(o).Status))
	case AssertCourseStatus:
		o, ok := h.engine.Orders().Get(a.Order)
		if !ok {
			return missingOrder(a)
		}
		c := o.CourseByID(a.Course)
		if c == nil {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("course %s on order %s", a.Course, a.Order),
				Actual:   "course not found",
			}
		}
		return expectEqual(a, string(c.FireStatus))
	case AssertNotificationCount:
		n := 0
		for _, notice := range h.sink.list() {
			if notice.Kind == notify.Kind(a.Kind) {
				n++
			}
		}
		return expectCount(a, n)
	case AssertViewCount:
		return expectCount(a, len(h.view(a.View)))
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func (h *Harness) view(name string) []model.Order {
	s := h.engine.Orders()
	switch name {
	case "pending":
		return s.Pending()
	case "in_preparation":
		return s.InPreparation()
	case "ready":
		return s.Ready()
	case "closed":
		return s.Closed()
	case "queued":
		return s.Queued()
	default:
		return s.All()
	}
}

func expectEqual(a Assertion, actual string) error {
	if strings.EqualFold(actual, a.Expect) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s %s", subject(a), a.Expect),
		Actual:   actual,
	}
}

func expectCount(a Assertion, actual int) error {
	if actual == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s count %d", subject(a), a.Count),
		Actual:   fmt.Sprintf("%d", actual),
	}
}

func missingOrder(a Assertion) error {
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("order %s", a.Order),
		Actual:   "order not found",
	}
}

func subject(a Assertion) string {
	switch {
	case a.Course != "":
		return fmt.Sprintf("order %s course %s", a.Order, a.Course)
	case a.Order != "":
		return "order " + a.Order
	case a.Kind != "":
		return "notification " + a.Kind
	default:
		return "view " + a.View
	}
}
