package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ordersync/internal/model"
)

// Scenario is a recorded stream of inbound traffic plus the state it must
// leave behind.
type Scenario struct {
	// Name identifies the scenario and its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Tenant defaults to "tenant-1".
	Tenant string `yaml:"tenant,omitempty"`

	// Start is the manual clock's initial time. Defaults to DefaultStart.
	Start *time.Time `yaml:"start,omitempty"`

	// PrintTimeout overrides the print timeout ("45s").
	PrintTimeout string `yaml:"print_timeout,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step is one replayed action. Exactly one of Event, StartPrint and
// Advance is set.
type Step struct {
	// Event is an inbound event name such as "order:new".
	Event string         `yaml:"event,omitempty"`
	Data  map[string]any `yaml:"data,omitempty"`

	// StartPrint begins tracking a kitchen ticket for an order id.
	StartPrint string `yaml:"start_print,omitempty"`

	// Advance moves the clock by a Go duration.
	Advance string `yaml:"advance,omitempty"`
}

// Assertion checks the state after the last step.
type Assertion struct {
	Type string `yaml:"type"`

	Order  string `yaml:"order,omitempty"`
	Course string `yaml:"course,omitempty"`
	Kind   string `yaml:"kind,omitempty"`
	View   string `yaml:"view,omitempty"`

	// Expect is the expected status string.
	Expect string `yaml:"expect,omitempty"`

	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertOrderStatus       = "order_status"
	AssertPrintStatus       = "print_status"
	AssertCourseStatus      = "course_status"
	AssertThrottleStatus    = "throttle_status"
	AssertNotificationCount = "notification_count"
	AssertViewCount         = "view_count"
)

// Store views addressable by view_count.
var Views = []string{"all", "pending", "in_preparation", "ready", "closed", "queued"}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields and missing required fields are errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.PrintTimeout != "" {
		if d, err := time.ParseDuration(s.PrintTimeout); err != nil || d <= 0 {
			return fmt.Errorf("print_timeout must be a positive duration, got %q", s.PrintTimeout)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st Step) error {
	set := 0
	for _, v := range []string{st.Event, st.StartPrint, st.Advance} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of event, start_print, advance is required", index)
	}
	if st.Data != nil && st.Event == "" {
		return fmt.Errorf("steps[%d]: data is only valid with event", index)
	}
	if st.Advance != "" {
		if d, err := time.ParseDuration(st.Advance); err != nil || d < 0 {
			return fmt.Errorf("steps[%d]: advance must be a non-negative duration, got %q", index, st.Advance)
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertOrderStatus, AssertPrintStatus, AssertThrottleStatus:
		if a.Order == "" || a.Expect == "" {
			return fmt.Errorf("assertions[%d]: order and expect are required for %s", index, a.Type)
		}
		if a.Type == AssertOrderStatus && !model.OrderStatus(a.Expect).Valid() {
			return fmt.Errorf("assertions[%d]: unknown order status %q", index, a.Expect)
		}
	case AssertCourseStatus:
		if a.Order == "" || a.Course == "" || a.Expect == "" {
			return fmt.Errorf("assertions[%d]: order, course and expect are required for course_status", index)
		}
	case AssertNotificationCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for notification_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertViewCount:
		if !slices.Contains(Views, a.View) {
			return fmt.Errorf("assertions[%d]: unknown view %q", index, a.View)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
