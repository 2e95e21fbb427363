package harness

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ordersync/internal/model"
	"github.com/roach88/ordersync/internal/notify"
)

func mustParse(t *testing.T, yaml string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(yaml))
	require.NoError(t, err)
	return s
}

func TestRun_RecallAndPay(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "recall_and_pay.yaml"))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	kinds := make([]notify.Kind, 0, len(result.Snapshot.Notifications))
	for _, n := range result.Snapshot.Notifications {
		kinds = append(kinds, n.Kind)
	}
	assert.Equal(t, []notify.Kind{notify.KindItemsReady, notify.KindPaymentCompleted}, kinds)
}

func TestRun_TraceFollowsSteps(t *testing.T) {
	s := mustParse(t, `
name: trace
description: one of each step
steps:
  - event: "order:new"
    data: {id: ord-1, status: preparing}
  - start_print: ord-1
  - advance: 10s
`)
	result, err := Run(s)
	require.NoError(t, err)

	assert.Equal(t, []TraceEvent{
		{Step: 1, Kind: StepEvent, Name: "order:new"},
		{Step: 2, Kind: StepStartPrint, Name: "ord-1"},
		{Step: 3, Kind: StepAdvance, Name: "10s"},
	}, result.Snapshot.Trace)

	require.Len(t, result.Snapshot.Orders, 1)
	assert.Equal(t, model.PrintPrinting, result.Snapshot.Orders[0].Print)
	assert.Equal(t, model.ThrottleNone, result.Snapshot.Orders[0].Throttle)
}

func TestRun_PrintTimeoutOverride(t *testing.T) {
	s := mustParse(t, `
name: short_timeout
description: a five second print timeout
print_timeout: 5s
steps:
  - event: "order:new"
    data: {id: ord-1, status: preparing}
  - start_print: ord-1
  - advance: 5s
assertions:
  - type: print_status
    order: ord-1
    expect: failed
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_CustomStartAndTenant(t *testing.T) {
	s := mustParse(t, `
name: start
description: clock starts where the scenario says
tenant: tenant-9
start: 2026-05-01T09:00:00Z
steps:
  - advance: 1m
`)
	h := New(s)
	defer h.Engine().Stop()

	_, err := h.Replay(t.Context(), s)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 1, 9, 1, 0, 0, time.UTC), h.clock.Now())
}

func TestRun_FailedAssertions(t *testing.T) {
	s := mustParse(t, `
name: failing
description: every assertion misses
steps:
  - event: "order:new"
    data: {id: ord-1, status: confirmed}
assertions:
  - type: order_status
    order: ord-1
    expect: CLOSED
  - type: order_status
    order: ord-404
    expect: RECEIVED
  - type: course_status
    order: ord-1
    course: c-1
    expect: READY
  - type: notification_count
    kind: print.failed
    count: 2
  - type: view_count
    view: pending
    count: 0
`)
	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "Expected: order ord-1 CLOSED")
	assert.Contains(t, result.Errors[0], "Actual: RECEIVED")
	assert.Contains(t, result.Errors[1], "order not found")
	assert.Contains(t, result.Errors[2], "course not found")
	assert.Contains(t, result.Errors[3], "Actual: 0")
	assert.Contains(t, result.Errors[4], "Actual: 1")
}

func TestRun_StatusAssertionsIgnoreCase(t *testing.T) {
	s := mustParse(t, `
name: case
description: print statuses may be written in any case
steps:
  - event: "order:new"
    data: {id: ord-1, status: confirmed}
assertions:
  - type: print_status
    order: ord-1
    expect: NONE
  - type: view_count
    view: all
    count: 1
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_BadEventsDoNotStopReplay(t *testing.T) {
	s := mustParse(t, `
name: bad_events
description: malformed traffic is logged and skipped
steps:
  - event: "order:printed"
    data: {}
  - event: "order:cancelled"
    data: {orderId: ghost}
  - event: "order:new"
    data: {id: ord-1}
assertions:
  - type: view_count
    view: all
    count: 1
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Len(t, result.Snapshot.Trace, 3)
}
