// Package harness replays recorded realtime traffic through a tenant engine
// and checks the resulting order state.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: kitchen_flow
//	description: "Ticket prints, first course comes up"
//	tenant: tenant-1
//	steps:
//	  - event: "order:new"
//	    data: { id: ord-1, status: preparing }
//	  - start_print: ord-1
//	  - advance: 30s
//	assertions:
//	  - type: order_status
//	    order: ord-1
//	    expect: IN_PREPARATION
//	  - type: notification_count
//	    kind: print.failed
//	    count: 1
//
// Each step is exactly one of event, start_print or advance. Events go
// through the same inbound path the transport uses; advance moves the
// manual clock so print timeouts fire deterministically.
//
// # Assertion Types
//
//   - order_status: canonical status of an order
//   - print_status: none, printing, printed or failed
//   - course_status: fire status of one course
//   - throttle_status: NONE, HELD or RELEASED
//   - notification_count: notices of one kind
//   - view_count: size of a store view (all, pending, in_preparation,
//     ready, closed, queued)
//
// # Golden Snapshots
//
// RunWithGolden compares the replay Snapshot with
// testdata/golden/{name}.golden. Regenerate with
//
//	go test ./internal/harness -update
package harness
