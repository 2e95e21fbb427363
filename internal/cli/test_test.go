package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: fire_and_ready
description: "A fired course becomes ready"
steps:
  - event: "order:new"
    data:
      id: ord-1
      status: preparing
      courses:
        - {id: c-1, name: Starters, sortOrder: 1, fireStatus: FIRED}
  - event: "course:updated"
    data: {orderId: ord-1, courseId: c-1, fireStatus: READY}
assertions:
  - {type: order_status, order: ord-1, expect: IN_PREPARATION}
  - {type: course_status, order: ord-1, course: c-1, expect: READY}
`

const failingScenario = `name: wrong_expectation
description: "Expects a status the order never reaches"
steps:
  - event: "order:new"
    data: {id: ord-9, status: confirmed}
assertions:
  - {type: order_status, order: ord-9, expect: CLOSED}
`

// scenarioDir lays out <tmp>/scenarios with the given files and returns
// the scenarios dir and its sibling golden dir.
func scenarioDir(t *testing.T, files map[string]string) (string, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir, filepath.Join(root, "golden")
}

func TestTestCommand_MissingDirectory(t *testing.T) {
	_, err := execute(t, "test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_NoScenarios(t *testing.T) {
	dir, _ := scenarioDir(t, nil)

	out, err := execute(t, "test", dir)
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}

func TestTestCommand_UpdateThenMatch(t *testing.T) {
	dir, golden := scenarioDir(t, map[string]string{"fire_and_ready.yaml": passingScenario})

	out, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ fire_and_ready (golden updated)")
	assert.FileExists(t, filepath.Join(golden, "fire_and_ready.golden"))

	out, err = execute(t, "--format", "json", "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, `"golden":"match"`)
	assert.Contains(t, out, `"passed":1`)
}

func TestTestCommand_GoldenMismatch(t *testing.T) {
	dir, golden := scenarioDir(t, map[string]string{"fire_and_ready.yaml": passingScenario})
	require.NoError(t, os.MkdirAll(golden, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(golden, "fire_and_ready.golden"), []byte("{}\n"), 0o644))

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ fire_and_ready")
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommand_FailingAssertion(t *testing.T) {
	dir, _ := scenarioDir(t, map[string]string{
		"fire_and_ready.yaml":    passingScenario,
		"wrong_expectation.yaml": failingScenario,
	})

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✓ fire_and_ready")
	assert.Contains(t, out, "✗ wrong_expectation")
	assert.Contains(t, out, "Expected: order ord-9 CLOSED")
	assert.Contains(t, out, "1 passed, 1 failed, 2 total")
}

func TestTestCommand_Filter(t *testing.T) {
	dir, _ := scenarioDir(t, map[string]string{
		"fire_and_ready.yaml":    passingScenario,
		"wrong_expectation.yaml": failingScenario,
	})

	out, err := execute(t, "test", dir, "--filter", "fire*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")

	_, err = execute(t, "test", dir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_BrokenScenarioFile(t *testing.T) {
	dir, _ := scenarioDir(t, map[string]string{"broken.yaml": "name: [unclosed\n"})

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommand_HarnessFixtures(t *testing.T) {
	out, err := execute(t, "test", filepath.Join("..", "harness", "testdata", "scenarios"))
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ kitchen_flow")
	assert.Contains(t, out, "✓ recall_and_pay")
}
