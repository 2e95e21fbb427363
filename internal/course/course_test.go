package course

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ordersync/internal/model"
)

func ptr(t time.Time) *time.Time { return &t }

func coursed(id, courseID string, sort int, fs model.FireStatus, readyAt *time.Time) model.Selection {
	return model.Selection{
		ID: id,
		Course: &model.CourseRef{
			ID:         courseID,
			Name:       "course " + courseID,
			SortOrder:  sort,
			FireStatus: fs,
			ReadyAt:    readyAt,
		},
	}
}

func TestDeriveCourses_MaxRank(t *testing.T) {
	courses := DeriveCourses([]model.Selection{
		coursed("a", "x", 1, model.FireFired, nil),
		coursed("b", "x", 1, model.FirePending, nil),
	})

	require.Len(t, courses, 1)
	assert.Equal(t, "x", courses[0].ID)
	assert.Equal(t, model.FireFired, courses[0].FireStatus)
}

func TestDeriveCourses_LatestReadyAtAndOrdering(t *testing.T) {
	early := time.Date(2026, 2, 1, 19, 0, 0, 0, time.UTC)
	late := early.Add(4 * time.Minute)

	courses := DeriveCourses([]model.Selection{
		coursed("a", "mains", 2, model.FireReady, ptr(late)),
		{ID: "loose"},
		coursed("b", "apps", 1, model.FireReady, ptr(early)),
		coursed("c", "mains", 2, model.FireReady, ptr(early)),
		coursed("d", "mains", 2, model.FireReady, nil),
	})

	require.Len(t, courses, 2)
	assert.Equal(t, "apps", courses[0].ID)
	assert.Equal(t, "mains", courses[1].ID)
	require.NotNil(t, courses[1].ReadyAt)
	assert.Equal(t, late, *courses[1].ReadyAt)
}

func TestDeriveCourses_FiredAtFromEarliestSentItem(t *testing.T) {
	sent1 := time.Date(2026, 2, 1, 18, 30, 0, 0, time.UTC)
	sent2 := sent1.Add(time.Minute)

	a := coursed("a", "x", 1, model.FireFired, nil)
	a.SentAt = ptr(sent2)
	b := coursed("b", "x", 1, model.FireFired, nil)
	b.SentAt = ptr(sent1)
	c := coursed("c", "x", 1, model.FirePending, nil)

	courses := DeriveCourses([]model.Selection{a, b, c})
	require.Len(t, courses, 1)
	require.NotNil(t, courses[0].FiredAt)
	assert.Equal(t, sent1, *courses[0].FiredAt)
}

func TestDeriveCourses_NoCourses(t *testing.T) {
	assert.Empty(t, DeriveCourses([]model.Selection{{ID: "a"}, {ID: "b"}}))
}

func twoCourseOrder(first, second model.FireStatus) model.Order {
	return model.Order{
		ID:          "o-1",
		OrderNumber: "17",
		TableName:   "T4",
		Courses: []model.Course{
			{ID: "mains", Name: "Mains", SortOrder: 2, FireStatus: second},
			{ID: "apps", Name: "Starters", SortOrder: 1, FireStatus: first},
		},
	}
}

func TestTracker_CourseCompleteRaised(t *testing.T) {
	tr := NewTracker(0)
	at := time.Date(2026, 2, 1, 19, 0, 0, 0, time.UTC)

	c, ok := tr.CourseUpdated(twoCourseOrder(model.FireReady, model.FirePending), "apps", at)
	require.True(t, ok)
	assert.Equal(t, Complete{
		OrderID:        "o-1",
		OrderNumber:    "17",
		TableName:      "T4",
		CourseID:       "apps",
		CourseName:     "Starters",
		NextCourseID:   "mains",
		NextCourseName: "Mains",
		At:             at,
	}, c)
	assert.Equal(t, []Complete{c}, tr.Completions())
}

func TestTracker_CourseCompleteSuppressed(t *testing.T) {
	tests := []struct {
		name     string
		order    model.Order
		courseID string
	}{
		{"course not ready", twoCourseOrder(model.FireFired, model.FirePending), "apps"},
		{"next already fired", twoCourseOrder(model.FireReady, model.FireFired), "apps"},
		{"last course", twoCourseOrder(model.FireReady, model.FireReady), "mains"},
		{"unknown course", twoCourseOrder(model.FireReady, model.FirePending), "dessert"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(0)
			_, ok := tr.CourseUpdated(tt.order, tt.courseID, time.Time{})
			assert.False(t, ok)
			assert.Empty(t, tr.Completions())
		})
	}
}

func TestTracker_ItemsReadyBoundedMostRecentFirst(t *testing.T) {
	tr := NewTracker(3)
	for i := range 5 {
		flip := tr.ItemsReady(model.ItemsReadyBatch{OrderID: fmt.Sprintf("o-%d", i), StationID: "grill"})
		assert.False(t, flip)
	}

	got := tr.ReadyBatches()
	require.Len(t, got, 3)
	assert.Equal(t, "o-4", got[0].OrderID)
	assert.Equal(t, "o-3", got[1].OrderID)
	assert.Equal(t, "o-2", got[2].OrderID)

	assert.True(t, tr.ItemsReady(model.ItemsReadyBatch{OrderID: "o-9", AllReady: true}))
	assert.False(t, tr.ItemsReady(model.ItemsReadyBatch{AllReady: true}), "no order to flip")
}

func TestTracker_Dismiss(t *testing.T) {
	tr := NewTracker(0)
	tr.ItemsReady(model.ItemsReadyBatch{OrderID: "a"})
	tr.ItemsReady(model.ItemsReadyBatch{OrderID: "b"})
	tr.PaymentCompleted(model.ScanToPayCompleted{OrderID: "a"})

	tr.Dismiss("a")
	require.Len(t, tr.ReadyBatches(), 1)
	assert.Equal(t, "b", tr.ReadyBatches()[0].OrderID)
	assert.Empty(t, tr.Payments())

	tr.Dismiss("b")
	assert.Empty(t, tr.ReadyBatches())
}

func TestThrottleOf(t *testing.T) {
	assert.Equal(t, model.ThrottleNone, ThrottleOf(model.Order{}).Status)

	held := model.Order{Throttle: &model.Throttle{Status: model.ThrottleHeld, Source: model.ThrottleAuto}}
	assert.Equal(t, model.ThrottleHeld, ThrottleOf(held).Status)

	view := ThrottleOf(held)
	view.Status = model.ThrottleReleased
	assert.Equal(t, model.ThrottleHeld, held.Throttle.Status, "view is a copy")
}
