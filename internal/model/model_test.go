package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFireStatus_Rank(t *testing.T) {
	assert.Equal(t, 0, FirePending.Rank())
	assert.Equal(t, 1, FireFired.Rank())
	assert.Equal(t, 2, FireReady.Rank())
	assert.Equal(t, 0, FireStatus("bogus").Rank())

	assert.Equal(t, FireFired, MaxFire(FirePending, FireFired))
	assert.Equal(t, FireReady, MaxFire(FireReady, FireFired))
}

func TestOrderStatus_IsRecall(t *testing.T) {
	assert.True(t, StatusReadyForPickup.IsRecall(StatusInPreparation))
	assert.True(t, StatusInPreparation.IsRecall(StatusReceived))
	assert.False(t, StatusReceived.IsRecall(StatusInPreparation))
	assert.False(t, StatusReceived.IsRecall(OrderStatus("nope")))
}

func TestCourse_AdvanceNeverRegresses(t *testing.T) {
	at := time.Date(2026, 1, 2, 18, 0, 0, 0, time.UTC)
	c := Course{ID: "c1", FireStatus: FirePending}

	assert.True(t, c.Advance(FireFired, &at))
	assert.Equal(t, FireFired, c.FireStatus)
	assert.Equal(t, &at, c.FiredAt)

	later := at.Add(5 * time.Minute)
	assert.True(t, c.Advance(FireReady, &later))
	assert.Equal(t, &later, c.ReadyAt)

	assert.False(t, c.Advance(FirePending, nil))
	assert.Equal(t, FireReady, c.FireStatus)
}

func TestOrder_SortedCourses(t *testing.T) {
	o := Order{Courses: []Course{
		{ID: "dessert", SortOrder: 3},
		{ID: "apps", SortOrder: 1},
		{ID: "mains", SortOrder: 2},
	}}

	sorted := o.SortedCourses()
	assert.Equal(t, "apps", sorted[0].ID)
	assert.Equal(t, "mains", sorted[1].ID)
	assert.Equal(t, "dessert", sorted[2].ID)

	// original untouched
	assert.Equal(t, "dessert", o.Courses[0].ID)
}

func TestOrder_CloneIsDeep(t *testing.T) {
	o := Order{
		ID: "o1",
		Checks: []Check{{
			ID:         "k1",
			Selections: []Selection{{ID: "s1", Course: &CourseRef{ID: "c1"}}},
		}},
		Courses:  []Course{{ID: "c1"}},
		Throttle: &Throttle{Status: ThrottleHeld},
	}

	c := o.Clone()
	c.Checks[0].Selections[0].Course.ID = "changed"
	c.Courses[0].FireStatus = FireReady
	c.Throttle.Status = ThrottleReleased

	assert.Equal(t, "c1", o.Checks[0].Selections[0].Course.ID)
	assert.Equal(t, FireStatus(""), o.Courses[0].FireStatus)
	assert.Equal(t, ThrottleHeld, o.Throttle.Status)
}
