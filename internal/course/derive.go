package course

import (
	"sort"
	"time"

	"github.com/roach88/ordersync/internal/model"
)

// DeriveCourses builds an order-level course list from item signals.
//
// Selections are grouped by course id. Each course takes the maximum-rank
// fire status across its items and the latest non-nil ready timestamp.
// Name and sort order come from the first selection that carries them.
// Selections without a course are ignored.
func DeriveCourses(selections []model.Selection) []model.Course {
	var courses []model.Course
	index := make(map[string]int)

	for _, s := range selections {
		if s.Course == nil || s.Course.ID == "" {
			continue
		}
		ref := s.Course
		i, ok := index[ref.ID]
		if !ok {
			index[ref.ID] = len(courses)
			courses = append(courses, model.Course{
				ID:         ref.ID,
				Name:       ref.Name,
				SortOrder:  ref.SortOrder,
				FireStatus: model.FirePending,
			})
			i = len(courses) - 1
		}
		c := &courses[i]
		if c.Name == "" {
			c.Name = ref.Name
		}
		if c.SortOrder == 0 {
			c.SortOrder = ref.SortOrder
		}
		c.FireStatus = model.MaxFire(c.FireStatus, ref.FireStatus)
		c.ReadyAt = latest(c.ReadyAt, ref.ReadyAt)
		if ref.FireStatus.Rank() >= model.FireFired.Rank() {
			c.FiredAt = earliest(c.FiredAt, s.SentAt)
		}
	}

	sort.SliceStable(courses, func(i, j int) bool {
		return courses[i].SortOrder < courses[j].SortOrder
	})
	return courses
}

func latest(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || !b.After(*a) {
		return a
	}
	return b
}

func earliest(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || !b.Before(*a) {
		return a
	}
	return b
}
