package course

import "github.com/roach88/ordersync/internal/model"

// ThrottleOf returns the order's throttle record, or a NONE record when the
// order carries none. Hold and release are remote commands; this view is
// read-only.
func ThrottleOf(o model.Order) model.Throttle {
	if o.Throttle == nil {
		return model.Throttle{Status: model.ThrottleNone}
	}
	t := *o.Throttle
	if t.Status == "" {
		t.Status = model.ThrottleNone
	}
	return t
}
