package orderstore

import "github.com/roach88/ordersync/internal/model"

// All returns every order in insertion order.
func (s *Store) All() []model.Order {
	return s.filter(func(model.Order) bool { return true })
}

// Pending returns orders the kitchen has not started.
func (s *Store) Pending() []model.Order {
	return s.ByStatus(model.StatusReceived)
}

func (s *Store) InPreparation() []model.Order {
	return s.ByStatus(model.StatusInPreparation)
}

func (s *Store) Ready() []model.Order {
	return s.ByStatus(model.StatusReadyForPickup)
}

// Closed includes voided orders.
func (s *Store) Closed() []model.Order {
	return s.ByStatus(model.StatusClosed, model.StatusVoided)
}

// Queued returns placeholders still waiting on the offline queue.
func (s *Store) Queued() []model.Order {
	return s.filter(func(o model.Order) bool { return o.IsQueued })
}

// ByStatus returns orders whose status is any of statuses.
func (s *Store) ByStatus(statuses ...model.OrderStatus) []model.Order {
	return s.filter(func(o model.Order) bool {
		for _, st := range statuses {
			if o.Status == st {
				return true
			}
		}
		return false
	})
}

func (s *Store) filter(keep func(model.Order) bool) []model.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Order
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	return out
}
