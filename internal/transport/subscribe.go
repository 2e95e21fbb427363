package transport

// Subscribe registers fn for one event name and returns a func that
// unregisters it.
func (m *Manager) Subscribe(event string, fn Handler) func() {
	m.hmu.Lock()
	id := m.nextID
	m.nextID++
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[int]Handler)
	}
	m.handlers[event][id] = fn
	m.hmu.Unlock()

	return func() {
		m.hmu.Lock()
		delete(m.handlers[event], id)
		m.hmu.Unlock()
	}
}

// SubscribeAll registers fn for every inbound event.
func (m *Manager) SubscribeAll(fn Handler) func() {
	m.hmu.Lock()
	id := m.nextID
	m.nextID++
	m.all[id] = fn
	m.hmu.Unlock()

	return func() {
		m.hmu.Lock()
		delete(m.all, id)
		m.hmu.Unlock()
	}
}

// OnStatus registers fn for status and online changes.
func (m *Manager) OnStatus(fn func(StatusChange)) func() {
	m.hmu.Lock()
	id := m.nextID
	m.nextID++
	m.statusFns[id] = fn
	m.hmu.Unlock()

	return func() {
		m.hmu.Lock()
		delete(m.statusFns, id)
		m.hmu.Unlock()
	}
}

func (m *Manager) dispatch(event string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	m.hmu.Lock()
	fns := ordered(m.handlers[event], m.nextID)
	fns = append(fns, ordered(m.all, m.nextID)...)
	m.hmu.Unlock()

	for _, fn := range fns {
		fn(event, payload)
	}
}

// emitStatus delivers c if it differs from the last delivered change.
func (m *Manager) emitStatus(c StatusChange) {
	m.mu.Lock()
	if c == m.emitted {
		m.mu.Unlock()
		return
	}
	m.emitted = c
	m.mu.Unlock()

	m.hmu.Lock()
	fns := ordered(m.statusFns, m.nextID)
	m.hmu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func ordered[T any](set map[int]T, limit int) []T {
	out := make([]T, 0, len(set))
	for id := 0; id < limit; id++ {
		if fn, ok := set[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}
