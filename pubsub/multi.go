package pubsub

import "strings"

// Multi fans out every event to several publishers.
type Multi struct {
	publishers []Publisher
}

func NewMulti(publishers ...Publisher) *Multi {
	return &Multi{publishers: publishers}
}

func (m *Multi) ID() string {
	ids := make([]string, len(m.publishers))
	for i, p := range m.publishers {
		ids[i] = p.ID()
	}
	return "multi: " + strings.Join(ids, ", ")
}

func (m *Multi) Emit(ev *Event) {
	for _, p := range m.publishers {
		p.Emit(ev)
	}
}

func (m *Multi) Close() error {
	var first error
	for _, p := range m.publishers {
		if c, ok := p.(Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
