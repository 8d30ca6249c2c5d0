package pubsub

// Publisher is the write side of the event sink. The control core only ever
// produces events; it never reads the stream back.
type Publisher interface {
	ID() string
	Emit(ev *Event)
}

// Closer is implemented by publishers holding external resources.
type Closer interface {
	Close() error
}
