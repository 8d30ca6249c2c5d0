package pubsub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedPublisher blocks inside Emit until released, so tests can hold the
// drain goroutine mid-delivery and fill the queue deterministically.
type gatedPublisher struct {
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	events []*Event
}

func newGatedPublisher() *gatedPublisher {
	return &gatedPublisher{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (g *gatedPublisher) ID() string { return "gated" }

func (g *gatedPublisher) Emit(ev *Event) {
	g.entered <- struct{}{}
	<-g.release
	g.mu.Lock()
	g.events = append(g.events, ev)
	g.mu.Unlock()
}

func (g *gatedPublisher) topics() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var topics []string
	for _, ev := range g.events {
		topics = append(topics, ev.Topic)
	}
	return topics
}

func ev(topic string) *Event {
	return NewEvent(topic, Fields{})
}

func TestQueueDropsOldest(t *testing.T) {
	pub := newGatedPublisher()
	q := NewQueue(pub, 2)

	q.Emit(ev("a"))
	// wait until the drain goroutine is inside Emit("a"): the buffer is
	// empty again and the next emits fill it
	<-pub.entered

	q.Emit(ev("b"))
	q.Emit(ev("c"))
	q.Emit(ev("d")) // overflows, "b" is the oldest and dropped

	close(pub.release)
	require.NoError(t, q.Close())

	assert.Equal(t, []string{"a", "c", "d"}, pub.topics())
}

func TestQueueFlushOnClose(t *testing.T) {
	pub := newGatedPublisher()
	q := NewQueue(pub, 8)
	q.Emit(ev("a"))
	<-pub.entered
	q.Emit(ev("b"))
	q.Emit(ev("c"))

	close(pub.release)
	require.NoError(t, q.Close())
	assert.Equal(t, []string{"a", "b", "c"}, pub.topics())

	// emits after close are discarded
	q.Emit(ev("late"))
	assert.Equal(t, []string{"a", "b", "c"}, pub.topics())
}
