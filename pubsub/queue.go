package pubsub

import (
	"log"
	"sync"
)

// Queue decouples the control loop from sink latency: Emit never blocks,
// events are drained to the wrapped publisher by a background goroutine.
// When the buffer is full the oldest event is dropped - readings are
// perishable and a stalled sink must not stall the loop.
type Queue struct {
	next Publisher

	mu       sync.Mutex
	cond     *sync.Cond
	buf      []*Event
	capacity int
	head     int // next write position
	count    int
	closed   bool
	overflow bool // a drop happened since the last drain
	wg       sync.WaitGroup
}

func NewQueue(next Publisher, capacity int) *Queue {
	q := &Queue{
		next:     next,
		buf:      make([]*Event, capacity),
		capacity: capacity,
	}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.drain()
	return q
}

func (q *Queue) ID() string {
	return "queue: " + q.next.ID()
}

func (q *Queue) Emit(ev *Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if q.count == q.capacity {
		if !q.overflow {
			log.Printf("pubsub: queue full (%d events), dropping oldest", q.capacity)
			q.overflow = true
		}
		// head already points at the oldest entry
		q.buf[q.head] = ev
		q.head = (q.head + 1) % q.capacity
	} else {
		q.buf[q.head] = ev
		q.head = (q.head + 1) % q.capacity
		q.count++
	}
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *Queue) drain() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for q.count == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.count == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		start := (q.head - q.count + q.capacity) % q.capacity
		ev := q.buf[start]
		q.buf[start] = nil
		q.count--
		q.overflow = false
		q.mu.Unlock()

		q.next.Emit(ev)
	}
}

// Close flushes buffered events and stops the drain goroutine.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.wg.Wait()
	if c, ok := q.next.(Closer); ok {
		return c.Close()
	}
	return nil
}
