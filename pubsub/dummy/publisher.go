package dummy

import "github.com/sproutbox/sproutbox/pubsub"

// Dummy Publisher for testing
type Publisher struct {
	Events []*pubsub.Event
}

func (pub *Publisher) ID() string {
	return "dummy"
}

func (pub *Publisher) Emit(ev *pubsub.Event) {
	pub.Events = append(pub.Events, ev)
}

// OnTopic returns the captured events matching topic.
func (pub *Publisher) OnTopic(topic string) []*pubsub.Event {
	var ret []*pubsub.Event
	for _, ev := range pub.Events {
		if ev.Topic == topic {
			ret = append(ret, ev)
		}
	}
	return ret
}

// Reset discards captured events.
func (pub *Publisher) Reset() {
	pub.Events = pub.Events[:0]
}
