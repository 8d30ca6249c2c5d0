//go:build linux

package gpio

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"

	"github.com/sproutbox/sproutbox/devices"
)

// Line is a devices.Input backed by a GPIO line.
type Line struct {
	name   string
	line   *gpiocdev.Line
	invert bool
}

// NewInput requests pin as an input with pull-up (active-low wiring).
func NewInput(pin InputPin) (*Line, error) {
	l, err := gpiocdev.RequestLine(pin.Chip, pin.Line, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		return nil, errors.Wrapf(err, "request input %s (%s:%d)", pin.Name, pin.Chip, pin.Line)
	}
	return &Line{name: pin.Name, line: l, invert: !pin.Invert}, nil
}

// NewEdgeInput requests pin as an input and additionally pushes debounced
// edges into queue. A full queue drops the edge - the level is still seen by
// the next polled Read.
func NewEdgeInput(pin InputPin, queue chan<- devices.Edge) (*Line, error) {
	invert := !pin.Invert
	handler := func(evt gpiocdev.LineEvent) {
		rising := evt.Type == gpiocdev.LineEventRisingEdge
		if invert {
			rising = !rising
		}
		select {
		case queue <- devices.Edge{Input: pin.Name, Rising: rising, At: time.Now()}:
		default:
		}
	}
	l, err := gpiocdev.RequestLine(pin.Chip, pin.Line,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithDebounce(Debounce),
		gpiocdev.WithEventHandler(handler))
	if err != nil {
		return nil, errors.Wrapf(err, "request edge input %s (%s:%d)", pin.Name, pin.Chip, pin.Line)
	}
	return &Line{name: pin.Name, line: l, invert: invert}, nil
}

func (l *Line) ID() string {
	return l.name
}

func (l *Line) Read(ctx context.Context) (bool, error) {
	v, err := l.line.Value()
	if err != nil {
		return false, errors.Wrapf(err, "read %s", l.name)
	}
	on := v != 0
	if l.invert {
		on = !on
	}
	return on, nil
}

func (l *Line) Close() error {
	return l.line.Close()
}

// Sink drives relay outputs, one GPIO line per actuator.
type Sink struct {
	mu    sync.Mutex
	lines map[string]*gpiocdev.Line
}

// NewSink requests all output pins, initially off.
func NewSink(pins []OutputPin) (*Sink, error) {
	s := &Sink{lines: map[string]*gpiocdev.Line{}}
	for _, pin := range pins {
		l, err := gpiocdev.RequestLine(pin.Chip, pin.Line, gpiocdev.AsOutput(0))
		if err != nil {
			s.Close()
			return nil, errors.Wrapf(err, "request output %s (%s:%d)", pin.Name, pin.Chip, pin.Line)
		}
		s.lines[pin.Name] = l
	}
	return s, nil
}

func (s *Sink) Set(ctx context.Context, actuator string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lines[actuator]
	if !ok {
		return errors.Errorf("unknown actuator: %s", actuator)
	}
	v := 0
	if on {
		v = 1
	}
	return errors.Wrapf(l.SetValue(v), "set %s", actuator)
}

// Close drives all outputs off and releases the lines.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, l := range s.lines {
		if err := l.SetValue(0); err != nil && first == nil {
			first = err
		}
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
