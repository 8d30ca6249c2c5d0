//go:build !linux

package gpio

import (
	"context"
	"errors"

	"github.com/sproutbox/sproutbox/devices"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// Line is not available on non-Linux platforms.
type Line struct{}

func NewInput(pin InputPin) (*Line, error) {
	return nil, errUnsupported
}

func NewEdgeInput(pin InputPin, queue chan<- devices.Edge) (*Line, error) {
	return nil, errUnsupported
}

func (l *Line) ID() string { return "gpio" }

func (l *Line) Read(ctx context.Context) (bool, error) {
	return false, errUnsupported
}

func (l *Line) Close() error { return nil }

// Sink is not available on non-Linux platforms.
type Sink struct{}

func NewSink(pins []OutputPin) (*Sink, error) {
	return nil, errUnsupported
}

func (s *Sink) Set(ctx context.Context, actuator string, on bool) error {
	return errUnsupported
}

func (s *Sink) Close() error { return nil }
