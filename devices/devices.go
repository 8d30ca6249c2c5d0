// Package devices defines the capability interfaces the control loop uses
// to reach the physical world. Bus protocols, calibration and real driver
// logic live behind these interfaces; absence of a device is a
// configuration decision, not a runtime type check.
package devices

import (
	"context"
	"time"
)

// SensorSource returns the current value of one environmental variable.
// Read must honour ctx: the sampler bounds every call with a timeout, and a
// read that overruns it is treated as invalid.
type SensorSource interface {
	ID() string
	Read(ctx context.Context) (value float64, unit string, err error)
}

// ActuatorSink switches an actuator on or off. The actuator controller is
// the only component allowed to call it.
type ActuatorSink interface {
	Set(ctx context.Context, actuator string, on bool) error
}

// Input is a digital input: emergency stop, override key, pressure mat,
// push button.
type Input interface {
	ID() string
	Read(ctx context.Context) (bool, error)
}

// Edge is a debounced input transition, queued as a message and consumed by
// the loop at the next tick boundary.
type Edge struct {
	Input  string
	Rising bool
	At     time.Time
}
