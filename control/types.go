// Package control holds the value types exchanged between the control loop
// stages: sensor readings, actuator commands and the safety state. All of
// them are immutable snapshots passed by value between components.
package control

import (
	"fmt"
	"time"

	"github.com/sproutbox/sproutbox/pubsub"
)

// Kind of environmental variable a sensor measures.
type Kind string

const (
	Temperature Kind = "temperature"
	Humidity    Kind = "humidity"
	Moisture    Kind = "moisture"
	Light       Kind = "light"
)

// Reading is a single normalized sensor sample. Invalid readings keep the
// last good value for display but must not drive automation.
type Reading struct {
	Source    string
	Kind      Kind
	Value     float64
	Unit      string
	Timestamp time.Time
	Valid     bool
}

// Snapshot is the consistent set of readings for one sampling cycle, keyed
// by sensor id.
type Snapshot map[string]Reading

// Valid reports whether the snapshot holds a valid reading for id.
func (s Snapshot) Valid(id string) (Reading, bool) {
	r, ok := s[id]
	if !ok || !r.Valid {
		return Reading{}, false
	}
	return r, true
}

// Origin identifies who issued a command. Priority: safety > human > scheduler.
type Origin int

const (
	OriginScheduler Origin = iota
	OriginHuman
	OriginSafety
)

func (o Origin) String() string {
	switch o {
	case OriginSafety:
		return "safety"
	case OriginHuman:
		return "human"
	default:
		return "scheduler"
	}
}

// Action an actuator command requests.
type Action int

const (
	ActionOff Action = iota
	ActionOn
	ActionPulse
)

func (a Action) String() string {
	switch a {
	case ActionOn:
		return "on"
	case ActionPulse:
		return "pulse"
	default:
		return "off"
	}
}

// ParseAction maps a configuration action string to an Action.
func ParseAction(s string) (Action, bool) {
	switch s {
	case "on":
		return ActionOn, true
	case "off":
		return ActionOff, true
	case "pulse":
		return ActionPulse, true
	}
	return ActionOff, false
}

// Command instructs the actuator controller. Duration is set for pulses
// only. Reason names the rule, button or interlock that produced it.
type Command struct {
	Actuator string
	Action   Action
	Duration time.Duration
	Origin   Origin
	IssuedAt time.Time
	Reason   string
}

func (c Command) String() string {
	if c.Action == ActionPulse {
		return fmt.Sprintf("%s %s %s (%s)", c.Actuator, c.Action, c.Duration, c.Origin)
	}
	return fmt.Sprintf("%s %s (%s)", c.Actuator, c.Action, c.Origin)
}

// SafetyState is owned by the safety monitor; everyone else only reads it.
type SafetyState int

const (
	Normal SafetyState = iota
	Stopped
	Overridden
)

func (s SafetyState) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Overridden:
		return "Overridden"
	default:
		return "Normal"
	}
}

// ReadingEvent converts a reading to a sink event.
func ReadingEvent(r Reading) *pubsub.Event {
	fields := pubsub.Fields{
		"source": r.Source,
		"kind":   string(r.Kind),
		"value":  r.Value,
		"unit":   r.Unit,
		"valid":  r.Valid,
	}
	ev := pubsub.NewEvent("reading/"+r.Source, fields)
	ev.Timestamp = r.Timestamp
	return ev
}

// CommandEvent converts a command outcome to a sink event. Outcome is
// "accepted" or "rejected"; reason explains rejections.
func CommandEvent(c Command, outcome, reason string) *pubsub.Event {
	fields := pubsub.Fields{
		"actuator": c.Actuator,
		"action":   c.Action.String(),
		"origin":   c.Origin.String(),
		"outcome":  outcome,
	}
	if c.Action == ActionPulse {
		fields["duration"] = c.Duration.Seconds()
	}
	if reason != "" {
		fields["reason"] = reason
	}
	ev := pubsub.NewEvent("command/"+c.Actuator, fields)
	ev.Timestamp = c.IssuedAt
	return ev
}

// SafetyEvent records a safety state transition.
func SafetyEvent(from, to SafetyState, trigger string, at time.Time) *pubsub.Event {
	ev := pubsub.NewEvent("safety", pubsub.Fields{
		"from":    from.String(),
		"to":      to.String(),
		"trigger": trigger,
	})
	ev.Timestamp = at
	return ev
}
