// Package safety owns the interlock state machine. The emergency stop
// latches: once Stopped, the state returns to Normal only through an
// explicit reset with the stop input released, never by the stop input
// merely clearing. A failed input read is indistinguishable from a hazard
// and is treated as stop asserted.
package safety

import (
	"context"
	"time"

	"github.com/barnybug/gofsm"
	"github.com/pkg/errors"

	"github.com/sproutbox/sproutbox/control"
	"github.com/sproutbox/sproutbox/devices"
	"github.com/sproutbox/sproutbox/logger"
	"github.com/sproutbox/sproutbox/pubsub"
)

// The latch automaton. Override never bypasses Stopped: there is no
// Stopped->Overridden transition.
const automatonYaml = `
safety:
  start: Normal
  states:
    Normal: {}
    Stopped: {}
    Overridden: {}
  transitions:
    Normal,Overridden->Stopped:
      - when: estop
    Stopped->Normal:
      - when: reset
    Normal->Overridden:
      - when: override_on
    Overridden->Normal:
      - when: override_off
`

type trigger string

func (t trigger) Match(s string) bool {
	return string(t) == s
}

// Monitor polls the physical interlock inputs and derives the SafetyState.
// It is the only component allowed to mutate it.
type Monitor struct {
	estop     devices.Input
	override  devices.Input
	reset     devices.Input
	actuators []string
	timeout   time.Duration

	automata *gofsm.Automata
	pub      pubsub.Publisher
	log      *logger.Logger
}

// New builds a Monitor. Any input may be nil when the deployment has no
// such hardware; a nil input always reads released.
func New(estop, override, reset devices.Input, actuators []string, timeout time.Duration, pub pubsub.Publisher, log *logger.Logger) (*Monitor, error) {
	automata, err := gofsm.Load([]byte(automatonYaml))
	if err != nil {
		return nil, errors.Wrap(err, "loading safety automaton")
	}
	return &Monitor{
		estop:     estop,
		override:  override,
		reset:     reset,
		actuators: actuators,
		timeout:   timeout,
		automata:  automata,
		pub:       pub,
		log:       log,
	}, nil
}

// State returns the current safety state.
func (m *Monitor) State() control.SafetyState {
	switch m.automata.Automaton["safety"].State.Name {
	case "Stopped":
		return control.Stopped
	case "Overridden":
		return control.Overridden
	default:
		return control.Normal
	}
}

// read polls an input within the monitor's timeout. ok is false when the
// read failed; the caller decides how fail-safe that input is.
func (m *Monitor) read(ctx context.Context, in devices.Input) (asserted, ok bool) {
	if in == nil {
		return false, true
	}
	rctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	v, err := in.Read(rctx)
	if err != nil {
		m.log.Warnw("safety input read failed", "input", in.ID(), "err", err)
		return false, false
	}
	return v, true
}

// Check runs once per tick, before anything else in the loop. It returns
// the derived state and, on a transition to Stopped, one off-command per
// known actuator so the controller shuts everything down this very tick.
func (m *Monitor) Check(ctx context.Context, now time.Time) (control.SafetyState, []control.Command) {
	stop, stopOK := m.read(ctx, m.estop)
	override, overrideOK := m.read(ctx, m.override)
	reset, resetOK := m.read(ctx, m.reset)

	faulted := !stopOK || !overrideOK || !resetOK
	cause := "emergency-stop"
	if faulted {
		// fail-safe: an unreadable interlock is an asserted one
		stop = true
		cause = "input-fault"
	}

	var cmds []control.Command
	if stop {
		m.automata.Process(trigger("estop"))
		cmds = append(cmds, m.collect(now, cause)...)
	} else {
		if reset && m.State() == control.Stopped {
			m.automata.Process(trigger("reset"))
			cmds = append(cmds, m.collect(now, "reset")...)
		}
		if override {
			m.automata.Process(trigger("override_on"))
			cmds = append(cmds, m.collect(now, "override")...)
		} else {
			m.automata.Process(trigger("override_off"))
			cmds = append(cmds, m.collect(now, "override-released")...)
		}
	}

	return m.State(), cmds
}

// Reset clears the latch programmatically. Refused while the stop input is
// still asserted or unreadable.
func (m *Monitor) Reset(ctx context.Context, now time.Time) error {
	stop, ok := m.read(ctx, m.estop)
	if !ok {
		return errors.New("stop input unreadable, refusing reset")
	}
	if stop {
		return errors.New("emergency stop still asserted")
	}
	m.automata.Process(trigger("reset"))
	m.collect(now, "reset")
	return nil
}

// collect drains the automaton's transition channel, logs and reports each
// change and produces safety off-commands on entry to Stopped.
func (m *Monitor) collect(now time.Time, cause string) []control.Command {
	var cmds []control.Command
	for {
		select {
		case change := <-m.automata.Changes:
			from, to := stateOf(change.Old), stateOf(change.New)
			m.log.Infow("safety state changed", "from", change.Old, "to", change.New, "cause", cause)
			m.pub.Emit(control.SafetyEvent(from, to, cause, now))
			if to == control.Stopped {
				for _, id := range m.actuators {
					cmds = append(cmds, control.Command{
						Actuator: id,
						Action:   control.ActionOff,
						Origin:   control.OriginSafety,
						IssuedAt: now,
						Reason:   cause,
					})
				}
			}
		case <-m.automata.Actions:
			// the latch configures no actions, drain regardless
		default:
			return cmds
		}
	}
}

func stateOf(name string) control.SafetyState {
	switch name {
	case "Stopped":
		return control.Stopped
	case "Overridden":
		return control.Overridden
	default:
		return control.Normal
	}
}
