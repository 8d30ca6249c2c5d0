// Package scheduler evaluates the automation rules against the latest
// snapshot and the wall clock. Rules run in declaration order; when two
// rules target the same actuator in one tick the later rule wins. That is
// deliberate and documented - rule authors append overrides below the rules
// they refine.
//
// Three rule forms exist:
//
//   - threshold: hysteresis on one sensor, separate on/off thresholds
//   - window: time-of-day band, level-evaluated so a restart mid-window
//     converges within one tick
//   - when: a govaluate expression over sensor values and the clock,
//     firing a configured command
//
// The scheduler only proposes; the actuator controller enforces rate
// limits and the safety gate.
package scheduler

import (
	"time"

	"github.com/Knetic/govaluate"
	"github.com/pkg/errors"

	"github.com/sproutbox/sproutbox/config"
	"github.com/sproutbox/sproutbox/control"
	"github.com/sproutbox/sproutbox/logger"
)

type rule struct {
	conf config.RuleConf

	// threshold
	rising  bool
	engaged bool

	// window, minutes into the day
	start, end int

	// expression
	expr *govaluate.EvaluableExpression
	do   control.Command

	lastEmitted *bool // last on/off sent for threshold and window rules
	lastFired   time.Time
}

// Scheduler holds the compiled rule set.
type Scheduler struct {
	rules []*rule
	log   *logger.Logger
}

// New compiles the rule set. Errors here are configuration errors and
// fatal at startup.
func New(confs []config.RuleConf, log *logger.Logger) (*Scheduler, error) {
	s := &Scheduler{log: log}
	for i, conf := range confs {
		r := &rule{conf: conf}
		switch {
		case conf.Threshold != nil:
			if conf.Threshold.On_At == conf.Threshold.Off_At {
				return nil, errors.Errorf("rule %s: empty hysteresis band", conf.Name)
			}
			r.rising = conf.Threshold.On_At > conf.Threshold.Off_At
		case conf.Window != nil:
			start, err := minutes(conf.Window.Start)
			if err != nil {
				return nil, errors.Wrapf(err, "rule %s", conf.Name)
			}
			end, err := minutes(conf.Window.End)
			if err != nil {
				return nil, errors.Wrapf(err, "rule %s", conf.Name)
			}
			r.start, r.end = start, end
		case conf.When != "":
			expr, err := govaluate.NewEvaluableExpression(conf.When)
			if err != nil {
				return nil, errors.Wrapf(err, "rule %s: bad expression", conf.Name)
			}
			action, ok := control.ParseAction(conf.Do.Action)
			if !ok {
				return nil, errors.Errorf("rule %s: unknown action %q", conf.Name, conf.Do.Action)
			}
			r.expr = expr
			r.do = control.Command{
				Actuator: conf.Do.Actuator,
				Action:   action,
				Duration: conf.Do.Duration.Duration,
				Origin:   control.OriginScheduler,
				Reason:   conf.Name,
			}
		default:
			return nil, errors.Errorf("rule %d (%s): no condition", i, conf.Name)
		}
		s.rules = append(s.rules, r)
	}
	return s, nil
}

// Evaluate runs every rule once against the snapshot, in declaration
// order, and returns the proposed commands. Only valid readings
// participate; a rule whose sensor is invalid this cycle holds its state.
func (s *Scheduler) Evaluate(now time.Time, snapshot control.Snapshot) []control.Command {
	var proposed []control.Command
	for _, r := range s.rules {
		if cmd, ok := s.evaluate(r, now, snapshot); ok {
			proposed = append(proposed, cmd)
		}
	}
	return collapse(proposed)
}

func (s *Scheduler) evaluate(r *rule, now time.Time, snapshot control.Snapshot) (control.Command, bool) {
	switch {
	case r.conf.Threshold != nil:
		reading, ok := snapshot.Valid(r.conf.Sensor)
		if !ok {
			return control.Command{}, false
		}
		v := reading.Value
		t := r.conf.Threshold
		if r.rising {
			if v >= t.On_At {
				r.engaged = true
			} else if v <= t.Off_At {
				r.engaged = false
			}
		} else {
			if v <= t.On_At {
				r.engaged = true
			} else if v >= t.Off_At {
				r.engaged = false
			}
		}
		return s.level(r, now, r.engaged)

	case r.conf.Window != nil:
		m := now.Hour()*60 + now.Minute()
		var inside bool
		if r.start <= r.end {
			inside = m >= r.start && m < r.end
		} else {
			// overnight window
			inside = m >= r.start || m < r.end
		}
		return s.level(r, now, inside)

	default:
		params := map[string]interface{}{
			"hour":    float64(now.Hour()),
			"minute":  float64(now.Minute()),
			"weekday": float64(now.Weekday()),
		}
		for id, reading := range snapshot {
			if reading.Valid {
				params[id] = reading.Value
			}
		}
		result, err := r.expr.Evaluate(params)
		if err != nil {
			// a referenced sensor is invalid this cycle: stay quiet
			s.log.Debugw("rule expression not evaluable", "rule", r.conf.Name, "err", err)
			return control.Command{}, false
		}
		fire, ok := result.(bool)
		if !ok {
			s.log.Warnw("rule expression is not boolean", "rule", r.conf.Name)
			return control.Command{}, false
		}
		if !fire || !s.cooledDown(r, now) {
			return control.Command{}, false
		}
		r.lastFired = now
		cmd := r.do
		cmd.IssuedAt = now
		return cmd, true
	}
}

// level emits the desired on/off state of a threshold or window rule when
// it differs from the last emitted one. The first evaluation always emits,
// so a restart converges to the correct state within one tick.
func (s *Scheduler) level(r *rule, now time.Time, on bool) (control.Command, bool) {
	if r.lastEmitted != nil && *r.lastEmitted == on {
		return control.Command{}, false
	}
	if !s.cooledDown(r, now) {
		return control.Command{}, false
	}
	state := on
	r.lastEmitted = &state
	r.lastFired = now
	action := control.ActionOff
	if on {
		action = control.ActionOn
	}
	return control.Command{
		Actuator: r.conf.Actuator,
		Action:   action,
		Origin:   control.OriginScheduler,
		IssuedAt: now,
		Reason:   r.conf.Name,
	}, true
}

// Invalidate forgets the last emitted levels. Called when automation
// resumes after a safety stop or an override, where the physical state no
// longer matches what the rules last commanded; the next evaluation
// re-emits every level rule.
func (s *Scheduler) Invalidate() {
	for _, r := range s.rules {
		r.lastEmitted = nil
	}
}

func (s *Scheduler) cooledDown(r *rule, now time.Time) bool {
	cd := r.conf.Cooldown.Duration
	return cd <= 0 || r.lastFired.IsZero() || now.Sub(r.lastFired) >= cd
}

// collapse keeps only the last command per actuator, preserving the
// generation order of the survivors.
func collapse(cmds []control.Command) []control.Command {
	if len(cmds) < 2 {
		return cmds
	}
	seen := map[string]bool{}
	out := make([]control.Command, 0, len(cmds))
	for i := len(cmds) - 1; i >= 0; i-- {
		if seen[cmds[i].Actuator] {
			continue
		}
		seen[cmds[i].Actuator] = true
		out = append(out, cmds[i])
	}
	// restore declaration order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func minutes(hm string) (int, error) {
	t, err := time.Parse("15:04", hm)
	if err != nil {
		return 0, errors.Wrapf(err, "bad time %q", hm)
	}
	return t.Hour()*60 + t.Minute(), nil
}
