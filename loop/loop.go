// Package loop runs the control cycle. Everything happens on one goroutine
// in a fixed stage order per tick: safety check, sensor sampling (on its
// own slower sub-cycle), session and rule evaluation, actuation. The
// safety result is applied before any other command may reach the sink -
// that ordering is a hard invariant, not an optimization.
//
// External inputs (debounced button edges) arrive through a bounded queue
// and are consumed at the next tick boundary, so the loop itself never
// shares mutable state with interrupt-style sources.
package loop

import (
	"context"
	"time"

	"github.com/sproutbox/sproutbox/actuator"
	"github.com/sproutbox/sproutbox/config"
	"github.com/sproutbox/sproutbox/control"
	"github.com/sproutbox/sproutbox/devices"
	"github.com/sproutbox/sproutbox/logger"
	"github.com/sproutbox/sproutbox/pubsub"
	"github.com/sproutbox/sproutbox/safety"
	"github.com/sproutbox/sproutbox/sampler"
	"github.com/sproutbox/sproutbox/scheduler"
	"github.com/sproutbox/sproutbox/session"
	"github.com/sproutbox/sproutbox/util"
)

var Clock = func() time.Time {
	return time.Now()
}

// InputQueueSize bounds the edge queue; a full queue drops edges, the
// level is still picked up by the next poll.
const InputQueueSize = 64

// Loop wires the four stages together.
type Loop struct {
	conf       *config.Config
	safety     *safety.Monitor
	sampler    *sampler.Sampler
	scheduler  *scheduler.Scheduler
	session    *session.Manager
	controller *actuator.Controller
	pub        pubsub.Publisher
	log        *logger.Logger

	// Inputs receives debounced edges from interrupt-style sources.
	Inputs chan devices.Edge

	snapshot   control.Snapshot
	lastState  control.SafetyState
	nextSample time.Time
	nextStatus time.Time
	started    time.Time
}

func New(conf *config.Config, mon *safety.Monitor, smp *sampler.Sampler, sch *scheduler.Scheduler, ses *session.Manager, ctl *actuator.Controller, pub pubsub.Publisher, log *logger.Logger) *Loop {
	return &Loop{
		conf:       conf,
		safety:     mon,
		sampler:    smp,
		scheduler:  sch,
		session:    ses,
		controller: ctl,
		pub:        pub,
		log:        log,
		Inputs:     make(chan devices.Edge, InputQueueSize),
		snapshot:   control.Snapshot{},
		lastState:  control.Normal,
	}
}

// Run ticks until the context is cancelled, then sweeps every actuator off
// before returning - the chamber never keeps running past the process.
func (l *Loop) Run(ctx context.Context) error {
	tick := l.conf.Loop.Tick.Duration
	l.started = Clock()
	l.log.Infow("control loop starting", "tick", tick,
		"sampling", l.conf.Sampling.Period.Duration)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.log.Infow("control loop stopping, switching all actuators off")
			sweep, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			l.controller.Off(sweep)
			cancel()
			return nil
		case now := <-ticker.C:
			l.Tick(ctx, now)
		}
	}
}

// Tick runs one full cycle. Exported for tests, which drive time directly.
func (l *Loop) Tick(ctx context.Context, now time.Time) {
	// stage 1: safety gates everything
	state, safetyCmds := l.safety.Check(ctx, now)
	l.controller.BeginTick(now, state)
	for _, cmd := range safetyCmds {
		l.controller.Apply(ctx, cmd)
	}
	if state == control.Normal && l.lastState != control.Normal {
		// automation resumes: re-derive every level rule
		l.scheduler.Invalidate()
	}
	l.lastState = state

	// stage 2: sample on the slower sub-cycle
	if !now.Before(l.nextSample) {
		l.snapshot = l.sampler.Sample(ctx, now)
		l.nextSample = now.Add(l.conf.Sampling.Period.Duration)
	}

	// stage 3a: session first - human commands outrank scheduler ones
	for _, cmd := range l.session.Tick(ctx, now, l.drainInputs()) {
		l.controller.Apply(ctx, cmd)
	}

	// stage 3b: rules only drive actuators in Normal state
	if state == control.Normal {
		for _, cmd := range l.scheduler.Evaluate(now, l.snapshot) {
			l.controller.Apply(ctx, cmd)
		}
	}

	// stage 4: due pulse-offs
	l.controller.EndTick(ctx)

	if interval := l.conf.Loop.Status_Interval.Duration; interval > 0 && !now.Before(l.nextStatus) {
		l.pub.Emit(l.statusEvent(now))
		l.nextStatus = now.Add(interval)
	}
}

func (l *Loop) drainInputs() []devices.Edge {
	var edges []devices.Edge
	for {
		select {
		case e := <-l.Inputs:
			edges = append(edges, e)
		default:
			return edges
		}
	}
}

// statusEvent snapshots the whole system so an operator can always see why
// something did or did not happen.
func (l *Loop) statusEvent(now time.Time) *pubsub.Event {
	readings := map[string]interface{}{}
	for id, r := range l.snapshot {
		readings[id] = map[string]interface{}{
			"value": r.Value,
			"unit":  r.Unit,
			"valid": r.Valid,
		}
	}
	actuators := map[string]interface{}{}
	for id, on := range l.controller.States() {
		actuators[id] = on
	}
	fields := pubsub.Fields{
		"safety":    l.safety.State().String(),
		"uptime":    util.ShortDuration(now.Sub(l.started)),
		"readings":  readings,
		"actuators": actuators,
	}
	if degraded := l.sampler.Degraded(); len(degraded) > 0 {
		fields["degraded"] = degraded
	}
	if s := l.session.Open(); s != nil {
		fields["session_id"] = s.ID
		fields["session_activities"] = len(s.Activities)
	}
	ev := pubsub.NewEvent("status", fields)
	ev.Timestamp = now
	return ev
}
