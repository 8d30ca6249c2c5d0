// Package actuator is the single authority over the ActuatorSink. Commands
// arrive in priority order (safety, then human, then scheduler); the
// controller enforces the stop gate, per-actuator rate limits and runtime
// budgets, and owns every pulse timer - the component that asked for a
// pulse can die without leaving a pump running.
package actuator

import (
	"context"
	"time"

	"github.com/sproutbox/sproutbox/config"
	"github.com/sproutbox/sproutbox/control"
	"github.com/sproutbox/sproutbox/devices"
	"github.com/sproutbox/sproutbox/logger"
	"github.com/sproutbox/sproutbox/pubsub"
)

type span struct {
	start, end time.Time
}

type record struct {
	limits config.ActuatorConf

	on      bool
	onSince time.Time
	owner   control.Origin

	// pulse off-deadline, zero when no pulse is in flight. Checked every
	// tick rather than via AfterFunc so cancellation is deterministic and
	// the loop stays single-threaded.
	deadline time.Time
	pulseFor control.Origin

	lastEnd time.Time
	history []span
}

// Controller arbitrates and executes actuator commands.
type Controller struct {
	sink    devices.ActuatorSink
	order   []string
	records map[string]*record
	timeout time.Duration
	pub     pubsub.Publisher
	log     *logger.Logger

	// per-tick state
	now     time.Time
	state   control.SafetyState
	applied map[string]control.Command
}

func New(sink devices.ActuatorSink, confs []config.ActuatorConf, timeout time.Duration, pub pubsub.Publisher, log *logger.Logger) *Controller {
	c := &Controller{
		sink:    sink,
		records: map[string]*record{},
		timeout: timeout,
		pub:     pub,
		log:     log,
		applied: map[string]control.Command{},
	}
	for _, conf := range confs {
		c.order = append(c.order, conf.Id)
		c.records[conf.Id] = &record{limits: conf}
	}
	return c
}

// BeginTick resets per-tick arbitration state. The safety state seen here
// gates every command until the next BeginTick - a transition to Stopped is
// visible before any pending command executes.
func (c *Controller) BeginTick(now time.Time, state control.SafetyState) {
	c.now = now
	c.state = state
	for k := range c.applied {
		delete(c.applied, k)
	}
}

// Apply arbitrates and, when accepted, executes one command. Every command
// ends up on the event sink with its outcome.
func (c *Controller) Apply(ctx context.Context, cmd control.Command) {
	rec, ok := c.records[cmd.Actuator]
	if !ok {
		c.reject(cmd, "unknown-actuator")
		return
	}

	// hard invariant: nothing but safety touches the sink while stopped
	if c.state == control.Stopped && cmd.Origin != control.OriginSafety {
		c.reject(cmd, "safety-stopped")
		return
	}

	if prev, done := c.applied[cmd.Actuator]; done {
		if prev.Action == cmd.Action {
			// idempotent: same command twice in one tick is one command
			c.reject(cmd, "duplicate")
		} else {
			c.reject(cmd, "preempted")
		}
		return
	}

	switch cmd.Action {
	case control.ActionOff:
		c.applyOff(ctx, rec, cmd)
	case control.ActionOn:
		c.applyOn(ctx, rec, cmd)
	case control.ActionPulse:
		c.applyPulse(ctx, rec, cmd)
	}
}

func (c *Controller) applyOff(ctx context.Context, rec *record, cmd control.Command) {
	// any accepted command for this actuator supersedes a pending pulse
	rec.deadline = time.Time{}
	if err := c.set(ctx, cmd.Actuator, false); err != nil {
		c.fail(cmd, err)
		return
	}
	c.endActivation(rec)
	c.accept(cmd)
}

func (c *Controller) applyOn(ctx context.Context, rec *record, cmd control.Command) {
	if rec.on {
		// already running: adopt it and drop any pulse deadline
		rec.deadline = time.Time{}
		rec.owner = cmd.Origin
		c.accept(cmd)
		return
	}
	if reason := c.checkLimits(rec, 0); reason != "" {
		c.reject(cmd, reason)
		return
	}
	if err := c.set(ctx, cmd.Actuator, true); err != nil {
		c.fail(cmd, err)
		return
	}
	rec.on = true
	rec.onSince = c.now
	rec.owner = cmd.Origin
	rec.deadline = time.Time{}
	c.accept(cmd)
}

func (c *Controller) applyPulse(ctx context.Context, rec *record, cmd control.Command) {
	if rec.on {
		// no stacked timers: a pulse on a running actuator waits its turn
		c.reject(cmd, "already-on")
		return
	}
	d := cmd.Duration
	if max := rec.limits.Max_Pulse.Duration; max > 0 && d > max {
		c.log.Warnw("pulse clamped", "actuator", cmd.Actuator, "requested", d, "max", max)
		d = max
	}
	if reason := c.checkLimits(rec, d); reason != "" {
		c.reject(cmd, reason)
		return
	}
	if err := c.set(ctx, cmd.Actuator, true); err != nil {
		c.fail(cmd, err)
		return
	}
	rec.on = true
	rec.onSince = c.now
	rec.owner = cmd.Origin
	rec.deadline = c.now.Add(d)
	rec.pulseFor = cmd.Origin
	c.accept(cmd)
}

// EndTick fires due pulse off-deadlines. A failed off keeps its deadline
// and is retried next tick.
func (c *Controller) EndTick(ctx context.Context) {
	for _, id := range c.order {
		rec := c.records[id]
		if rec.deadline.IsZero() || c.now.Before(rec.deadline) {
			continue
		}
		off := control.Command{
			Actuator: id,
			Action:   control.ActionOff,
			Origin:   rec.pulseFor,
			IssuedAt: c.now,
			Reason:   "pulse-complete",
		}
		if err := c.set(ctx, id, false); err != nil {
			c.fail(off, err)
			continue
		}
		rec.deadline = time.Time{}
		c.endActivation(rec)
		c.accept(off)
	}
}

// checkLimits returns a rejection reason, or "" when the activation is
// allowed. d is the planned runtime (0 for unbounded on).
func (c *Controller) checkLimits(rec *record, d time.Duration) string {
	if min := rec.limits.Min_Interval.Duration; min > 0 && !rec.lastEnd.IsZero() {
		if c.now.Sub(rec.lastEnd) < min {
			return "min-interval"
		}
	}
	if budget := rec.limits.Max_Runtime.Duration; budget > 0 {
		if c.runtimeInWindow(rec)+d > budget {
			return "runtime-budget"
		}
	}
	return ""
}

// runtimeInWindow sums activation time inside the sliding window and prunes
// history that slid out of it.
func (c *Controller) runtimeInWindow(rec *record) time.Duration {
	cutoff := c.now.Add(-rec.limits.Window.Duration)
	var kept []span
	var total time.Duration
	for _, s := range rec.history {
		if s.end.Before(cutoff) {
			continue
		}
		start := s.start
		if start.Before(cutoff) {
			start = cutoff
		}
		total += s.end.Sub(start)
		kept = append(kept, s)
	}
	rec.history = kept
	if rec.on {
		start := rec.onSince
		if start.Before(cutoff) {
			start = cutoff
		}
		total += c.now.Sub(start)
	}
	return total
}

func (c *Controller) endActivation(rec *record) {
	if !rec.on {
		return
	}
	rec.on = false
	rec.lastEnd = c.now
	rec.history = append(rec.history, span{start: rec.onSince, end: c.now})
}

func (c *Controller) set(ctx context.Context, actuator string, on bool) error {
	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.sink.Set(sctx, actuator, on)
}

func (c *Controller) accept(cmd control.Command) {
	c.applied[cmd.Actuator] = cmd
	c.log.Infow("command", "actuator", cmd.Actuator, "action", cmd.Action.String(),
		"origin", cmd.Origin.String(), "reason", cmd.Reason)
	c.pub.Emit(control.CommandEvent(cmd, "accepted", cmd.Reason))
}

func (c *Controller) reject(cmd control.Command, reason string) {
	c.log.Infow("command rejected", "actuator", cmd.Actuator, "action", cmd.Action.String(),
		"origin", cmd.Origin.String(), "reason", reason)
	c.pub.Emit(control.CommandEvent(cmd, "rejected", reason))
}

func (c *Controller) fail(cmd control.Command, err error) {
	c.log.Errorw("actuator write failed", "actuator", cmd.Actuator, "err", err)
	c.pub.Emit(control.CommandEvent(cmd, "failed", err.Error()))
}

// States reports the commanded state of every actuator, for status
// snapshots.
func (c *Controller) States() map[string]bool {
	states := map[string]bool{}
	for id, rec := range c.records {
		states[id] = rec.on
	}
	return states
}

// Off switches every actuator off, bypassing arbitration. Used for the
// final sweep on shutdown.
func (c *Controller) Off(ctx context.Context) {
	for _, id := range c.order {
		rec := c.records[id]
		rec.deadline = time.Time{}
		if err := c.set(ctx, id, false); err != nil {
			c.log.Errorw("shutdown off failed", "actuator", id, "err", err)
			continue
		}
		c.endActivation(rec)
	}
}
