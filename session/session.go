// Package session tracks the optional human interaction session used in
// supervised deployments. Presence (pressure mat or seat button) opens a
// session; losing presence starts a grace timer and only its expiry closes
// the session, so a participant shifting their weight does not end a
// classroom run. Button presses append activities and may issue human
// commands - those still go through the actuator controller's rate limits
// and the safety gate, they only bypass the automation rules.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sproutbox/sproutbox/config"
	"github.com/sproutbox/sproutbox/control"
	"github.com/sproutbox/sproutbox/devices"
	"github.com/sproutbox/sproutbox/logger"
	"github.com/sproutbox/sproutbox/pubsub"
	"github.com/sproutbox/sproutbox/util"
)

// ActivityEvent is one logged activity; append-only once created.
type ActivityEvent struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// Session is a bounded period of human presence.
type Session struct {
	ID          string
	Participant string
	StartedAt   time.Time
	EndedAt     time.Time
	Activities  []ActivityEvent
}

type button struct {
	conf    config.ButtonConf
	command *control.Command
}

// Manager owns the at-most-one open session.
type Manager struct {
	presence devices.Input
	timeout  time.Duration
	grace    time.Duration
	buttons  map[string]button
	pub      pubsub.Publisher
	log      *logger.Logger

	current     *Session
	present     bool
	absentSince time.Time
}

func New(conf config.SessionConf, presence devices.Input, timeout time.Duration, pub pubsub.Publisher, log *logger.Logger) *Manager {
	m := &Manager{
		presence: presence,
		timeout:  timeout,
		grace:    conf.Grace.Duration,
		buttons:  map[string]button{},
		pub:      pub,
		log:      log,
	}
	for _, b := range conf.Buttons {
		btn := button{conf: b}
		if b.Command != nil {
			action, _ := control.ParseAction(b.Command.Action)
			btn.command = &control.Command{
				Actuator: b.Command.Actuator,
				Action:   action,
				Duration: b.Command.Duration.Duration,
				Origin:   control.OriginHuman,
				Reason:   "button:" + b.Input,
			}
		}
		m.buttons[b.Input] = btn
	}
	return m
}

// Tick runs once per loop tick: polls presence, applies the grace timer
// and translates queued button edges into activities and human commands.
func (m *Manager) Tick(ctx context.Context, now time.Time, edges []devices.Edge) []control.Command {
	m.updatePresence(ctx, now)

	if m.current != nil && !m.present && !m.absentSince.IsZero() && now.Sub(m.absentSince) >= m.grace {
		m.close(now, "participant_left")
	}

	var cmds []control.Command
	for _, edge := range edges {
		if !edge.Rising {
			continue
		}
		btn, ok := m.buttons[edge.Input]
		if !ok {
			continue
		}
		if m.current == nil {
			m.log.Debugw("button press outside session ignored", "input", edge.Input)
			continue
		}
		m.current.Activities = append(m.current.Activities, ActivityEvent{
			Kind:      btn.conf.Activity,
			Timestamp: now,
			Detail:    edge.Input,
		})
		if btn.command != nil {
			cmd := *btn.command
			cmd.IssuedAt = now
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

func (m *Manager) updatePresence(ctx context.Context, now time.Time) {
	if m.presence == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, m.timeout)
	present, err := m.presence.Read(rctx)
	cancel()
	if err != nil {
		// not a safety input: hold the last known state
		m.log.Debugw("presence read failed", "err", err)
		return
	}

	switch {
	case present && !m.present:
		if m.current == nil {
			m.open(now, "")
		} else {
			// returned within grace
			m.absentSince = time.Time{}
		}
	case !present && m.present:
		if m.current != nil {
			m.absentSince = now
		}
	}
	m.present = present
}

// Start opens a session explicitly. An already open session is
// force-closed first with reason superseded.
func (m *Manager) Start(now time.Time, participant string) *Session {
	if m.current != nil {
		m.close(now, "superseded")
	}
	return m.open(now, participant)
}

// End closes the open session explicitly; a no-op when none is open.
func (m *Manager) End(now time.Time) {
	if m.current != nil {
		m.close(now, "ended")
	}
}

// Open returns a copy of the open session, or nil.
func (m *Manager) Open() *Session {
	if m.current == nil {
		return nil
	}
	s := *m.current
	s.Activities = append([]ActivityEvent(nil), m.current.Activities...)
	return &s
}

func (m *Manager) open(now time.Time, participant string) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		Participant: participant,
		StartedAt:   now,
	}
	m.current = s
	m.absentSince = time.Time{}
	m.log.Infow("session started", "session", s.ID, "participant", participant)
	ev := pubsub.NewEvent("session", pubsub.Fields{
		"event":       "started",
		"session_id":  s.ID,
		"participant": participant,
	})
	ev.Timestamp = now
	m.pub.Emit(ev)
	return s
}

// close flushes the session to the sink. current is cleared before
// emitting so a close can never happen twice.
func (m *Manager) close(now time.Time, reason string) {
	s := m.current
	m.current = nil
	m.absentSince = time.Time{}
	s.EndedAt = now

	m.log.Infow("session closed", "session", s.ID, "reason", reason,
		"duration", util.FriendlyDuration(now.Sub(s.StartedAt)), "activities", len(s.Activities))
	activities := make([]map[string]interface{}, len(s.Activities))
	for i, a := range s.Activities {
		activities[i] = map[string]interface{}{
			"kind":      a.Kind,
			"timestamp": a.Timestamp.Format(pubsub.TimeFormat),
			"detail":    a.Detail,
		}
	}
	ev := pubsub.NewEvent("session", pubsub.Fields{
		"event":       "closed",
		"session_id":  s.ID,
		"participant": s.Participant,
		"reason":      reason,
		"started_at":  s.StartedAt.Format(pubsub.TimeFormat),
		"activities":  activities,
	})
	ev.Timestamp = now
	m.pub.Emit(ev)
}
