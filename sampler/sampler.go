// Package sampler polls the registered sensors on a fixed cadence and
// turns raw reads into normalized readings. A cycle always runs to
// completion - each read is bounded by the per-sensor timeout - so rule
// evaluation sees one consistent snapshot per cycle.
package sampler

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/sproutbox/sproutbox/config"
	"github.com/sproutbox/sproutbox/control"
	"github.com/sproutbox/sproutbox/devices"
	"github.com/sproutbox/sproutbox/logger"
	"github.com/sproutbox/sproutbox/pubsub"
)

// A sensor reporting garbage this many cycles in a row is declared
// degraded (reported once, not fatal).
const degradedAfter = 3

type entry struct {
	conf   config.SensorConf
	source devices.SensorSource
	last   control.Reading // last valid reading, zero until one arrives
	streak int             // consecutive invalid reads
}

// Sampler reads all sensors once per sampling cycle.
type Sampler struct {
	entries []*entry
	timeout time.Duration
	pub     pubsub.Publisher
	log     *logger.Logger
}

// New wires sensor configurations to their sources. Every configured
// sensor must have a source: a missing one is a wiring bug, caught at
// startup rather than mid-run.
func New(confs []config.SensorConf, sources map[string]devices.SensorSource, timeout time.Duration, pub pubsub.Publisher, log *logger.Logger) (*Sampler, error) {
	s := &Sampler{timeout: timeout, pub: pub, log: log}
	for _, conf := range confs {
		source, ok := sources[conf.Id]
		if !ok {
			return nil, errors.Errorf("no source for sensor %s", conf.Id)
		}
		s.entries = append(s.entries, &entry{conf: conf, source: source})
	}
	return s, nil
}

// Sample runs one full cycle and returns the snapshot. Invalid readings
// keep the last good value for display but are tagged valid=false and so
// never drive automation.
func (s *Sampler) Sample(ctx context.Context, now time.Time) control.Snapshot {
	snapshot := control.Snapshot{}
	for _, e := range s.entries {
		reading := s.readOne(ctx, e, now)
		snapshot[e.conf.Id] = reading
	}
	// cycle complete, publish the results
	for _, e := range s.entries {
		s.pub.Emit(control.ReadingEvent(snapshot[e.conf.Id]))
		if e.streak == degradedAfter {
			// exactly once, on the cycle the streak is reached
			s.log.Warnw("sensor degraded", "sensor", e.conf.Id, "streak", e.streak)
			s.pub.Emit(degradedEvent(e.conf.Id, now))
		}
	}
	return snapshot
}

func (s *Sampler) readOne(ctx context.Context, e *entry, now time.Time) control.Reading {
	reading := control.Reading{
		Source:    e.conf.Id,
		Kind:      control.Kind(e.conf.Kind),
		Unit:      e.conf.Unit,
		Timestamp: now,
		Valid:     true,
	}

	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	value, unit, err := e.source.Read(rctx)
	cancel()

	switch {
	case err != nil:
		s.log.Debugw("sensor read failed", "sensor", e.conf.Id, "err", err)
		reading.Valid = false
	case value < e.conf.Min || value > e.conf.Max:
		s.log.Debugw("sensor value out of range", "sensor", e.conf.Id, "value", value)
		reading.Valid = false
	default:
		reading.Value = value
		if unit != "" {
			reading.Unit = unit
		}
	}

	if reading.Valid {
		e.streak = 0
		e.last = reading
	} else {
		e.streak++
		// retain the stale value for display only
		reading.Value = e.last.Value
	}
	return reading
}

// Degraded lists the sensors currently past the invalid-read threshold.
func (s *Sampler) Degraded() []string {
	var ids []string
	for _, e := range s.entries {
		if e.streak >= degradedAfter {
			ids = append(ids, e.conf.Id)
		}
	}
	return ids
}

// Last returns the most recent valid reading for a sensor, for status
// reporting.
func (s *Sampler) Last(id string) (control.Reading, bool) {
	for _, e := range s.entries {
		if e.conf.Id == id {
			return e.last, !e.last.Timestamp.IsZero()
		}
	}
	return control.Reading{}, false
}

func degradedEvent(sensor string, at time.Time) *pubsub.Event {
	ev := pubsub.NewEvent("degraded", pubsub.Fields{
		"sensor": sensor,
		"streak": degradedAfter,
	})
	ev.Timestamp = at
	return ev
}
