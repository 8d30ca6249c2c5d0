package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	a, ok := ParseAction("pulse")
	assert.True(t, ok)
	assert.Equal(t, ActionPulse, a)

	_, ok = ParseAction("toggle")
	assert.False(t, ok)
}

func TestSnapshotValid(t *testing.T) {
	s := Snapshot{
		"good": {Source: "good", Value: 21.5, Valid: true},
		"bad":  {Source: "bad", Value: 19.0, Valid: false},
	}

	r, ok := s.Valid("good")
	assert.True(t, ok)
	assert.Equal(t, 21.5, r.Value)

	_, ok = s.Valid("bad")
	assert.False(t, ok)
	_, ok = s.Valid("missing")
	assert.False(t, ok)
}

func TestCommandEvent(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cmd := Command{
		Actuator: "pump",
		Action:   ActionPulse,
		Duration: 20 * time.Second,
		Origin:   OriginHuman,
		IssuedAt: at,
		Reason:   "button:water_button",
	}

	ev := CommandEvent(cmd, "accepted", cmd.Reason)
	assert.Equal(t, "command/pump", ev.Topic)
	assert.Equal(t, at, ev.Timestamp)
	assert.Equal(t, "pulse", ev.StringField("action"))
	assert.Equal(t, "human", ev.StringField("origin"))
	assert.Equal(t, 20.0, ev.FloatField("duration"))
	assert.Equal(t, "accepted", ev.StringField("outcome"))
}

func TestReadingEvent(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ev := ReadingEvent(Reading{
		Source: "air_temp", Kind: Temperature, Value: 21.5, Unit: "C",
		Timestamp: at, Valid: true,
	})
	require.Equal(t, "reading/air_temp", ev.Topic)
	assert.Equal(t, 21.5, ev.FloatField("value"))
	assert.True(t, ev.BoolField("valid"))
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "pump pulse 20s (human)", Command{
		Actuator: "pump", Action: ActionPulse, Duration: 20 * time.Second, Origin: OriginHuman,
	}.String())
	assert.Equal(t, "fan on (scheduler)", Command{
		Actuator: "fan", Action: ActionOn, Origin: OriginScheduler,
	}.String())
}
