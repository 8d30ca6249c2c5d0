package safety

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sproutbox/sproutbox/control"
	"github.com/sproutbox/sproutbox/devices"
	"github.com/sproutbox/sproutbox/logger"
	"github.com/sproutbox/sproutbox/pubsub/dummy"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testMonitor(t *testing.T, estop, override, reset devices.Input) (*Monitor, *dummy.Publisher) {
	pub := &dummy.Publisher{}
	m, err := New(estop, override, reset, []string{"lights", "pump"}, time.Second, pub, logger.NewNop())
	require.NoError(t, err)
	return m, pub
}

func TestLatch(t *testing.T) {
	estop := &devices.FakeInput{Name: "estop", Samples: []bool{false, true, false, false}}
	m, pub := testMonitor(t, estop, nil, nil)
	ctx := context.Background()

	state, cmds := m.Check(ctx, base)
	assert.Equal(t, control.Normal, state)
	assert.Empty(t, cmds)

	// stop asserted: everything off, this tick
	state, cmds = m.Check(ctx, base.Add(time.Second))
	assert.Equal(t, control.Stopped, state)
	require.Len(t, cmds, 2)
	for _, cmd := range cmds {
		assert.Equal(t, control.ActionOff, cmd.Action)
		assert.Equal(t, control.OriginSafety, cmd.Origin)
	}

	// the stop releasing does not resume: the latch holds
	state, _ = m.Check(ctx, base.Add(2*time.Second))
	assert.Equal(t, control.Stopped, state)
	state, _ = m.Check(ctx, base.Add(3*time.Second))
	assert.Equal(t, control.Stopped, state)

	events := pub.OnTopic("safety")
	require.Len(t, events, 1)
	assert.Equal(t, "Normal", events[0].StringField("from"))
	assert.Equal(t, "Stopped", events[0].StringField("to"))
	assert.Equal(t, "emergency-stop", events[0].StringField("trigger"))
}

func TestResetInput(t *testing.T) {
	estop := &devices.FakeInput{Name: "estop", Samples: []bool{true, false, false}}
	reset := &devices.FakeInput{Name: "reset", Samples: []bool{false, false, true}}
	m, pub := testMonitor(t, estop, nil, reset)
	ctx := context.Background()

	state, _ := m.Check(ctx, base)
	assert.Equal(t, control.Stopped, state)

	// stop released, reset not pressed: still latched
	state, _ = m.Check(ctx, base.Add(time.Second))
	assert.Equal(t, control.Stopped, state)

	// reset pressed with stop released: back to Normal
	state, cmds := m.Check(ctx, base.Add(2*time.Second))
	assert.Equal(t, control.Normal, state)
	assert.Empty(t, cmds)

	events := pub.OnTopic("safety")
	require.Len(t, events, 2)
	assert.Equal(t, "reset", events[1].StringField("trigger"))
}

func TestResetIgnoredWhileStopAsserted(t *testing.T) {
	estop := &devices.FakeInput{Name: "estop", Samples: []bool{true}}
	reset := &devices.FakeInput{Name: "reset", Samples: []bool{true}}
	m, _ := testMonitor(t, estop, nil, reset)

	state, _ := m.Check(context.Background(), base)
	assert.Equal(t, control.Stopped, state)
	state, _ = m.Check(context.Background(), base.Add(time.Second))
	assert.Equal(t, control.Stopped, state)
}

func TestInputFaultFailsSafe(t *testing.T) {
	estop := &devices.FakeInput{Name: "estop", Err: errors.New("wire cut")}
	m, pub := testMonitor(t, estop, nil, nil)

	state, cmds := m.Check(context.Background(), base)
	assert.Equal(t, control.Stopped, state)
	require.Len(t, cmds, 2)

	events := pub.OnTopic("safety")
	require.Len(t, events, 1)
	assert.Equal(t, "input-fault", events[0].StringField("trigger"))
}

func TestOverride(t *testing.T) {
	override := &devices.FakeInput{Name: "override", Samples: []bool{true, true, false}}
	m, pub := testMonitor(t, nil, override, nil)
	ctx := context.Background()

	state, _ := m.Check(ctx, base)
	assert.Equal(t, control.Overridden, state)
	state, _ = m.Check(ctx, base.Add(time.Second))
	assert.Equal(t, control.Overridden, state)
	state, _ = m.Check(ctx, base.Add(2*time.Second))
	assert.Equal(t, control.Normal, state)

	events := pub.OnTopic("safety")
	require.Len(t, events, 2)
	assert.Equal(t, "override", events[0].StringField("trigger"))
	assert.Equal(t, "override-released", events[1].StringField("trigger"))
}

func TestOverrideNeverBypassesStop(t *testing.T) {
	estop := &devices.FakeInput{Name: "estop", Samples: []bool{true, false}}
	override := &devices.FakeInput{Name: "override", Samples: []bool{true}}
	m, _ := testMonitor(t, estop, override, nil)
	ctx := context.Background()

	state, _ := m.Check(ctx, base)
	assert.Equal(t, control.Stopped, state)

	// override held with the stop released: the latch still holds
	state, _ = m.Check(ctx, base.Add(time.Second))
	assert.Equal(t, control.Stopped, state)
}

func TestProgrammaticReset(t *testing.T) {
	estop := &devices.FakeInput{Name: "estop", Samples: []bool{true, true, false}}
	m, _ := testMonitor(t, estop, nil, nil)
	ctx := context.Background()

	state, _ := m.Check(ctx, base)
	require.Equal(t, control.Stopped, state)

	// refused while the stop is asserted
	assert.Error(t, m.Reset(ctx, base.Add(time.Second)))
	assert.Equal(t, control.Stopped, m.State())

	require.NoError(t, m.Reset(ctx, base.Add(2*time.Second)))
	assert.Equal(t, control.Normal, m.State())
}

func TestResetRefusedOnUnreadableStop(t *testing.T) {
	estop := &devices.FakeInput{Name: "estop", Samples: []bool{true}}
	m, _ := testMonitor(t, estop, nil, nil)
	ctx := context.Background()

	state, _ := m.Check(ctx, base)
	require.Equal(t, control.Stopped, state)

	estop.Err = errors.New("wire cut")
	assert.Error(t, m.Reset(ctx, base.Add(time.Second)))
	assert.Equal(t, control.Stopped, m.State())
}
