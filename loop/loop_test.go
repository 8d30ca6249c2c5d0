package loop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sproutbox/sproutbox/actuator"
	"github.com/sproutbox/sproutbox/config"
	"github.com/sproutbox/sproutbox/devices"
	"github.com/sproutbox/sproutbox/logger"
	"github.com/sproutbox/sproutbox/pubsub/dummy"
	"github.com/sproutbox/sproutbox/safety"
	"github.com/sproutbox/sproutbox/sampler"
	"github.com/sproutbox/sproutbox/scheduler"
	"github.com/sproutbox/sproutbox/session"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	loop *Loop
	sink *devices.FakeSink
	pub  *dummy.Publisher
}

// newFixture wires a single fan driven by a temperature threshold, with
// scripted interlock inputs.
func newFixture(t *testing.T, estop, reset devices.Input, temps []float64) *fixture {
	conf := &config.Config{
		Loop: config.LoopConf{
			Tick:            config.Duration{Duration: time.Second},
			Status_Interval: config.Duration{Duration: 2 * time.Second},
		},
		Sampling: config.SamplingConf{
			Period:  config.Duration{Duration: 5 * time.Second},
			Timeout: config.Duration{Duration: time.Second},
		},
		Sensors: []config.SensorConf{
			{Id: "air_temp", Kind: "temperature", Unit: "C", Min: -5, Max: 60},
		},
		Actuators: []config.ActuatorConf{{Id: "fan"}},
		Rules: []config.RuleConf{{
			Name:      "vent when hot",
			Actuator:  "fan",
			Sensor:    "air_temp",
			Threshold: &config.ThresholdConf{On_At: 28, Off_At: 22},
		}},
	}

	log := logger.NewNop()
	pub := &dummy.Publisher{}
	sink := devices.NewFakeSink()
	timeout := conf.Sampling.Timeout.Duration

	mon, err := safety.New(estop, nil, reset, conf.ActuatorIds(), timeout, pub, log)
	require.NoError(t, err)
	sources := map[string]devices.SensorSource{
		"air_temp": &devices.FakeSensor{Name: "air_temp", Unit: "C", Values: temps},
	}
	smp, err := sampler.New(conf.Sensors, sources, timeout, pub, log)
	require.NoError(t, err)
	sch, err := scheduler.New(conf.Rules, log)
	require.NoError(t, err)
	ses := session.New(conf.Session, nil, timeout, pub, log)
	ctl := actuator.New(sink, conf.Actuators, timeout, pub, log)

	return &fixture{
		loop: New(conf, mon, smp, sch, ses, ctl, pub, log),
		sink: sink,
		pub:  pub,
	}
}

func TestRuleDrivesActuator(t *testing.T) {
	f := newFixture(t, nil, nil, []float64{30})
	f.loop.Tick(context.Background(), base)
	assert.True(t, f.sink.On("fan"))
}

func TestStopBlocksEverythingSameTick(t *testing.T) {
	estop := &devices.FakeInput{Name: "estop", Samples: []bool{false, true, true}}
	f := newFixture(t, estop, nil, []float64{30})
	ctx := context.Background()

	f.loop.Tick(ctx, base)
	require.True(t, f.sink.On("fan"))

	// the tick that sees the stop also switches the fan off
	f.loop.Tick(ctx, base.Add(time.Second))
	assert.False(t, f.sink.On("fan"))
	calls := len(f.sink.Calls)

	// while stopped nothing reaches the sink, hot sensor or not
	f.loop.Tick(ctx, base.Add(2*time.Second))
	assert.Equal(t, calls, len(f.sink.Calls))
}

func TestResetResumesAutomation(t *testing.T) {
	estop := &devices.FakeInput{Name: "estop", Samples: []bool{false, true, false, false}}
	reset := &devices.FakeInput{Name: "reset", Samples: []bool{false, false, false, true}}
	f := newFixture(t, estop, reset, []float64{30})
	ctx := context.Background()

	f.loop.Tick(ctx, base)
	require.True(t, f.sink.On("fan"))

	f.loop.Tick(ctx, base.Add(time.Second))
	require.False(t, f.sink.On("fan"))

	// stop released but not reset: still latched, fan stays off
	f.loop.Tick(ctx, base.Add(2*time.Second))
	assert.False(t, f.sink.On("fan"))

	// reset pressed: the rules re-derive their levels the same tick
	f.loop.Tick(ctx, base.Add(3*time.Second))
	assert.True(t, f.sink.On("fan"))
}

func TestSamplingSubCycle(t *testing.T) {
	f := newFixture(t, nil, nil, []float64{30})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.loop.Tick(ctx, base.Add(time.Duration(i)*time.Second))
	}
	// 5s period, 1s ticks: only the first tick sampled
	assert.Len(t, f.pub.OnTopic("reading/air_temp"), 1)

	f.loop.Tick(ctx, base.Add(5*time.Second))
	assert.Len(t, f.pub.OnTopic("reading/air_temp"), 2)
}

func TestStatusEvents(t *testing.T) {
	f := newFixture(t, nil, nil, []float64{30})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.loop.Tick(ctx, base.Add(time.Duration(i)*time.Second))
	}

	// 2s interval over ticks at 0..4s: status at 0, 2 and 4
	events := f.pub.OnTopic("status")
	require.Len(t, events, 3)
	assert.Equal(t, "Normal", events[0].StringField("safety"))

	readings, ok := events[0].Fields["readings"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, readings, "air_temp")
	actuators, ok := events[0].Fields["actuators"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, actuators["fan"])
}

func TestQueuedButtonEdges(t *testing.T) {
	f := newFixture(t, nil, nil, []float64{30})
	ctx := context.Background()

	// no session open: the edge is consumed and ignored without error
	f.loop.Inputs <- devices.Edge{Input: "water_button", Rising: true, At: base}
	f.loop.Tick(ctx, base)

	select {
	case <-f.loop.Inputs:
		t.Fatal("edge left in queue")
	default:
	}
}
