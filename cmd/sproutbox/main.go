// Command sproutbox runs the chamber controller: it loads the
// configuration, wires sensors, actuators and event sinks, and hands
// control to the tick loop until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sproutbox/sproutbox/actuator"
	"github.com/sproutbox/sproutbox/config"
	"github.com/sproutbox/sproutbox/devices"
	"github.com/sproutbox/sproutbox/devices/gpio"
	"github.com/sproutbox/sproutbox/devices/remote"
	"github.com/sproutbox/sproutbox/logger"
	"github.com/sproutbox/sproutbox/loop"
	"github.com/sproutbox/sproutbox/pubsub"
	"github.com/sproutbox/sproutbox/pubsub/eventlog"
	"github.com/sproutbox/sproutbox/pubsub/mqtt"
	"github.com/sproutbox/sproutbox/pubsub/sqlitelog"
	"github.com/sproutbox/sproutbox/safety"
	"github.com/sproutbox/sproutbox/sampler"
	"github.com/sproutbox/sproutbox/scheduler"
	"github.com/sproutbox/sproutbox/session"
)

func main() {
	configPath := flag.String("config", "sproutbox.yml", "configuration file")
	check := flag.Bool("check", false, "validate the configuration and exit")
	example := flag.Bool("example", false, "print an example configuration and exit")
	flag.Parse()

	if *example {
		fmt.Print(config.ExampleYaml)
		return
	}

	conf, err := config.Open(*configPath)
	if err != nil {
		log.Fatalln("configuration:", err)
	}
	if *check {
		fmt.Println(*configPath, "ok")
		return
	}

	if err := run(conf); err != nil {
		log.Fatalln(err)
	}
}

func run(conf *config.Config) error {
	lg := logger.New(conf.Logging.Level)
	defer lg.Sync()

	pub, err := buildSinks(conf)
	if err != nil {
		return err
	}
	defer pub.Close()

	timeout := conf.Sampling.Timeout.Duration

	sink, closeSink, err := buildActuatorSink(conf, lg)
	if err != nil {
		return err
	}
	defer closeSink()

	sources, closeSources, err := buildSensorSources(conf)
	if err != nil {
		return err
	}
	defer closeSources()

	estop, override, reset, presence, closeInputs, err := buildInputs(conf)
	if err != nil {
		return err
	}
	defer closeInputs()

	mon, err := safety.New(estop, override, reset, conf.ActuatorIds(), timeout, pub, lg)
	if err != nil {
		return err
	}
	smp, err := sampler.New(conf.Sensors, sources, timeout, pub, lg)
	if err != nil {
		return err
	}
	sch, err := scheduler.New(conf.Rules, lg)
	if err != nil {
		return err
	}
	ses := session.New(conf.Session, presence, timeout, pub, lg)
	ctl := actuator.New(sink, conf.Actuators, timeout, pub, lg)

	lp := loop.New(conf, mon, smp, sch, ses, ctl, pub, lg)

	closeButtons, err := buildButtons(conf, lp.Inputs)
	if err != nil {
		return err
	}
	defer closeButtons()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return lp.Run(ctx)
}

// buildSinks assembles the event pipeline: each configured sink behind a
// fanout, the whole thing behind the bounded queue so a slow sink never
// stalls a tick.
func buildSinks(conf *config.Config) (*pubsub.Queue, error) {
	var pubs []pubsub.Publisher
	if broker := conf.Sinks.Mqtt; broker != "" {
		p, err := mqtt.NewPublisher(broker)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if el := conf.Sinks.Eventlog; el != nil {
		pubs = append(pubs, eventlog.New(el.Path, el.Max_Size_Mb, el.Max_Backups))
	}
	if path := conf.Sinks.Sqlite; path != "" {
		p, err := sqlitelog.Open(path)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	return pubsub.NewQueue(pubsub.NewMulti(pubs...), conf.Sinks.Queue), nil
}

func buildActuatorSink(conf *config.Config, lg *logger.Logger) (devices.ActuatorSink, func(), error) {
	var pins []gpio.OutputPin
	for _, a := range conf.Actuators {
		if a.Gpio == nil {
			continue
		}
		pins = append(pins, gpio.OutputPin{Name: a.Id, Chip: a.Gpio.Chip, Line: a.Gpio.Line})
	}
	if len(pins) == 0 {
		// no hardware attached: dry run, log what would be switched
		lg.Warnw("no actuator gpio pins configured, running dry")
		return &drySink{log: lg}, func() {}, nil
	}
	if len(pins) != len(conf.Actuators) {
		return nil, nil, fmt.Errorf("either all actuators need gpio pins or none (dry run)")
	}
	s, err := gpio.NewSink(pins)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { s.Close() }, nil
}

func buildSensorSources(conf *config.Config) (map[string]devices.SensorSource, func(), error) {
	sources := map[string]devices.SensorSource{}
	if len(conf.Sensors) == 0 {
		return sources, func() {}, nil
	}
	if conf.Remote.Broker == "" {
		return nil, nil, fmt.Errorf("sensors configured but no remote broker to read them from")
	}
	maxAge := conf.Remote.Max_Age.Duration
	if maxAge == 0 {
		// a driver missing two cycles in a row is dead
		maxAge = 2 * conf.Sampling.Period.Duration
	}
	bridge, err := remote.NewBridge(conf.Remote.Broker, maxAge)
	if err != nil {
		return nil, nil, err
	}
	for _, s := range conf.Sensors {
		sources[s.Id] = bridge.Sensor(s.Id)
	}
	return sources, func() { bridge.Close() }, nil
}

func buildInputs(conf *config.Config) (estop, override, reset, presence devices.Input, closer func(), err error) {
	var closers []io.Closer
	closer = func() {
		for _, c := range closers {
			c.Close()
		}
	}
	request := func(name string, pin *config.PinConf) (devices.Input, error) {
		if pin == nil {
			return nil, nil
		}
		l, err := gpio.NewInput(gpio.InputPin{Name: name, Chip: pin.Chip, Line: pin.Line})
		if err != nil {
			return nil, err
		}
		closers = append(closers, l)
		return l, nil
	}

	if estop, err = request("estop", conf.Safety.Estop.Gpio); err != nil {
		closer()
		return
	}
	if override, err = request("override", conf.Safety.Override.Gpio); err != nil {
		closer()
		return
	}
	if reset, err = request("reset", conf.Safety.Reset.Gpio); err != nil {
		closer()
		return
	}
	if presence, err = request("presence", conf.Session.Presence.Gpio); err != nil {
		closer()
		return
	}
	return
}

func buildButtons(conf *config.Config, queue chan<- devices.Edge) (func(), error) {
	var closers []io.Closer
	closer := func() {
		for _, c := range closers {
			c.Close()
		}
	}
	for _, b := range conf.Session.Buttons {
		if b.Gpio == nil {
			continue
		}
		l, err := gpio.NewEdgeInput(gpio.InputPin{Name: b.Input, Chip: b.Gpio.Chip, Line: b.Gpio.Line}, queue)
		if err != nil {
			closer()
			return nil, err
		}
		closers = append(closers, l)
	}
	return closer, nil
}

// drySink stands in for the relay board when no pins are configured.
type drySink struct {
	log *logger.Logger
}

func (s *drySink) Set(ctx context.Context, actuator string, on bool) error {
	s.log.Infow("dry run", "actuator", actuator, "on", on)
	return nil
}
