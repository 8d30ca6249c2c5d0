// Package config loads and validates the controller configuration. The
// configuration is read once at startup and immutable for the life of the
// process; changing it requires a restart so no tick ever sees a half
// reloaded rule set.
package config

import (
	"io"
	"io/ioutil"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Duration is a time.Duration readable from yaml ("90s", "5m").
type Duration struct {
	Duration time.Duration
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	val, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = val
	return nil
}

type LoggingConf struct {
	Level string
}

type LoopConf struct {
	Tick            Duration
	Status_Interval Duration
}

type PinConf struct {
	Chip string
	Line int
}

type InputConf struct {
	Gpio *PinConf
}

type SafetyConf struct {
	Estop    InputConf
	Override InputConf
	Reset    InputConf
}

type SensorConf struct {
	Id   string
	Kind string
	Unit string
	Min  float64
	Max  float64
}

type SamplingConf struct {
	Period  Duration
	Timeout Duration
}

type ActuatorConf struct {
	Id           string
	Min_Interval Duration
	Max_Runtime  Duration
	Window       Duration
	Max_Pulse    Duration
	Gpio         *PinConf
}

type ThresholdConf struct {
	On_At  float64
	Off_At float64
}

type WindowConf struct {
	Start string
	End   string
}

type CommandConf struct {
	Actuator string
	Action   string
	Duration Duration
}

type RuleConf struct {
	Name      string
	Actuator  string
	Sensor    string
	Threshold *ThresholdConf
	Window    *WindowConf
	When      string
	Do        *CommandConf
	Cooldown  Duration
}

type ButtonConf struct {
	Input    string
	Gpio     *PinConf
	Activity string
	Command  *CommandConf
}

type SessionConf struct {
	Presence InputConf
	Grace    Duration
	Buttons  []ButtonConf
}

type EventlogConf struct {
	Path        string
	Max_Size_Mb int
	Max_Backups int
}

type SinksConf struct {
	Queue    int
	Mqtt     string
	Eventlog *EventlogConf
	Sqlite   string
}

type RemoteConf struct {
	Broker  string
	Max_Age Duration
}

// Config is the root of the yaml configuration.
type Config struct {
	Logging   LoggingConf
	Loop      LoopConf
	Safety    SafetyConf
	Sampling  SamplingConf
	Sensors   []SensorConf
	Actuators []ActuatorConf
	Rules     []RuleConf
	Session   SessionConf
	Sinks     SinksConf
	Remote    RemoteConf
}

// Open configuration from disk.
func Open(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return OpenReader(file)
}

// Open configuration from a reader.
func OpenReader(r io.Reader) (*Config, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return OpenRaw(data)
}

// Open configuration from []byte, applying defaults and validating.
func OpenRaw(data []byte) (*Config, error) {
	conf := &Config{}
	if err := yaml.UnmarshalStrict(data, conf); err != nil {
		return nil, errors.Wrap(err, "parsing configuration")
	}
	conf.applyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

const (
	DefaultTick     = 250 * time.Millisecond
	DefaultPeriod   = 60 * time.Second
	DefaultTimeout  = 2 * time.Second
	DefaultGrace    = 10 * time.Second
	DefaultQueue    = 256
	MinSamplePeriod = 5 * time.Second
	MaxSamplePeriod = 300 * time.Second
)

func (conf *Config) applyDefaults() {
	if conf.Logging.Level == "" {
		conf.Logging.Level = "info"
	}
	if conf.Loop.Tick.Duration == 0 {
		conf.Loop.Tick.Duration = DefaultTick
	}
	if conf.Sampling.Period.Duration == 0 {
		conf.Sampling.Period.Duration = DefaultPeriod
	}
	if conf.Sampling.Timeout.Duration == 0 {
		conf.Sampling.Timeout.Duration = DefaultTimeout
	}
	if conf.Session.Grace.Duration == 0 {
		conf.Session.Grace.Duration = DefaultGrace
	}
	if conf.Sinks.Queue == 0 {
		conf.Sinks.Queue = DefaultQueue
	}
}

// Validate refuses inconsistent configuration. The loop must not start on a
// broken rule set, so any error here is fatal at startup.
func (conf *Config) Validate() error {
	if conf.Loop.Tick.Duration <= 0 {
		return errors.New("loop.tick must be positive")
	}
	if conf.Loop.Tick.Duration > time.Second {
		return errors.Errorf("loop.tick %s too slow: button handling needs <=1s", conf.Loop.Tick.Duration)
	}
	if p := conf.Sampling.Period.Duration; p < MinSamplePeriod || p > MaxSamplePeriod {
		return errors.Errorf("sampling.period %s outside %s-%s", p, MinSamplePeriod, MaxSamplePeriod)
	}
	if conf.Sampling.Timeout.Duration <= 0 {
		return errors.New("sampling.timeout must be positive")
	}

	sensors := map[string]bool{}
	for _, s := range conf.Sensors {
		if s.Id == "" {
			return errors.New("sensor without id")
		}
		if sensors[s.Id] {
			return errors.Errorf("duplicate sensor: %s", s.Id)
		}
		switch s.Kind {
		case "temperature", "humidity", "moisture", "light":
		default:
			return errors.Errorf("sensor %s: unknown kind %q", s.Id, s.Kind)
		}
		if s.Min >= s.Max {
			return errors.Errorf("sensor %s: min %v not below max %v", s.Id, s.Min, s.Max)
		}
		sensors[s.Id] = true
	}

	actuators := map[string]bool{}
	for _, a := range conf.Actuators {
		if a.Id == "" {
			return errors.New("actuator without id")
		}
		if actuators[a.Id] {
			return errors.Errorf("duplicate actuator: %s", a.Id)
		}
		if a.Max_Runtime.Duration > 0 && a.Window.Duration <= 0 {
			return errors.Errorf("actuator %s: max_runtime needs a window", a.Id)
		}
		actuators[a.Id] = true
	}

	for i, r := range conf.Rules {
		if err := validateRule(r, sensors, actuators); err != nil {
			return errors.Wrapf(err, "rule %d (%s)", i, r.Name)
		}
	}

	for _, b := range conf.Session.Buttons {
		if b.Input == "" {
			return errors.New("session button without input")
		}
		if b.Command != nil {
			if err := validateCommand(*b.Command, actuators); err != nil {
				return errors.Wrapf(err, "button %s", b.Input)
			}
		}
	}
	return nil
}

func validateRule(r RuleConf, sensors, actuators map[string]bool) error {
	kinds := 0
	if r.Threshold != nil {
		kinds++
	}
	if r.Window != nil {
		kinds++
	}
	if r.When != "" {
		kinds++
	}
	if kinds != 1 {
		return errors.New("exactly one of threshold, window or when required")
	}

	switch {
	case r.Threshold != nil:
		if r.Sensor == "" {
			return errors.New("threshold rule needs a sensor")
		}
		if !sensors[r.Sensor] {
			return errors.Errorf("unknown sensor: %s", r.Sensor)
		}
		if r.Threshold.On_At == r.Threshold.Off_At {
			return errors.New("hysteresis band is empty: on and off thresholds are equal")
		}
		if !actuators[r.Actuator] {
			return errors.Errorf("unknown actuator: %s", r.Actuator)
		}
	case r.Window != nil:
		if _, err := time.Parse("15:04", r.Window.Start); err != nil {
			return errors.Errorf("bad window start: %s", r.Window.Start)
		}
		if _, err := time.Parse("15:04", r.Window.End); err != nil {
			return errors.Errorf("bad window end: %s", r.Window.End)
		}
		if !actuators[r.Actuator] {
			return errors.Errorf("unknown actuator: %s", r.Actuator)
		}
	case r.When != "":
		if r.Do == nil {
			return errors.New("expression rule needs a do command")
		}
		if err := validateCommand(*r.Do, actuators); err != nil {
			return err
		}
	}
	if r.Cooldown.Duration < 0 {
		return errors.New("negative cooldown")
	}
	return nil
}

func validateCommand(c CommandConf, actuators map[string]bool) error {
	if !actuators[c.Actuator] {
		return errors.Errorf("unknown actuator: %s", c.Actuator)
	}
	switch c.Action {
	case "on", "off":
		if c.Duration.Duration != 0 {
			return errors.Errorf("%s command takes no duration", c.Action)
		}
	case "pulse":
		if c.Duration.Duration <= 0 {
			return errors.New("pulse needs a positive duration")
		}
	default:
		return errors.Errorf("unknown action: %q", c.Action)
	}
	return nil
}

// Sensor returns the configuration for a sensor id.
func (conf *Config) Sensor(id string) (SensorConf, bool) {
	for _, s := range conf.Sensors {
		if s.Id == id {
			return s, true
		}
	}
	return SensorConf{}, false
}

// ActuatorIds lists all configured actuators, in declaration order.
func (conf *Config) ActuatorIds() []string {
	ids := make([]string, len(conf.Actuators))
	for i, a := range conf.Actuators {
		ids[i] = a.Id
	}
	return ids
}
