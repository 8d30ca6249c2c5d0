package devices

import (
	"context"
	"sync"
)

// FakeSensor is a test double returning scripted values. Once the script is
// exhausted the last value repeats.
type FakeSensor struct {
	Name   string
	Unit   string
	Values []float64
	// Errs[i] non-nil makes call i fail instead of returning Values[i].
	Errs  []error
	index int
}

func (f *FakeSensor) ID() string {
	return f.Name
}

func (f *FakeSensor) Read(ctx context.Context) (float64, string, error) {
	i := f.index
	if f.index < len(f.Values)-1 {
		f.index++
	}
	if i < len(f.Errs) && f.Errs[i] != nil {
		return 0, "", f.Errs[i]
	}
	if len(f.Values) == 0 {
		return 0, f.Unit, nil
	}
	return f.Values[i], f.Unit, nil
}

// FakeInput is a scripted digital input.
type FakeInput struct {
	Name    string
	Samples []bool
	Err     error
	index   int
}

func (f *FakeInput) ID() string {
	return f.Name
}

func (f *FakeInput) Read(ctx context.Context) (bool, error) {
	if f.Err != nil {
		return false, f.Err
	}
	if len(f.Samples) == 0 {
		return false, nil
	}
	i := f.index
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return f.Samples[i], nil
}

// SetCall records one ActuatorSink.Set invocation.
type SetCall struct {
	Actuator string
	On       bool
}

// FakeSink records actuator switching for assertions.
type FakeSink struct {
	mu     sync.Mutex
	Calls  []SetCall
	States map[string]bool
	Err    error
}

func NewFakeSink() *FakeSink {
	return &FakeSink{States: map[string]bool{}}
}

func (f *FakeSink) Set(ctx context.Context, actuator string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Calls = append(f.Calls, SetCall{actuator, on})
	f.States[actuator] = on
	return nil
}

// On reports the last commanded state of actuator.
func (f *FakeSink) On(actuator string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.States[actuator]
}
