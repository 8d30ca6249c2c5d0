// Package remote serves sensors whose readings arrive over MQTT from
// external driver daemons. The bridge caches the latest raw message per
// sensor; a reading older than the staleness bound is a failed read, so a
// dead driver surfaces as an invalid sensor rather than a frozen value.
//
// Drivers publish JSON {"value": 21.4, "unit": "C"} under
// sproutbox/raw/<sensor>.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

const (
	topicPrefix    = "sproutbox/raw/"
	connectTimeout = 10 * time.Second
)

type sample struct {
	value float64
	unit  string
	at    time.Time
}

// Bridge subscribes to raw readings and hands out SensorSources backed by
// the cache.
type Bridge struct {
	client MQTT.Client
	maxAge time.Duration

	mu     sync.Mutex
	latest map[string]sample
}

// NewBridge connects to the broker and subscribes to all raw readings.
func NewBridge(broker string, maxAge time.Duration) (*Bridge, error) {
	b := &Bridge{maxAge: maxAge, latest: map[string]sample{}}

	hostname, _ := os.Hostname()
	clientID := fmt.Sprintf("sproutbox-remote/%s-%d-%d", hostname, os.Getpid(), rand.Int31())
	opts := MQTT.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetOnConnectHandler(func(client MQTT.Client) {
		// (re)subscribe when (re)connected
		if token := client.Subscribe(topicPrefix+"#", 1, b.message); token.Wait() && token.Error() != nil {
			return
		}
	})

	b.client = MQTT.NewClient(opts)
	if token := b.client.Connect(); token.WaitTimeout(connectTimeout) && token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "connecting to %s", broker)
	}
	return b, nil
}

func (b *Bridge) message(client MQTT.Client, msg MQTT.Message) {
	id := strings.TrimPrefix(msg.Topic(), topicPrefix)
	var body struct {
		Value float64 `json:"value"`
		Unit  string  `json:"unit"`
	}
	if err := json.Unmarshal(msg.Payload(), &body); err != nil {
		return
	}
	b.mu.Lock()
	b.latest[id] = sample{value: body.Value, unit: body.Unit, at: time.Now()}
	b.mu.Unlock()
}

// Sensor returns a SensorSource serving cached readings for id.
func (b *Bridge) Sensor(id string) *Sensor {
	return &Sensor{bridge: b, id: id}
}

func (b *Bridge) read(id string) (sample, error) {
	b.mu.Lock()
	s, ok := b.latest[id]
	b.mu.Unlock()
	if !ok {
		return sample{}, errors.Errorf("no reading received for %s", id)
	}
	if age := time.Since(s.at); age > b.maxAge {
		return sample{}, errors.Errorf("reading for %s is stale (%s old)", id, age.Round(time.Second))
	}
	return s, nil
}

func (b *Bridge) Close() error {
	b.client.Disconnect(250)
	return nil
}

// Sensor is one MQTT-bridged SensorSource.
type Sensor struct {
	bridge *Bridge
	id     string
}

func (s *Sensor) ID() string {
	return s.id
}

func (s *Sensor) Read(ctx context.Context) (float64, string, error) {
	smp, err := s.bridge.read(s.id)
	if err != nil {
		return 0, "", err
	}
	return smp.value, smp.unit, nil
}
