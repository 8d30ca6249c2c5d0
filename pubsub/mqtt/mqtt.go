// Package mqtt publishes the event stream to an MQTT broker, one message
// per event under sproutbox/<topic>.
package mqtt

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/sproutbox/sproutbox/pubsub"
)

const connectTimeout = 10 * time.Second

// Publisher for mqtt
type Publisher struct {
	broker string
	client MQTT.Client
}

// NewPublisher connects to the broker and returns a Publisher.
func NewPublisher(broker string) (*Publisher, error) {
	hostname, _ := os.Hostname()
	clientID := fmt.Sprintf("sproutbox/%s-%d-%d", hostname, os.Getpid(), rand.Int31())
	opts := MQTT.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)

	client := MQTT.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(connectTimeout) && token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "connecting to %s", broker)
	}
	return &Publisher{broker: broker, client: client}, nil
}

// ID of Publisher
func (pub *Publisher) ID() string {
	return "mqtt: " + pub.broker
}

// Emit an event
func (pub *Publisher) Emit(ev *pubsub.Event) {
	// put all topics under sproutbox/
	topic := "sproutbox/" + ev.Topic
	token := pub.client.Publish(topic, 1, false, ev.Bytes())
	token.Wait()
}

func (pub *Publisher) Close() error {
	pub.client.Disconnect(250)
	return nil
}
