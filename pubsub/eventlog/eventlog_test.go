package eventlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sproutbox/sproutbox/pubsub"
)

func TestAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	pub := New(path, 1, 1)

	pub.Emit(pubsub.NewEvent("safety", pubsub.Fields{"trigger": "emergency-stop"}))
	pub.Emit(pubsub.NewEvent("reading/air_temp", pubsub.Fields{"value": 21.5}))
	require.NoError(t, pub.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	first := pubsub.Parse(lines[0])
	require.NotNil(t, first)
	assert.Equal(t, "safety", first.Topic)
	assert.Equal(t, "emergency-stop", first.StringField("trigger"))

	second := pubsub.Parse(lines[1])
	require.NotNil(t, second)
	assert.Equal(t, 21.5, second.FloatField("value"))
}
