// Package eventlog appends the event stream to a rotated JSONL file, one
// event per line.
package eventlog

import (
	"io"
	"log"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/sproutbox/sproutbox/pubsub"
)

// Publisher writes events to a rotating log file.
type Publisher struct {
	path string
	out  io.WriteCloser
}

// New returns a Publisher rotating at maxSizeMB, keeping maxBackups old
// files.
func New(path string, maxSizeMB, maxBackups int) *Publisher {
	return &Publisher{
		path: path,
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   true,
		},
	}
}

func (pub *Publisher) ID() string {
	return "eventlog: " + pub.path
}

func (pub *Publisher) Emit(ev *pubsub.Event) {
	line := append(ev.Bytes(), '\n')
	if _, err := pub.out.Write(line); err != nil {
		log.Println("eventlog: write failed:", err)
	}
}

func (pub *Publisher) Close() error {
	return pub.out.Close()
}
