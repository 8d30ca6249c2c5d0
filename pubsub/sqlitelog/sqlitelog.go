// Package sqlitelog stores the event stream in a sqlite database for
// later review (session reports, command audits).
package sqlitelog

import (
	"database/sql"
	"log"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/sproutbox/sproutbox/pubsub"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	topic TEXT NOT NULL,
	occurred_at TIMESTAMP NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_topic ON events(topic, occurred_at);
`

const insertQuery = `INSERT INTO events (topic, occurred_at, payload) VALUES (?, ?, ?)`

// Publisher appends events to a sqlite database.
type Publisher struct {
	path string
	db   *sql.DB
}

// Open creates or opens the database at path and ensures the schema.
func Open(path string) (*Publisher, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite at %q", path)
	}
	// sqlite does not take well to concurrent writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set journal_mode")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ensure schema")
	}
	return &Publisher{path: path, db: db}, nil
}

// NewWithDB wraps an existing database handle (used in tests).
func NewWithDB(db *sql.DB) *Publisher {
	return &Publisher{path: "db", db: db}
}

func (pub *Publisher) ID() string {
	return "sqlite: " + pub.path
}

func (pub *Publisher) Emit(ev *pubsub.Event) {
	occurred := ev.Timestamp.UTC().Format("2006-01-02 15:04:05.000000")
	if _, err := pub.db.Exec(insertQuery, ev.Topic, occurred, string(ev.Bytes())); err != nil {
		log.Println("sqlitelog: insert failed:", err)
	}
}

func (pub *Publisher) Close() error {
	return pub.db.Close()
}
