package sqlitelog

import (
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sproutbox/sproutbox/pubsub"
)

func TestEmitInserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	pub := NewWithDB(db)

	ev := pubsub.NewEvent("safety", pubsub.Fields{"trigger": "emergency-stop"})
	ev.Timestamp = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO events").
		WithArgs("safety", "2026-03-02 09:00:00.000000", string(ev.Bytes())).
		WillReturnResult(sqlmock.NewResult(1, 1))

	pub.Emit(ev)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertFailureIsSwallowed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	pub := NewWithDB(db)
	mock.ExpectExec("INSERT INTO events").WillReturnError(assert.AnError)

	// a broken database must not take the loop down
	pub.Emit(pubsub.NewEvent("reading/air_temp", pubsub.Fields{"value": 21.5}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
