package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	v1 "github.com/commercekit/relay/internal/api/v1"
	"github.com/commercekit/relay/internal/storage"
)

// newMockAdapter builds an Adapter over sqlmock, preparing the real
// statements so the tests exercise the production query text.
func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectPrepare("INSERT INTO delivered_events")
	mock.ExpectPrepare("SELECT payload")

	stmtSave, err := db.Prepare(querySaveDelivered)
	require.NoError(t, err)
	stmtList, err := db.Prepare(queryEventsBySession)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return &Adapter{db: db, stmtSave: stmtSave, stmtListSession: stmtList}, mock
}

func archivedEvent() *v1.Event {
	return &v1.Event{
		Name: v1.EventPurchase,
		ID:   "evt-1",
		Time: time.Date(2026, 8, 30, 11, 59, 0, 0, time.UTC),
		Metadata: &v1.Metadata{
			PushedAt:       time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
			SessionID:      "sess-1",
			SequenceNumber: 3,
		},
	}
}

func TestSaveDelivered(t *testing.T) {
	a, mock := newMockAdapter(t)
	evt := archivedEvent()

	mock.ExpectQuery("INSERT INTO delivered_events").
		WithArgs(
			evt.ID,
			"sess-1",
			evt.Name,
			int64(3),
			evt.Metadata.PushedAt,
			evt.Time,
			sqlmock.AnyArg(),
		).
		WillReturnRows(sqlmock.NewRows([]string{"archive_seq"}).AddRow(int64(17)))

	require.NoError(t, a.SaveDelivered(context.Background(), evt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDelivered_DuplicateReturnsSentinel(t *testing.T) {
	a, mock := newMockAdapter(t)
	evt := archivedEvent()

	// ON CONFLICT DO NOTHING yields zero rows for a replayed event.
	mock.ExpectQuery("INSERT INTO delivered_events").
		WillReturnRows(sqlmock.NewRows([]string{"archive_seq"}))

	err := a.SaveDelivered(context.Background(), evt)
	require.ErrorIs(t, err, storage.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDelivered_UnenrichedEventFallsBackToEventTime(t *testing.T) {
	a, mock := newMockAdapter(t)

	evt := &v1.Event{
		Name: v1.EventPageView,
		ID:   "evt-2",
		Time: time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC),
	}

	mock.ExpectQuery("INSERT INTO delivered_events").
		WithArgs(evt.ID, "", evt.Name, int64(0), evt.Time, evt.Time, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"archive_seq"}).AddRow(int64(1)))

	require.NoError(t, a.SaveDelivered(context.Background(), evt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventsBySession(t *testing.T) {
	a, mock := newMockAdapter(t)

	first, err := json.Marshal(&v1.Event{Name: v1.EventPageView, ID: "evt-1", Time: time.Now().UTC()})
	require.NoError(t, err)
	second, err := json.Marshal(&v1.Event{Name: v1.EventPurchase, ID: "evt-2", Time: time.Now().UTC()})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT payload").
		WithArgs("sess-1", 10).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(first).AddRow(second))

	events, err := a.EventsBySession(context.Background(), "sess-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, v1.EventPageView, events[0].Name)
	require.Equal(t, v1.EventPurchase, events[1].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventsBySession_CorruptPayloadFails(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectQuery("SELECT payload").
		WithArgs("sess-1", 10).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte("{not json")))

	_, err := a.EventsBySession(context.Background(), "sess-1", 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode")
}
