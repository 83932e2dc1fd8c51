package postgres

// SQL queries for the delivered-event archive.

const (
	// querySaveDelivered inserts one delivered event. The composite key
	// (session_id, event_id) makes replays idempotent: ON CONFLICT DO
	// NOTHING returns no rows (sql.ErrNoRows) for duplicates.
	querySaveDelivered = `
		INSERT INTO delivered_events (
			event_id, session_id, name, sequence_number,
			pushed_at, event_time, payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, event_id) DO NOTHING
		RETURNING archive_seq
	`

	// queryEventsBySession fetches a session's events in delivery order.
	// archive_seq breaks ties between events archived in the same
	// microsecond.
	queryEventsBySession = `
		SELECT payload
		FROM delivered_events
		WHERE session_id = $1
		ORDER BY sequence_number ASC, archive_seq ASC
		LIMIT $2
	`
)
