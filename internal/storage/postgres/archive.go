package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // Register postgres driver

	v1 "github.com/commercekit/relay/internal/api/v1"
	"github.com/commercekit/relay/internal/storage"
)

const connectPingTimeout = 5 * time.Second

// Adapter implements storage.Archive for PostgreSQL.
type Adapter struct {
	db              *sql.DB
	stmtSave        *sql.Stmt
	stmtListSession *sql.Stmt
}

// NewAdapter creates the archive adapter. Expects a valid PostgreSQL DSN
// and connection pool settings; the schema must be initialized separately
// via migrations before the first save.
func NewAdapter(dsn string, maxOpenConns, maxIdleConns int) (*Adapter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), connectPingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	if err := validateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema validation failed - did you run migrations?: %w", err)
	}

	stmtSave, err := db.Prepare(querySaveDelivered)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare saveDelivered statement: %w", err)
	}

	stmtList, err := db.Prepare(queryEventsBySession)
	if err != nil {
		stmtSave.Close()
		db.Close()
		return nil, fmt.Errorf("failed to prepare eventsBySession statement: %w", err)
	}

	slog.Info("[Archive] Adapter initialized with prepared statements",
		"max_open_conns", maxOpenConns,
		"max_idle_conns", maxIdleConns)

	return &Adapter{
		db:              db,
		stmtSave:        stmtSave,
		stmtListSession: stmtList,
	}, nil
}

// validateSchema checks that the delivered_events table exists.
func validateSchema(db *sql.DB) error {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = 'delivered_events'
		)
	`
	if err := db.QueryRow(query).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check schema: %w", err)
	}
	if !exists {
		return fmt.Errorf("delivered_events table does not exist")
	}
	return nil
}

// SaveDelivered archives one delivered event. The full enriched envelope
// is stored as JSON; the indexed columns exist for querying, not as the
// source of truth.
func (a *Adapter) SaveDelivered(ctx context.Context, evt *v1.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	var sessionID string
	var seq int64
	if evt.Metadata != nil {
		sessionID = evt.Metadata.SessionID
		seq = evt.Metadata.SequenceNumber
	}

	pushedAt := evt.Time
	if evt.Metadata != nil && !evt.Metadata.PushedAt.IsZero() {
		pushedAt = evt.Metadata.PushedAt
	}

	var archiveSeq int64
	err = a.stmtSave.QueryRowContext(ctx,
		evt.ID,
		sessionID,
		evt.Name,
		seq,
		pushedAt,
		evt.Time,
		payload,
	).Scan(&archiveSeq)

	if err == sql.ErrNoRows {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to archive event: %w", err)
	}

	slog.Debug("[Archive] Saved delivered event",
		"event", evt.Name,
		"event_id", evt.ID,
		"session_id", sessionID,
		"archive_seq", archiveSeq)
	return nil
}

// EventsBySession returns a session's archived events in delivery order.
func (a *Adapter) EventsBySession(ctx context.Context, sessionID string, limit int) ([]*v1.Event, error) {
	rows, err := a.stmtListSession.QueryContext(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived events: %w", err)
	}
	defer rows.Close()

	var events []*v1.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan archived event: %w", err)
		}
		var evt v1.Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, fmt.Errorf("failed to decode archived event: %w", err)
		}
		events = append(events, &evt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating archived events: %w", err)
	}
	return events, nil
}

// DB returns the underlying *sql.DB so migrations can share the
// connection instead of opening a second one.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// Close closes the prepared statements and the database connection.
func (a *Adapter) Close() error {
	var firstErr error

	if err := a.stmtSave.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close saveDelivered statement: %w", err)
	}
	if err := a.stmtListSession.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close eventsBySession statement: %w", err)
	}
	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close database: %w", err)
	}
	return firstErr
}
