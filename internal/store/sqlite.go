// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides event-log persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
// The schema mirrors the homeserver tables the preview pipeline reads:
// events carries metadata, state_events marks which events are state,
// and event_json holds the full serialized event.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS events (
			event_id         TEXT PRIMARY KEY,
			room_id          TEXT NOT NULL,
			type             TEXT NOT NULL,
			state_key        TEXT,
			sender           TEXT NOT NULL,
			origin_server_ts INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_room_type
			ON events(room_id, type, state_key, origin_server_ts DESC);

		CREATE TABLE IF NOT EXISTS state_events (
			event_id TEXT PRIMARY KEY,
			FOREIGN KEY (event_id) REFERENCES events(event_id)
		);

		CREATE TABLE IF NOT EXISTS event_json (
			event_id TEXT PRIMARY KEY,
			json     TEXT NOT NULL,
			FOREIGN KEY (event_id) REFERENCES events(event_id)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// IngestEvent persists an event into the log. The full event JSON is
// assembled from the struct fields and stored alongside the metadata row.
func (s *SQLiteStore) IngestEvent(ctx context.Context, ev *Event) error {
	full := map[string]any{
		"event_id":         ev.ID,
		"room_id":          ev.RoomID,
		"type":             ev.Type,
		"sender":           ev.Sender,
		"origin_server_ts": ev.OriginServerTS,
		"content":          ev.Content,
	}
	if ev.StateKey != nil {
		full["state_key"] = *ev.StateKey
	}
	raw, err := json.Marshal(full)
	if err != nil {
		return fmt.Errorf("marshaling event json: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (event_id, room_id, type, state_key, sender, origin_server_ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.RoomID, ev.Type, ev.StateKey, ev.Sender, ev.OriginServerTS)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrEventExists, ev.ID)
		}
		return fmt.Errorf("inserting event: %w", err)
	}

	if ev.IsState() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO state_events (event_id) VALUES (?)`, ev.ID); err != nil {
			return fmt.Errorf("inserting state event marker: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO event_json (event_id, json) VALUES (?, ?)`, ev.ID, string(raw)); err != nil {
		return fmt.Errorf("inserting event json: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing event: %w", err)
	}
	return nil
}

// LatestState implements the latest-row-per-group aggregation over the
// event log. Rows are ranked per (room, type, normalized state key) by
// origin_server_ts descending with event_id as the deterministic
// tie-break, and only the top row of each group is returned.
func (s *SQLiteStore) LatestState(ctx context.Context, roomIDs []string, eventTypes []string) (map[string]RoomState, error) {
	result := make(map[string]RoomState, len(roomIDs))
	for _, roomID := range roomIDs {
		result[roomID] = RoomState{}
	}
	if len(roomIDs) == 0 || len(eventTypes) == 0 {
		return result, nil
	}

	query := fmt.Sprintf(`
		SELECT room_id, type, state_key, json FROM (
			SELECT
				e.room_id, e.type, COALESCE(e.state_key, '') AS state_key, ej.json,
				ROW_NUMBER() OVER (
					PARTITION BY e.room_id, e.type, COALESCE(e.state_key, '')
					ORDER BY e.origin_server_ts DESC, e.event_id DESC
				) AS rn
			FROM events e
				JOIN state_events se ON se.event_id = e.event_id
				JOIN event_json ej ON ej.event_id = e.event_id
			WHERE e.room_id IN (%s) AND e.type IN (%s)
		) WHERE rn = 1
	`, placeholders(len(roomIDs)), placeholders(len(eventTypes)))

	args := make([]any, 0, len(roomIDs)+len(eventTypes))
	for _, roomID := range roomIDs {
		args = append(args, roomID)
	}
	for _, eventType := range eventTypes {
		args = append(args, eventType)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying latest state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roomID, eventType, stateKey, rawJSON string
		if err := rows.Scan(&roomID, &eventType, &stateKey, &rawJSON); err != nil {
			return nil, fmt.Errorf("scanning state row: %w", err)
		}

		var ev EventJSON
		if err := json.Unmarshal([]byte(rawJSON), &ev); err != nil {
			return nil, fmt.Errorf("parsing event json for %s/%s: %w", roomID, eventType, err)
		}

		roomState, ok := result[roomID]
		if !ok {
			roomState = RoomState{}
			result[roomID] = roomState
		}
		if roomState[eventType] == nil {
			roomState[eventType] = make(map[string]EventJSON)
		}
		roomState[eventType][normalizeStateKey(stateKey)] = ev
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state rows: %w", err)
	}

	return result, nil
}

// RoomMembership returns the current membership value per user for the
// room, from the latest m.room.member event per state key (= user ID).
// Events without a membership content key are skipped.
func (s *SQLiteStore) RoomMembership(ctx context.Context, roomID string) (map[string]string, error) {
	query := `
		SELECT state_key, json FROM (
			SELECT
				COALESCE(e.state_key, '') AS state_key, ej.json,
				ROW_NUMBER() OVER (
					PARTITION BY COALESCE(e.state_key, '')
					ORDER BY e.origin_server_ts DESC, e.event_id DESC
				) AS rn
			FROM events e
				JOIN state_events se ON se.event_id = e.event_id
				JOIN event_json ej ON ej.event_id = e.event_id
			WHERE e.room_id = ? AND e.type = 'm.room.member'
		) WHERE rn = 1
	`

	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("querying membership: %w", err)
	}
	defer rows.Close()

	membership := make(map[string]string)
	for rows.Next() {
		var userID, rawJSON string
		if err := rows.Scan(&userID, &rawJSON); err != nil {
			return nil, fmt.Errorf("scanning membership row: %w", err)
		}
		if userID == "" {
			continue
		}

		var ev EventJSON
		if err := json.Unmarshal([]byte(rawJSON), &ev); err != nil {
			return nil, fmt.Errorf("parsing membership json for %s: %w", userID, err)
		}
		content, _ := ev["content"].(map[string]any)
		value, _ := content["membership"].(string)
		if value == "" {
			continue
		}
		membership[userID] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating membership rows: %w", err)
	}

	return membership, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// normalizeStateKey maps the empty state key to the default token.
func normalizeStateKey(stateKey string) string {
	if stateKey == "" {
		return StateKeyDefault
	}
	return stateKey
}

// placeholders returns a comma-joined list of n SQL placeholders.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
