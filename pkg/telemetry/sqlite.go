package telemetry

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// CaptureStore persists events to a SQLite database so a session's
// traffic can be replayed and inspected after the fact.
type CaptureStore struct {
	db *sql.DB
}

// NewCaptureStore opens (and initializes) the capture database.
func NewCaptureStore(path string) (*CaptureStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &CaptureStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *CaptureStore) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS captures (
		id TEXT PRIMARY KEY,
		session TEXT NOT NULL,
		direction TEXT NOT NULL,
		ts DATETIME NOT NULL,
		data BLOB,
		parse_ok INTEGER,
		fields TEXT,
		variables TEXT,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_captures_session_ts ON captures(session, ts);
	`
	_, err := s.db.Exec(query)
	return err
}

// Record inserts one event. Field and variable maps are stored as
// JSON text columns.
func (s *CaptureStore) Record(ev Event) error {
	var parseOK any
	if ev.ParseOK != nil {
		parseOK = *ev.ParseOK
	}
	fields, err := marshalMap(ev.Fields)
	if err != nil {
		return err
	}
	variables, err := marshalMap(ev.Variables)
	if err != nil {
		return err
	}

	query := `INSERT INTO captures (id, session, direction, ts, data, parse_ok, fields, variables, error)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.Exec(query,
		ev.ID, ev.Session, ev.Direction, ev.Timestamp,
		ev.Data, parseOK, fields, variables, ev.Error)
	return err
}

// Recent returns a session's newest events, most recent first.
func (s *CaptureStore) Recent(session string, limit int) ([]Event, error) {
	query := `SELECT id, session, direction, ts, data, parse_ok, fields, variables, error
	          FROM captures WHERE session = ? ORDER BY ts DESC LIMIT ?`
	rows, err := s.db.Query(query, session, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev        Event
			ts        time.Time
			parseOK   sql.NullBool
			fields    sql.NullString
			variables sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Session, &ev.Direction, &ts,
			&ev.Data, &parseOK, &fields, &variables, &ev.Error); err != nil {
			return nil, err
		}
		ev.Timestamp = ts
		if parseOK.Valid {
			v := parseOK.Bool
			ev.ParseOK = &v
		}
		if ev.Fields, err = unmarshalMap(fields); err != nil {
			return nil, err
		}
		if ev.Variables, err = unmarshalMap(variables); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close closes the database connection.
func (s *CaptureStore) Close() error {
	return s.db.Close()
}

func marshalMap(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalMap(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
