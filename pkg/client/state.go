package client

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// State persists discovered channels and session history
type State struct {
	db  *sql.DB
	dir string // Directory where state is stored
}

// SessionRecord is one row of session history
type SessionRecord struct {
	ID              string
	Server          string
	ServerName      string
	ServerVersion   string
	ProtocolVersion int64
	StartedAt       time.Time
	EndedAt         time.Time // zero while running
	Channels        int
	Outcome         string
	Error           string
	BytesSent       uint64
	BytesReceived   uint64
}

// OpenState opens or creates the state database
func OpenState(path string) (*State, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// One writer is all a discovery client needs
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	state := &State{
		db:  db,
		dir: dir,
	}

	if err := state.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return state, nil
}

// Close closes the state database
func (s *State) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func (s *State) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS Channels (
	server_address TEXT NOT NULL,
	channel_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	number INTEGER NOT NULL,
	seen_at INTEGER NOT NULL,
	PRIMARY KEY (server_address, channel_id)
);

CREATE TABLE IF NOT EXISTS Sessions (
	id TEXT PRIMARY KEY,
	server_address TEXT NOT NULL,
	server_name TEXT NOT NULL DEFAULT '',
	server_version TEXT NOT NULL DEFAULT '',
	htsp_version INTEGER NOT NULL DEFAULT 0,
	started_at INTEGER NOT NULL,
	ended_at INTEGER,
	channels INTEGER NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	bytes_sent INTEGER NOT NULL DEFAULT 0,
	bytes_received INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_started ON Sessions(started_at);
`
	_, err := s.db.Exec(schema)
	return err
}

// SaveChannel inserts or replaces a channel of serverAddress.
// Playback URLs carry credentials and are not stored.
func (s *State) SaveChannel(serverAddress string, ch Channel) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO Channels (server_address, channel_id, name, number, seen_at)
		VALUES (?, ?, ?, ?, ?)
	`, serverAddress, ch.ID, ch.Name, ch.Number, time.Now().Unix())
	return err
}

// ListChannels returns the stored channels of serverAddress by number
func (s *State) ListChannels(serverAddress string) ([]Channel, error) {
	rows, err := s.db.Query(`
		SELECT channel_id, name, number
		FROM Channels
		WHERE server_address = ?
		ORDER BY number, channel_id
	`, serverAddress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Number); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// RecordSessionStart inserts a running session
func (s *State) RecordSessionStart(rec SessionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO Sessions (id, server_address, started_at)
		VALUES (?, ?, ?)
	`, rec.ID, rec.Server, rec.StartedAt.UnixMilli())
	return err
}

// RecordSessionEnd stores the final state of a session
func (s *State) RecordSessionEnd(rec SessionRecord) error {
	_, err := s.db.Exec(`
		UPDATE Sessions
		SET server_name = ?, server_version = ?, htsp_version = ?, ended_at = ?,
			channels = ?, outcome = ?, error = ?, bytes_sent = ?, bytes_received = ?
		WHERE id = ?
	`, rec.ServerName, rec.ServerVersion, rec.ProtocolVersion, rec.EndedAt.UnixMilli(),
		rec.Channels, rec.Outcome, rec.Error, int64(rec.BytesSent), int64(rec.BytesReceived), rec.ID)
	return err
}

// ListSessions returns the most recent sessions, newest first
func (s *State) ListSessions(limit int) ([]SessionRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, server_address, server_name, server_version, htsp_version,
			started_at, ended_at, channels, outcome, error, bytes_sent, bytes_received
		FROM Sessions
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var (
			rec            SessionRecord
			startedAt      int64
			endedAt        sql.NullInt64
			sent, received int64
		)
		if err := rows.Scan(&rec.ID, &rec.Server, &rec.ServerName, &rec.ServerVersion, &rec.ProtocolVersion,
			&startedAt, &endedAt, &rec.Channels, &rec.Outcome, &rec.Error, &sent, &received); err != nil {
			return nil, err
		}
		rec.StartedAt = time.UnixMilli(startedAt)
		if endedAt.Valid {
			rec.EndedAt = time.UnixMilli(endedAt.Int64)
		}
		rec.BytesSent = uint64(sent)
		rec.BytesReceived = uint64(received)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetStateDir returns the directory where state is stored
func (s *State) GetStateDir() string {
	return s.dir
}

// Catalog returns a Catalog that stores published channels under serverAddress
func (s *State) Catalog(serverAddress string) Catalog {
	return &stateCatalog{state: s, server: serverAddress}
}

type stateCatalog struct {
	state  *State
	server string
}

func (c *stateCatalog) Publish(ch Channel, _ string) error {
	if err := c.state.SaveChannel(c.server, ch); err != nil {
		return fmt.Errorf("save channel %d: %w", ch.ID, err)
	}
	return nil
}
