// ABOUTME: SQLite-backed durable update log, one sequenced stream per channel.
// ABOUTME: The log is the source of truth replayed to every newly subscribed client.
package syncserver

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// UpdateRow is one sequenced update in a channel's stream.
type UpdateRow struct {
	Seq int64
	Ops []byte
}

// UpdateLog is the durable per-channel update store. Sequence numbers are
// assigned by the hub, contiguous from 1 within each channel.
type UpdateLog struct {
	db *sql.DB
}

// OpenUpdateLog opens or creates the update log database at the given path.
func OpenUpdateLog(path string) (*UpdateLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS updates (
			channel TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ops TEXT NOT NULL,
			PRIMARY KEY (channel, seq)
		);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &UpdateLog{db: db}, nil
}

// Close closes the database connection.
func (l *UpdateLog) Close() error {
	return l.db.Close()
}

// Append stores one sequenced update for a channel.
func (l *UpdateLog) Append(channel string, seq int64, ops []byte) error {
	_, err := l.db.Exec(
		"INSERT INTO updates (channel, seq, ops) VALUES (?, ?, ?)",
		channel, seq, string(ops))
	if err != nil {
		return fmt.Errorf("append update: %w", err)
	}
	return nil
}

// Backlog returns a channel's update stream after the given sequence number,
// in sequence order. Pass zero for the full stream.
func (l *UpdateLog) Backlog(channel string, afterSeq int64) ([]UpdateRow, error) {
	rows, err := l.db.Query(
		"SELECT seq, ops FROM updates WHERE channel = ? AND seq > ? ORDER BY seq ASC",
		channel, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("query backlog: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []UpdateRow
	for rows.Next() {
		var seq int64
		var ops string
		if err := rows.Scan(&seq, &ops); err != nil {
			return nil, fmt.Errorf("scan update row: %w", err)
		}
		out = append(out, UpdateRow{Seq: seq, Ops: []byte(ops)})
	}
	return out, rows.Err()
}

// LastSeq returns the highest assigned sequence number for a channel, zero
// when the channel has no updates yet.
func (l *UpdateLog) LastSeq(channel string) (int64, error) {
	var seq sql.NullInt64
	err := l.db.QueryRow(
		"SELECT MAX(seq) FROM updates WHERE channel = ?", channel).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq.Int64, nil
}
