package stream

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists stream state in a SQLite database so in-flight
// streams survive a process restart.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS streams (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    voice TEXT NOT NULL,
    total_chunks INTEGER NOT NULL,
    chunks_completed INTEGER NOT NULL,
    status TEXT NOT NULL,
    manifest_key TEXT NOT NULL DEFAULT '',
    total_duration_seconds REAL NOT NULL DEFAULT 0,
    failed_chunk INTEGER NOT NULL DEFAULT -1,
    error_message TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    completed_at TEXT
);
CREATE TABLE IF NOT EXISTS stream_chunks (
    stream_id TEXT NOT NULL REFERENCES streams(id) ON DELETE CASCADE,
    chunk_index INTEGER NOT NULL,
    word_count INTEGER NOT NULL,
    duration_seconds REAL NOT NULL DEFAULT 0,
    segment_url TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (stream_id, chunk_index)
);
`

// OpenSQLiteStore opens or creates the database at path and applies the
// schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetStream implements Store.GetStream.
func (s *SQLiteStore) GetStream(id StreamID) (*StreamState, bool, error) {
	ctx := context.Background()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, voice, total_chunks, chunks_completed, status,
            manifest_key, total_duration_seconds, failed_chunk, error_message,
            created_at, updated_at, completed_at
         FROM streams WHERE id = ?`, string(id))

	var st StreamState
	var streamID, status, createdAt, updatedAt string
	var completedAt sql.NullString
	err := row.Scan(&streamID, &st.Title, &st.Voice, &st.TotalChunks,
		&st.ChunksCompleted, &status, &st.ManifestKey,
		&st.TotalDurationSeconds, &st.FailedChunk, &st.ErrorMessage,
		&createdAt, &updatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query stream: %w", err)
	}

	st.ID = StreamID(streamID)
	st.Status = StreamStatus(status)
	if st.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, false, fmt.Errorf("parse created_at: %w", err)
	}
	if st.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, false, fmt.Errorf("parse updated_at: %w", err)
	}
	if completedAt.Valid {
		if st.CompletedAt, err = time.Parse(time.RFC3339Nano, completedAt.String); err != nil {
			return nil, false, fmt.Errorf("parse completed_at: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_index, word_count, duration_seconds, segment_url, status, error_message
         FROM stream_chunks WHERE stream_id = ? ORDER BY chunk_index`, string(id))
	if err != nil {
		return nil, false, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	st.Chunks = make(map[int]*Chunk)
	for rows.Next() {
		var (
			c           Chunk
			chunkStatus string
		)
		if err := rows.Scan(&c.Index, &c.WordCount, &c.DurationSeconds,
			&c.SegmentURL, &chunkStatus, &c.ErrorMessage); err != nil {
			return nil, false, fmt.Errorf("scan chunk: %w", err)
		}
		c.Status = ChunkStatus(chunkStatus)
		st.Chunks[c.Index] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate chunks: %w", err)
	}

	return &st, true, nil
}

// SetStream implements Store.SetStream. The stream row and all chunk rows
// are upserted in one transaction.
func (s *SQLiteStore) SetStream(st *StreamState) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var completedAt any
	if !st.CompletedAt.IsZero() {
		completedAt = st.CompletedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO streams (
            id, title, voice, total_chunks, chunks_completed, status,
            manifest_key, total_duration_seconds, failed_chunk, error_message,
            created_at, updated_at, completed_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            title = excluded.title,
            voice = excluded.voice,
            total_chunks = excluded.total_chunks,
            chunks_completed = excluded.chunks_completed,
            status = excluded.status,
            manifest_key = excluded.manifest_key,
            total_duration_seconds = excluded.total_duration_seconds,
            failed_chunk = excluded.failed_chunk,
            error_message = excluded.error_message,
            updated_at = excluded.updated_at,
            completed_at = excluded.completed_at`,
		string(st.ID), st.Title, st.Voice, st.TotalChunks, st.ChunksCompleted,
		string(st.Status), st.ManifestKey, st.TotalDurationSeconds,
		st.FailedChunk, st.ErrorMessage,
		st.CreatedAt.UTC().Format(time.RFC3339Nano),
		st.UpdatedAt.UTC().Format(time.RFC3339Nano),
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert stream: %w", err)
	}

	for _, c := range st.Chunks {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO stream_chunks (
                stream_id, chunk_index, word_count, duration_seconds,
                segment_url, status, error_message
            ) VALUES (?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(stream_id, chunk_index) DO UPDATE SET
                word_count = excluded.word_count,
                duration_seconds = excluded.duration_seconds,
                segment_url = excluded.segment_url,
                status = excluded.status,
                error_message = excluded.error_message`,
			string(st.ID), c.Index, c.WordCount, c.DurationSeconds,
			c.SegmentURL, string(c.Status), c.ErrorMessage,
		)
		if err != nil {
			return fmt.Errorf("upsert chunk %d: %w", c.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListStreamIDs implements Store.ListStreamIDs.
func (s *SQLiteStore) ListStreamIDs() ([]StreamID, error) {
	rows, err := s.db.Query(`SELECT id FROM streams ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query stream ids: %w", err)
	}
	defer rows.Close()

	var ids []StreamID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stream id: %w", err)
		}
		ids = append(ids, StreamID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stream ids: %w", err)
	}
	return ids, nil
}
