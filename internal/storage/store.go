package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/devblac/casper-events/internal/event"
)

// Store wraps SQLite-backed persistence for decoded events, per-source
// cursors, capture runs, and sink deliveries.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS cursors (
  source_id   TEXT PRIMARY KEY,
  sequence    INTEGER NOT NULL,
  fingerprint TEXT NOT NULL,
  updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS events (
  fingerprint    TEXT PRIMARY KEY,
  source_id      TEXT NOT NULL,
  sequence       INTEGER NOT NULL,
  kind           TEXT NOT NULL,
  schema_version TEXT NOT NULL,
  body_json      TEXT NOT NULL,
  received_at    TIMESTAMP,
  created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS events_by_source ON events (source_id, sequence);

CREATE TABLE IF NOT EXISTS runs (
  id           TEXT PRIMARY KEY,
  source_id    TEXT NOT NULL,
  started_at   TIMESTAMP NOT NULL,
  finished_at  TIMESTAMP,
  status       TEXT NOT NULL,
  frames       INTEGER NOT NULL DEFAULT 0,
  decoded      INTEGER NOT NULL DEFAULT 0,
  failed       INTEGER NOT NULL DEFAULT 0,
  duplicates   INTEGER NOT NULL DEFAULT 0,
  forwarded    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sends (
  fingerprint   TEXT NOT NULL,
  sink_id       TEXT NOT NULL,
  status        TEXT NOT NULL,
  created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(fingerprint, sink_id)
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertCursor records the last processed sequence for a source.
func (s *Store) UpsertCursor(ctx context.Context, sourceID string, sequence uint64, fingerprint string) error {
	return upsertCursor(ctx, s.db, sourceID, sequence, fingerprint)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertCursor(ctx context.Context, db execer, sourceID string, sequence uint64, fingerprint string) error {
	if sourceID == "" {
		return errors.New("sourceID required")
	}
	_, err := db.ExecContext(ctx, `
INSERT INTO cursors (source_id, sequence, fingerprint, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(source_id) DO UPDATE SET
  sequence=excluded.sequence,
  fingerprint=excluded.fingerprint,
  updated_at=CURRENT_TIMESTAMP;
`, sourceID, sequence, fingerprint)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

// GetCursor retrieves the cursor for a source.
func (s *Store) GetCursor(ctx context.Context, sourceID string) (sequence uint64, fingerprint string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
SELECT sequence, fingerprint FROM cursors WHERE source_id = ?;
`, sourceID)
	switch err = row.Scan(&sequence, &fingerprint); err {
	case nil:
		return sequence, fingerprint, true, nil
	case sql.ErrNoRows:
		return 0, "", false, nil
	default:
		return 0, "", false, fmt.Errorf("get cursor: %w", err)
	}
}

// Record is one stored event.
type Record struct {
	Fingerprint   string
	SourceID      string
	Sequence      uint64
	Kind          string
	SchemaVersion string
	BodyJSON      string
	ReceivedAt    time.Time
}

// NewRecord builds the row for a decoded envelope.
func NewRecord(sourceID, schemaVersion string, env event.Envelope) (Record, error) {
	body, err := event.Marshal(env.Event)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Fingerprint:   env.Fingerprint.String(),
		SourceID:      sourceID,
		Sequence:      env.Sequence,
		Kind:          string(env.Event.Kind()),
		SchemaVersion: schemaVersion,
		BodyJSON:      string(body),
		ReceivedAt:    env.ReceivedAt,
	}, nil
}

// Envelope rebuilds the canonical envelope from the stored body.
func (r Record) Envelope() (event.Envelope, error) {
	ev, err := event.Unmarshal([]byte(r.BodyJSON))
	if err != nil {
		return event.Envelope{}, fmt.Errorf("event %s: %w", r.Fingerprint, err)
	}
	fp, err := event.ParseFingerprint(r.Fingerprint)
	if err != nil {
		return event.Envelope{}, fmt.Errorf("event %s: %w", r.Fingerprint, err)
	}
	return event.Envelope{Sequence: r.Sequence, Fingerprint: fp, Event: ev, ReceivedAt: r.ReceivedAt}, nil
}

// SaveEvent stores rec and advances the source cursor in one transaction.
// It reports false when an event with the same fingerprint already exists;
// the cursor still advances in that case.
func (s *Store) SaveEvent(ctx context.Context, rec Record) (inserted bool, err error) {
	if rec.Fingerprint == "" || rec.SourceID == "" {
		return false, errors.New("fingerprint and source_id required")
	}
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO events (fingerprint, source_id, sequence, kind, schema_version, body_json, received_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(fingerprint) DO NOTHING;
`, rec.Fingerprint, rec.SourceID, rec.Sequence, rec.Kind, rec.SchemaVersion, rec.BodyJSON, nullTime(rec.ReceivedAt))
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		inserted = n == 1
		return upsertCursor(ctx, tx, rec.SourceID, rec.Sequence, rec.Fingerprint)
	})
	return inserted, err
}

// EventQuery narrows ListEvents. Zero fields match everything.
type EventQuery struct {
	SourceID string
	Kind     string
	After    uint64
	Limit    int
}

// ListEvents returns stored events in sequence order.
func (s *Store) ListEvents(ctx context.Context, q EventQuery) ([]Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT fingerprint, source_id, sequence, kind, schema_version, body_json, received_at
FROM events
WHERE (? = '' OR source_id = ?)
  AND (? = '' OR kind = ?)
  AND sequence > ?
ORDER BY source_id, sequence, fingerprint
LIMIT ?;
`, q.SourceID, q.SourceID, q.Kind, q.Kind, q.After, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec      Record
			received sql.NullTime
		)
		if err := rows.Scan(&rec.Fingerprint, &rec.SourceID, &rec.Sequence, &rec.Kind, &rec.SchemaVersion, &rec.BodyJSON, &received); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if received.Valid {
			rec.ReceivedAt = received.Time.UTC()
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

// CountByKind returns the number of stored events per kind for a source, or
// for all sources when sourceID is empty.
func (s *Store) CountByKind(ctx context.Context, sourceID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT kind, COUNT(*) FROM events
WHERE (? = '' OR source_id = ?)
GROUP BY kind;
`, sourceID, sourceID)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[kind] = n
	}
	return out, rows.Err()
}

// Run is one capture pass over a frame stream.
type Run struct {
	ID         string
	SourceID   string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Frames     int
	Decoded    int
	Failed     int
	Duplicates int
	Forwarded  int
}

// Run statuses.
const (
	RunRunning  = "running"
	RunComplete = "complete"
	RunHalted   = "halted"
)

// StartRun inserts a new running run with a fresh id.
func (s *Store) StartRun(ctx context.Context, sourceID string, now time.Time) (Run, error) {
	run := Run{ID: uuid.NewString(), SourceID: sourceID, StartedAt: now.UTC(), Status: RunRunning}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (id, source_id, started_at, status) VALUES (?, ?, ?, ?);
`, run.ID, run.SourceID, run.StartedAt, run.Status)
	if err != nil {
		return Run{}, fmt.Errorf("start run: %w", err)
	}
	return run, nil
}

// FinishRun stores the final counters and status of run.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("run id required")
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE runs SET finished_at = ?, status = ?, frames = ?, decoded = ?, failed = ?, duplicates = ?, forwarded = ?
WHERE id = ?;
`, nullTime(run.FinishedAt), run.Status, run.Frames, run.Decoded, run.Failed, run.Duplicates, run.Forwarded, run.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run: unknown run %s", run.ID)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, source_id, started_at, finished_at, status, frames, decoded, failed, duplicates, forwarded
FROM runs ORDER BY started_at DESC, id LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r        Run
			finished sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.SourceID, &r.StartedAt, &finished, &r.Status, &r.Frames, &r.Decoded, &r.Failed, &r.Duplicates, &r.Forwarded); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertSend records a sink delivery; the primary key allows one per
// event and sink.
func (s *Store) InsertSend(ctx context.Context, fingerprint, sinkID, status string) error {
	if fingerprint == "" || sinkID == "" || status == "" {
		return errors.New("fingerprint, sink_id, and status are required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sends (fingerprint, sink_id, status) VALUES (?, ?, ?);
`, fingerprint, sinkID, status)
	if err != nil {
		return fmt.Errorf("insert send: %w", err)
	}
	return nil
}

// CountSends returns deliveries per status.
func (s *Store) CountSends(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sends GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("count sends: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan sends: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// WithTx executes a callback inside a transaction for callers needing atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
