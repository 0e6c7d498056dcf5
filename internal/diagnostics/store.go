package diagnostics

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rvlink/rvlink-core/internal/infrastructure/database"
	"github.com/rvlink/rvlink-core/internal/rvc"
)

// DefaultMaxIdentifiers bounds how many distinct unknown DGNs the store
// tracks. Beyond the bound, new identifiers are counted in aggregate but
// not recorded, keeping a chattering bus from growing the store without
// limit.
const DefaultMaxIdentifiers = 512

// ErrStoreClosed indicates an operation after Close.
var ErrStoreClosed = errors.New("diagnostics: store closed")

// schema is the diagnostics store schema. Idempotent: the store is
// usually in-memory and rebuilt each start, but a file-backed path may
// already carry the table.
const schema = `
CREATE TABLE IF NOT EXISTS unrecognized_frames (
	dgn        INTEGER NOT NULL,
	source     INTEGER NOT NULL,
	transport  TEXT    NOT NULL,
	payload    TEXT    NOT NULL,
	count      INTEGER NOT NULL DEFAULT 1,
	first_seen TIMESTAMP NOT NULL,
	last_seen  TIMESTAMP NOT NULL,
	PRIMARY KEY (dgn, source, transport)
);
CREATE INDEX IF NOT EXISTS idx_unrecognized_last_seen
	ON unrecognized_frames(last_seen);
`

// Record is one tracked unknown identifier.
type Record struct {
	DGN       uint32    `json:"dgn"`
	Source    uint8     `json:"source"`
	Transport string    `json:"transport"`
	Payload   string    `json:"payload"`
	Count     uint64    `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Store keeps frames the decode engine could not recognize, so unknown
// devices on the bus can be inventoried instead of silently dropped.
//
// The store is an explicit handle owned by the diagnostics feature and
// passed to the pipeline; there is no ambient process-wide cache. The
// default backing is an in-memory database: the inventory is
// session-scoped and empty after a restart.
//
// All public methods are thread-safe.
type Store struct {
	mu     sync.Mutex
	db     *database.DB
	closed bool

	maxIdentifiers int
	knownDGNs      map[uint32]struct{}
	overflow       uint64
}

// NewStore creates a diagnostics store and applies its schema.
//
// Parameters:
//   - ctx: Bounds the schema setup
//   - db: Open database handle (the store does not own it)
//   - maxIdentifiers: Distinct-DGN bound (0 = DefaultMaxIdentifiers)
//
// Returns:
//   - *Store: Ready store
//   - error: If schema setup fails
func NewStore(ctx context.Context, db *database.DB, maxIdentifiers int) (*Store, error) {
	if maxIdentifiers <= 0 {
		maxIdentifiers = DefaultMaxIdentifiers
	}
	if err := db.ApplySchema(ctx, schema); err != nil {
		return nil, fmt.Errorf("diagnostics schema: %w", err)
	}

	s := &Store{
		db:             db,
		maxIdentifiers: maxIdentifiers,
		knownDGNs:      make(map[uint32]struct{}),
	}
	if err := s.loadKnown(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// loadKnown seeds the identifier bound from an existing file-backed
// database.
func (s *Store) loadKnown(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT dgn FROM unrecognized_frames`)
	if err != nil {
		return fmt.Errorf("loading known identifiers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dgn uint32
		if err := rows.Scan(&dgn); err != nil {
			return fmt.Errorf("scanning identifier: %w", err)
		}
		s.knownDGNs[dgn] = struct{}{}
	}
	return rows.Err()
}

// RecordFrame tracks one unrecognized frame. Repeats of a
// (DGN, source, transport) triple bump the counter and refresh the
// payload; new DGNs beyond the identifier bound are only counted in
// aggregate.
//
// Parameters:
//   - ctx: Bounds the write
//   - frame: The frame the decode engine rejected
//
// Returns:
//   - error: ErrStoreClosed or a database error
func (s *Store) RecordFrame(ctx context.Context, frame rvc.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	dgn := frame.DGN()
	if _, known := s.knownDGNs[dgn]; !known {
		if len(s.knownDGNs) >= s.maxIdentifiers {
			s.overflow++
			return nil
		}
		s.knownDGNs[dgn] = struct{}{}
	}

	now := frame.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unrecognized_frames
			(dgn, source, transport, payload, count, first_seen, last_seen)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(dgn, source, transport) DO UPDATE SET
			count = count + 1,
			payload = excluded.payload,
			last_seen = excluded.last_seen`,
		dgn, frame.Source(), frame.Transport,
		hex.EncodeToString(frame.Data), now, now)
	if err != nil {
		return fmt.Errorf("recording unrecognized frame: %w", err)
	}
	return nil
}

// List returns tracked records ordered by most recent activity.
//
// Parameters:
//   - ctx: Bounds the query
//   - limit: Maximum records to return (0 = no limit)
//
// Returns:
//   - []Record: Tracked identifiers, most recent first
//   - error: ErrStoreClosed or a database error
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	s.mu.Unlock()

	query := `
		SELECT dgn, source, transport, payload, count, first_seen, last_seen
		FROM unrecognized_frames
		ORDER BY last_seen DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, query+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("listing unrecognized frames: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.DGN, &r.Source, &r.Transport, &r.Payload,
			&r.Count, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// IdentifierCount returns the number of distinct unknown DGNs tracked.
func (s *Store) IdentifierCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.knownDGNs)
}

// Overflow returns how many frames were counted but not recorded because
// the identifier bound was reached.
func (s *Store) Overflow() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflow
}

// Close marks the store closed. The database handle belongs to the
// caller and is not closed here.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
