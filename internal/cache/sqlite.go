package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/synapse-hq/synapse-sourcer/internal/sourcing"
)

const schema = `
CREATE TABLE IF NOT EXISTS score_cache (
	fingerprint TEXT PRIMARY KEY,
	algorithm TEXT NOT NULL,
	candidate_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	composite REAL NOT NULL,
	outreach TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS search_cache (
	job_identity TEXT NOT NULL,
	query TEXT NOT NULL,
	results TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(job_identity, query)
);
`

// searchCacheMaxAge bounds how long cached discovery results stay usable.
const searchCacheMaxAge = 24 * time.Hour

// SQLiteStore persists cache entries in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the cache database at path and
// initializes the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	// WAL lets concurrent pipeline workers read while one writes; the busy
	// timeout resolves writer collisions as last-writer-wins instead of
	// immediate SQLITE_BUSY errors.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure cache database: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize cache schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get retrieves the entry for a fingerprint. Returns ErrNotFound when no
// row exists; a corrupt row is an error the caller should degrade to a
// recompute.
func (s *SQLiteStore) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT algorithm, candidate_id, payload, outreach, created_at
		FROM score_cache WHERE fingerprint = ?
	`, fingerprint)

	var (
		entry    = Entry{Fingerprint: fingerprint}
		payload  []byte
		outreach sql.NullString
	)

	err := row.Scan(&entry.Algorithm, &entry.CandidateID, &payload, &outreach, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}

	candidate, breakdown, err := unmarshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("cache entry %s is corrupt: %w", fingerprint, err)
	}

	entry.Candidate = candidate
	entry.Breakdown = breakdown
	entry.Outreach = outreach.String

	return &entry, nil
}

// Put stores an entry, overwriting any previous row for the fingerprint
// (last writer wins).
func (s *SQLiteStore) Put(ctx context.Context, entry *Entry) error {
	payload, err := marshalPayload(entry)
	if err != nil {
		return fmt.Errorf("serialize cache entry: %w", err)
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO score_cache (fingerprint, algorithm, candidate_id, payload, composite, outreach, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			algorithm = excluded.algorithm,
			candidate_id = excluded.candidate_id,
			payload = excluded.payload,
			composite = excluded.composite,
			outreach = excluded.outreach,
			created_at = excluded.created_at
	`, entry.Fingerprint, entry.Algorithm, entry.CandidateID, payload,
		entry.Breakdown.Composite, entry.Outreach, createdAt)
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}

	return nil
}

// TopCandidates returns the highest-scoring cached entries, best first.
func (s *SQLiteStore) TopCandidates(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, algorithm, candidate_id, payload, outreach, created_at
		FROM score_cache
		ORDER BY composite DESC, created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top candidates: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			entry    Entry
			payload  []byte
			outreach sql.NullString
		)
		if err := rows.Scan(&entry.Fingerprint, &entry.Algorithm, &entry.CandidateID,
			&payload, &outreach, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan top candidate row: %w", err)
		}

		candidate, breakdown, err := unmarshalPayload(payload)
		if err != nil {
			// Skip corrupt rows rather than failing the whole report.
			continue
		}

		entry.Candidate = candidate
		entry.Breakdown = breakdown
		entry.Outreach = outreach.String
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// GetSearchResults returns cached discovery results for a job/query pair,
// or ErrNotFound when absent or older than a day.
func (s *SQLiteStore) GetSearchResults(ctx context.Context, jobIdentity, query string) ([]sourcing.CandidateRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT results FROM search_cache
		WHERE job_identity = ? AND query = ? AND created_at > ?
	`, jobIdentity, query, time.Now().UTC().Add(-searchCacheMaxAge))

	var results []byte
	err := row.Scan(&results)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read search cache: %w", err)
	}

	var records []sourcing.CandidateRecord
	if err := json.Unmarshal(results, &records); err != nil {
		return nil, fmt.Errorf("decode cached search results: %w", err)
	}

	return records, nil
}

// PutSearchResults caches discovery results for a job/query pair.
func (s *SQLiteStore) PutSearchResults(ctx context.Context, jobIdentity, query string, records []sourcing.CandidateRecord) error {
	results, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("serialize search results: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO search_cache (job_identity, query, results, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(job_identity, query) DO UPDATE SET
			results = excluded.results,
			created_at = excluded.created_at
	`, jobIdentity, query, results, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("write search cache: %w", err)
	}

	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
