package history

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Migration outcome labels stored in the migrations table.
const (
	OutcomeDone    = "done"    // guest running on the recipient
	OutcomeSkipped = "skipped" // preflight found local resources
	OutcomeFailed  = "failed"  // preflight, submit or poll failure
	OutcomeTest    = "test"    // test mode, nothing contacted
)

// MigrationRecord is one migration attempt as stored on disk.
type MigrationRecord struct {
	ID        int64
	VMID      int
	Donor     string
	Recipient string
	Outcome   string
	Detail    string
	Duration  time.Duration
	At        time.Time
}

// IterationRecord summarizes one control-loop iteration.
type IterationRecord struct {
	ID            int64
	At            time.Time
	SumDeviations float64
	Triggered     bool
	OOMRisk       bool
	CPURisk       bool
	Variants      int
	Moved         bool
}

// Store keeps a persistent record of balancer activity in sqlite.
// A nil *Store is valid and records nothing, so callers don't need to
// branch on whether history is enabled.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			vmid INTEGER NOT NULL,
			donor TEXT NOT NULL,
			recipient TEXT NOT NULL,
			outcome TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			duration_s INTEGER NOT NULL DEFAULT 0,
			at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS iterations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at INTEGER NOT NULL,
			sum_deviations REAL NOT NULL,
			triggered INTEGER NOT NULL,
			oom_risk INTEGER NOT NULL,
			cpu_risk INTEGER NOT NULL,
			variants INTEGER NOT NULL,
			moved INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create iterations table: %w", err)
	}
	_, err = s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_migrations_at ON migrations(at)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// RecordMigration stores one migration attempt.
func (s *Store) RecordMigration(rec MigrationRecord) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO migrations (vmid, donor, recipient, outcome, detail, duration_s, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.VMID, rec.Donor, rec.Recipient, rec.Outcome, rec.Detail, int64(rec.Duration.Seconds()), at.Unix())
	if err != nil {
		return fmt.Errorf("failed to record migration of guest %d: %w", rec.VMID, err)
	}
	return nil
}

// RecordIteration stores one iteration summary.
func (s *Store) RecordIteration(rec IterationRecord) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO iterations (at, sum_deviations, triggered, oom_risk, cpu_risk, variants, moved)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, at.Unix(), rec.SumDeviations, boolInt(rec.Triggered), boolInt(rec.OOMRisk), boolInt(rec.CPURisk), rec.Variants, boolInt(rec.Moved))
	if err != nil {
		return fmt.Errorf("failed to record iteration: %w", err)
	}
	return nil
}

// RecentMigrations returns the latest migration attempts, newest first.
func (s *Store) RecentMigrations(limit int) ([]MigrationRecord, error) {
	if s == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, vmid, donor, recipient, outcome, detail, duration_s, at
		FROM migrations ORDER BY at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		var durationS, atUnix int64
		if err := rows.Scan(&rec.ID, &rec.VMID, &rec.Donor, &rec.Recipient, &rec.Outcome, &rec.Detail, &durationS, &atUnix); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		rec.Duration = time.Duration(durationS) * time.Second
		rec.At = time.Unix(atUnix, 0)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Cleanup removes records older than the retention window.
func (s *Store) Cleanup(retention time.Duration) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention).Unix()
	if _, err := s.db.Exec(`DELETE FROM migrations WHERE at < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to clean up migrations: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM iterations WHERE at < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to clean up iterations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
