package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vortex-thunder/internal/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("database is closed")

// RunRecord is one mod's outcome within one pipeline run.
type RunRecord struct {
	RunID     uuid.UUID
	ModID     int
	ModName   string
	Version   string
	State     models.ModState
	Error     string
	Digest    string // blake3 of the package zip, when one was built
	Timestamp time.Time
}

// DB wraps the SQLite database instance and provides helper methods.
type DB struct {
	db *sql.DB
	sync.RWMutex
	closeOnce sync.Once
	closed    bool
	closeErr  error
}

// Open initializes and returns a DB instance.
func Open(path string) (*DB, error) {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database at %s: %w", path, err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database at %s: %w", path, err)
	}

	dbWrapper := &DB{db: db}
	if err := dbWrapper.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	log.Debugf("SQLite history opened at %s", path)
	return dbWrapper, nil
}

func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		mod_id INTEGER NOT NULL,
		mod_name TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		digest TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_mod_id ON runs(mod_id);
	CREATE INDEX IF NOT EXISTS idx_runs_run_id ON runs(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON runs(timestamp);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Close safely closes the database connection.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		d.Lock()
		defer d.Unlock()

		d.closeErr = d.db.Close()
		d.closed = true

		if d.closeErr != nil {
			log.Errorf("Error during database close operation: %v", d.closeErr)
		} else {
			log.Debug("History database closed.")
		}
	})

	return d.closeErr
}

// Record appends one run record. A zero timestamp is stamped with now.
func (d *DB) Record(ctx context.Context, r RunRecord) error {
	d.Lock()
	defer d.Unlock()
	if d.closed {
		return ErrClosed
	}

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, mod_id, mod_name, version, state, error, digest, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RunID.String(), r.ModID, r.ModName, r.Version, string(r.State), r.Error, r.Digest, r.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("error recording run for mod %d: %w", r.ModID, err)
	}
	log.WithFields(log.Fields{"mod": r.ModID, "state": r.State}).Debug("Recorded run")
	return nil
}

// ForMod returns every record for modID, newest first.
func (d *DB) ForMod(ctx context.Context, modID int) ([]RunRecord, error) {
	return d.query(ctx, `
		SELECT run_id, mod_id, mod_name, version, state, error, digest, timestamp
		FROM runs WHERE mod_id = ? ORDER BY timestamp DESC, id DESC
	`, modID)
}

// Latest returns up to n of the newest records across all mods.
func (d *DB) Latest(ctx context.Context, n int) ([]RunRecord, error) {
	if n <= 0 {
		n = 20
	}
	return d.query(ctx, `
		SELECT run_id, mod_id, mod_name, version, state, error, digest, timestamp
		FROM runs ORDER BY timestamp DESC, id DESC LIMIT ?
	`, n)
}

// LastDone returns the newest successful record for modID, if any.
func (d *DB) LastDone(ctx context.Context, modID int) (*RunRecord, error) {
	recs, err := d.query(ctx, `
		SELECT run_id, mod_id, mod_name, version, state, error, digest, timestamp
		FROM runs WHERE mod_id = ? AND state = ? ORDER BY timestamp DESC, id DESC LIMIT 1
	`, modID, string(models.StateDone))
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func (d *DB) query(ctx context.Context, q string, args ...any) ([]RunRecord, error) {
	d.RLock()
	defer d.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}

	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying run history: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r      RunRecord
			runID  string
			state  string
			millis int64
		)
		if err := rows.Scan(&runID, &r.ModID, &r.ModName, &r.Version, &state, &r.Error, &r.Digest, &millis); err != nil {
			return nil, fmt.Errorf("error scanning run record: %w", err)
		}
		if r.RunID, err = uuid.Parse(runID); err != nil {
			log.WithError(err).Warnf("Skipping run record with malformed run id %q", runID)
			continue
		}
		r.State = models.ModState(state)
		r.Timestamp = time.UnixMilli(millis)
		out = append(out, r)
	}
	return out, rows.Err()
}
