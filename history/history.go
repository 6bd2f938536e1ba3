// Package history records dice runs in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("history store is closed")

const schema = `CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	expression TEXT NOT NULL,
	backend TEXT NOT NULL,
	rolls TEXT NOT NULL,
	total INTEGER NOT NULL,
	created_at INTEGER NOT NULL
)`

// Run is one recorded execution.
type Run struct {
	ID         string
	Expression string
	Backend    string
	Rolls      []int64
	Total      int64
	CreatedAt  time.Time
}

// Store persists runs.
type Store struct {
	db  *sql.DB
	log commonlog.Logger
	mu  sync.Mutex
	now func() time.Time
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history path is required")
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	s := &Store{db: db, log: commonlog.GetLogger("dice.history"), now: time.Now}
	s.log.Debugf("opened %s", path)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Record stores run under a fresh ID and returns the ID. A zero CreatedAt
// is stamped with the current time.
func (s *Store) Record(ctx context.Context, run Run) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return "", ErrClosed
	}

	rolls := run.Rolls
	if rolls == nil {
		rolls = []int64{}
	}
	data, err := json.Marshal(rolls)
	if err != nil {
		return "", fmt.Errorf("encoding rolls: %w", err)
	}
	created := run.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO runs (id, expression, backend, rolls, total, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, run.Expression, run.Backend, string(data), run.Total, created.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("saving run: %w", err)
	}
	s.log.Debugf("recorded run %s: %s = %d", id, run.Expression, run.Total)
	return id, nil
}

// Recent returns up to n runs, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, expression, backend, rolls, total, created_at FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?",
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run     Run
			rolls   string
			created int64
		)
		if err := rows.Scan(&run.ID, &run.Expression, &run.Backend, &rolls, &run.Total, &created); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if err := json.Unmarshal([]byte(rolls), &run.Rolls); err != nil {
			return nil, fmt.Errorf("decoding rolls of %s: %w", run.ID, err)
		}
		run.CreatedAt = time.Unix(0, created)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	return runs, nil
}
