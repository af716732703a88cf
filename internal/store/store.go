package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("duplicate key")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db   *sql.DB
	q    querier
	inTx bool
}

func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	if dbPath != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, q: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn against a store bound to a single transaction. The
// transaction commits if fn returns nil and rolls back otherwise. Calls on
// a store that is already inside a transaction join it.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}
	return tx.Commit()
}

// duplicateErr maps unique constraint violations to ErrDuplicate and leaves
// every other error untouched.
func duplicateErr(err error) error {
	if err == nil {
		return nil
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(serr.Error(), "UNIQUE")) {
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
	}
	return err
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'candidate',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		certification_id INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS certifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL,
		version INTEGER NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		level TEXT NOT NULL DEFAULT '',
		passing_score REAL NOT NULL,
		max_attempts INTEGER NOT NULL,
		duration_minutes INTEGER NOT NULL,
		validity_months INTEGER NOT NULL DEFAULT 0,
		sections_json TEXT NOT NULL,
		skills_json TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		UNIQUE (code, version)
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		certification_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		section TEXT NOT NULL,
		type TEXT NOT NULL,
		prompt TEXT NOT NULL,
		options_json TEXT NOT NULL DEFAULT '[]',
		correct_json TEXT NOT NULL DEFAULT '[]',
		points REAL NOT NULL,
		difficulty TEXT NOT NULL DEFAULT '',
		explanation TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (certification_id) REFERENCES certifications(id)
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		certification_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'in_progress',
		started_at DATETIME NOT NULL,
		deadline DATETIME NOT NULL,
		time_remaining INTEGER NOT NULL,
		current_index INTEGER NOT NULL DEFAULT 0,
		answers_json TEXT NOT NULL DEFAULT '{}',
		version INTEGER NOT NULL DEFAULT 1,
		finished_at DATETIME,
		FOREIGN KEY (user_id) REFERENCES users(id),
		FOREIGN KEY (certification_id) REFERENCES certifications(id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS attempts_one_active
		ON attempts (user_id, certification_id) WHERE status = 'in_progress';

	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		attempt_id INTEGER NOT NULL UNIQUE,
		total_score REAL NOT NULL,
		sections_json TEXT NOT NULL,
		passed BOOLEAN NOT NULL,
		grade TEXT NOT NULL,
		duration_used INTEGER NOT NULL,
		forced BOOLEAN NOT NULL DEFAULT 0,
		certificate_id INTEGER,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (attempt_id) REFERENCES attempts(id),
		FOREIGN KEY (certificate_id) REFERENCES certificates(id)
	);

	CREATE TABLE IF NOT EXISTS certificates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		certification_id INTEGER NOT NULL,
		result_id INTEGER NOT NULL,
		serial INTEGER NOT NULL UNIQUE,
		certificate_number TEXT NOT NULL UNIQUE,
		verification_code TEXT NOT NULL UNIQUE,
		issued_at DATETIME NOT NULL,
		expires_at DATETIME,
		is_public BOOLEAN NOT NULL DEFAULT 1,
		FOREIGN KEY (user_id) REFERENCES users(id),
		FOREIGN KEY (certification_id) REFERENCES certifications(id),
		FOREIGN KEY (result_id) REFERENCES results(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}
