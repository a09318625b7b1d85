package session

import (
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/lib/pq"
)

// PGStore is a Postgres-backed Store, so session continuity and event
// snapshots survive process restarts and are shared across replicas.
type PGStore struct {
	db    *sql.DB
	table string
}

var validTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateTableName(name string) error {
	if name == "" {
		return fmt.Errorf("table name is empty")
	}
	if len(name) > 63 {
		return fmt.Errorf("table name %q exceeds 63 characters", name)
	}
	if !validTableName.MatchString(name) {
		return fmt.Errorf("table name %q contains invalid characters", name)
	}
	return nil
}

// NewPGStore opens a connection and ensures the key/value table exists.
// table defaults to "agentdetect_kv" when empty.
func NewPGStore(dsn, table string) (*PGStore, error) {
	if table == "" {
		table = "agentdetect_kv"
	}
	if err := validateTableName(table); err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	s := &PGStore{db: db, table: table}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) ensureSchema() error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key text PRIMARY KEY,
		value text NOT NULL,
		updated_at timestamptz NOT NULL DEFAULT now()
	)`, s.table)
	_, err := s.db.Exec(stmt)
	return err
}

func (s *PGStore) Read(key string) (string, bool) {
	row := s.db.QueryRow(fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.table), key)
	var value string
	if err := row.Scan(&value); err != nil {
		return "", false
	}
	return value, true
}

func (s *PGStore) Write(key, value string) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, s.table)
	_, err := s.db.Exec(stmt, key, value)
	return err
}

func (s *PGStore) Close() error {
	return s.db.Close()
}
