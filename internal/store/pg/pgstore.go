package pg

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store is the Postgres persistence layer: impersonation sessions, the
// append-only audit log, and the tenant directory.
type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection (tests use sqlmock through here).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Sessions returns the impersonation session store.
func (s *Store) Sessions() *SessionStore { return &SessionStore{db: s.db} }

// Audit returns the append-only audit log store.
func (s *Store) Audit() *AuditStore { return &AuditStore{db: s.db} }

// Tenants returns the tenant directory store.
func (s *Store) Tenants() *TenantStore { return &TenantStore{db: s.db} }
