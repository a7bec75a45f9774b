package database

import (
	"database/sql"
	"fmt"
	"vitals-station/internal/config"

	_ "github.com/lib/pq"
)

// OpenRemote opens a connection pool to the remote visit store. The pool is
// returned without an initial ping: the remote store may be unreachable at
// startup, and the health checker owns connectivity state.
func OpenRemote(cfg *config.RemoteDBConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open remote store: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}

	return db, nil
}

// Close closes a store handle, tolerating nil.
func Close(db *sql.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}
