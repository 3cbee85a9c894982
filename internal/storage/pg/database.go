package pg

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/eternisai/chatgpt-pool-gateway/internal/config"
	pgdb "github.com/eternisai/chatgpt-pool-gateway/internal/storage/pg/sqlc"
	_ "github.com/lib/pq"
)

// Database wraps the connection pool and the generated query set.
type Database struct {
	DB      *sql.DB
	Queries *pgdb.Queries
}

// InitDatabase opens the connection pool, runs pending migrations, and
// returns a Database ready for use by the credential store and the
// conversation binder.
func InitDatabase(databaseURL string) (*Database, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.AppConfig.DBMaxOpenConns)
	db.SetMaxIdleConns(config.AppConfig.DBMaxIdleConns)
	db.SetConnMaxIdleTime(time.Duration(config.AppConfig.DBConnMaxIdleTime) * time.Minute)
	db.SetConnMaxLifetime(time.Duration(config.AppConfig.DBConnMaxLifetime) * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Database{
		DB:      db,
		Queries: pgdb.New(db),
	}, nil
}
