package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tablehouse/perks/internal/domain"
	_ "github.com/lib/pq"
)

// openPostgres opens a PostgreSQL database connection.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}

	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}

	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "perks"
	}

	user := cfg.PostgresUser
	if user == "" {
		user = "perks"
	}

	// application_name shows up in pg_stat_activity, which is how row
	// locks held by the issuance transaction get traced in production.
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s application_name=perks connect_timeout=5",
		host,
		port,
		user,
		cfg.PostgresPassword,
		dbname,
		getSSLMode(cfg.PostgresSSLMode),
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	// POS traffic is bursty around service peaks; cap the pool and
	// recycle connections so the restaurant-hours burst does not pin
	// stale connections for the rest of the day.
	if cfg.MaxOpenConns == 0 {
		db.SetMaxOpenConns(25)
	}
	if cfg.MaxIdleConns == 0 {
		db.SetMaxIdleConns(5)
	}
	if cfg.ConnMaxLifetime == 0 {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return db, nil
}

func getSSLMode(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}
