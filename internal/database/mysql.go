package database

import (
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"mass-payments/internal/config"
)

// Open connects to the SQL database named by cfg.DBDriver.
func Open(cfg *config.Config) (*sqlx.DB, error) {
	switch cfg.DBDriver {
	case "mysql":
		return NewMySQL(cfg)
	case "postgres":
		return NewPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
	}
}

func NewMySQL(cfg *config.Config) (*sqlx.DB, error) {
	return connect("mysql", cfg)
}

func NewPostgres(cfg *config.Config) (*sqlx.DB, error) {
	return connect("postgres", cfg)
}

func connect(driver string, cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, err
	}

	// Connection pool settings
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
