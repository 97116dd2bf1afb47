package repository

import (
	"context"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed migrations
var migrationFS embed.FS

// Migrate applies the embedded migrations for the connection's driver that
// have not been recorded in schema_migrations yet.
func Migrate(ctx context.Context, db *sqlx.DB) ([]string, error) {
	dir := "migrations/mysql"
	if db.DriverName() == "postgres" {
		dir = "migrations/postgres"
	}

	ddl := `CREATE TABLE IF NOT EXISTS schema_migrations (
	version VARCHAR(255) NOT NULL PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	entries, err := migrationFS.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var applied []string
	for _, file := range files {
		var n int
		if err := db.GetContext(ctx, &n, db.Rebind("SELECT COUNT(*) FROM schema_migrations WHERE version = ?"), file); err != nil {
			return applied, fmt.Errorf("check migration %q: %w", file, err)
		}
		if n > 0 {
			continue
		}

		raw, err := migrationFS.ReadFile(path.Join(dir, file))
		if err != nil {
			return applied, fmt.Errorf("read migration %q: %w", file, err)
		}

		// MySQL DDL commits implicitly, so statements run one by one.
		for _, stmt := range strings.Split(string(raw), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return applied, fmt.Errorf("execute migration %q: %w", file, err)
			}
		}
		if _, err := db.ExecContext(ctx, db.Rebind("INSERT INTO schema_migrations (version) VALUES (?)"), file); err != nil {
			return applied, fmt.Errorf("record migration %q: %w", file, err)
		}
		applied = append(applied, file)
	}
	return applied, nil
}
