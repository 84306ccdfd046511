package migrate

import (
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/crashdock/crashdock/pkg/config"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// Migrator handles database migrations
type Migrator struct {
	db            *sql.DB
	migrationsFS  fs.FS
	migrationsDir string
}

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// NewMigrator creates a new migration runner
func NewMigrator(cfg *config.DatabaseConfig, migrationsFS fs.FS, migrationsDir string) (*Migrator, error) {
	dsn := cfg.DatabaseURL()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Migrator{
		db:            db,
		migrationsFS:  migrationsFS,
		migrationsDir: migrationsDir,
	}, nil
}

// EnsureMigrationsTable creates the migrations tracking table if it doesn't exist
func (m *Migrator) EnsureMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`

	if _, err := m.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns the applied migration versions in order
func (m *Migrator) GetAppliedMigrations() ([]int, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// LoadMigrations reads all migrations from the embedded filesystem
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.migrationsFS, m.migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}

		// Expected layout: NNN_name.up.sql / NNN_name.down.sql
		parts := strings.SplitN(name, "_", 2)
		if len(parts) != 2 {
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}

		// fs paths are always slash-separated
		content, err := fs.ReadFile(m.migrationsFS, path.Join(m.migrationsDir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		mig, ok := byVersion[version]
		if !ok {
			mig = &Migration{Version: version}
			byVersion[version] = mig
		}

		switch {
		case strings.HasSuffix(name, ".up.sql"):
			mig.Name = strings.TrimSuffix(parts[1], ".up.sql")
			mig.UpSQL = string(content)
		case strings.HasSuffix(name, ".down.sql"):
			mig.DownSQL = string(content)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		migrations = append(migrations, *mig)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Up applies all pending migrations
func (m *Migrator) Up() error {
	if err := m.EnsureMigrationsTable(); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return err
	}
	appliedSet := make(map[int]bool, len(applied))
	for _, v := range applied {
		appliedSet[v] = true
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return err
	}

	for _, mig := range migrations {
		if appliedSet[mig.Version] {
			continue
		}

		log.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("applying migration")

		tx, err := m.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if _, err := tx.Exec(mig.UpSQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", mig.Version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", mig.Version, mig.Name); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", mig.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", mig.Version, err)
		}
	}

	return nil
}

// Down rolls back the most recently applied migration
func (m *Migrator) Down() error {
	if err := m.EnsureMigrationsTable(); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		log.Info().Msg("no migrations to roll back")
		return nil
	}
	last := applied[len(applied)-1]

	migrations, err := m.LoadMigrations()
	if err != nil {
		return err
	}

	for _, mig := range migrations {
		if mig.Version != last {
			continue
		}
		if mig.DownSQL == "" {
			return fmt.Errorf("migration %d has no down script", last)
		}

		log.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("rolling back migration")

		tx, err := m.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if _, err := tx.Exec(mig.DownSQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("rollback of migration %d failed: %w", last, err)
		}
		if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = $1", last); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to unrecord migration %d: %w", last, err)
		}
		return tx.Commit()
	}

	return fmt.Errorf("migration %d not found in migrations directory", last)
}

// Close closes the database connection
func (m *Migrator) Close() error {
	return m.db.Close()
}
