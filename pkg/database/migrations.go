package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationsDir = "migrations"

// goose keeps its base FS and dialect in package globals
var gooseMu sync.Mutex

func gooseDialect(driver string) string {
	if driver == DriverPostgres {
		return "pgx"
	}
	return "sqlite3"
}

// runMigrations applies every pending migration. For sqlite databases that
// already hold a schema the file is backed up first.
func runMigrations(db *sql.DB, driver, dbPath string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationFiles)
	goose.SetLogger(log)
	if err := goose.SetDialect(gooseDialect(driver)); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	currentVersion, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	pending, err := goose.CollectMigrations(migrationsDir, currentVersion, math.MaxInt64)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	if len(pending) == 0 {
		log.Debugf("Database is up to date (version %d)", currentVersion)
		return nil
	}

	if driver == DriverSQLite && currentVersion > 0 {
		if err := backupDatabase(dbPath, currentVersion); err != nil {
			return fmt.Errorf("failed to backup database: %w", err)
		}
	}

	log.Infof("Running %d pending migration(s) from version %d", len(pending), currentVersion)
	if err := goose.UpContext(context.Background(), db, migrationsDir); err != nil {
		return fmt.Errorf("migration failed (restore from backup if needed): %w", err)
	}
	return nil
}

// backupDatabase creates a copy of the database file before migrations
func backupDatabase(dbPath string, currentVersion int64) error {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil
	}

	backupPath := fmt.Sprintf("%s.backup-v%d-%s", dbPath, currentVersion, time.Now().Format("20060102-150405"))

	src, err := os.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(backupPath)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy database: %w", err)
	}

	log.Infof("Created database backup: %s", filepath.Base(backupPath))
	return nil
}
