package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"engagement-scraper/internal/config"
	"engagement-scraper/internal/utils"
)

//go:embed migrations
var migrations embed.FS

var ErrNotFound = errors.New("record not found")

type DB struct {
	conn   *sql.DB
	driver string
	logger *logrus.Logger
	now    func() time.Time
}

// NewConnection opens and pings the configured database, retrying the ping
// while the server comes up.
func NewConnection(ctx context.Context, cfg *config.DatabaseConfig, logger *logrus.Logger) (*DB, error) {
	driverName := "postgres"
	if cfg.Driver == "sqlite" {
		driverName = "sqlite"
		if dir := filepath.Dir(cfg.Path); dir != "." && cfg.Path != ":memory:" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		logger.Infof("Opening sqlite database: %s", cfg.Path)
	} else {
		logger.Infof("Connecting to database: host=%s port=%d dbname=%s user=%s", cfg.Host, cfg.Port, cfg.Name, cfg.User)
	}

	conn, err := sql.Open(driverName, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// One writer avoids SQLITE_BUSY between the API and a running job.
		conn.SetMaxOpenConns(1)
	}

	policy := utils.RetryPolicy{Attempts: 3, Delay: time.Second}
	onRetry := func(attempt int, err error) {
		logger.Warnf("Database ping %d failed: %v", attempt, err)
	}
	_, err = utils.Retry(ctx, policy, nil, onRetry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, conn.PingContext(ctx)
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established")
	return &DB{conn: conn, driver: cfg.Driver, logger: logger, now: time.Now}, nil
}

// RunMigrations applies the embedded scripts of the active dialect in name
// order. Every script is idempotent.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("Running database migrations...")

	dir := path.Join("migrations", db.dialect())
	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return fmt.Errorf("failed to find migration files: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		db.logger.Debugf("Running migration: %s", name)
		content, err := migrations.ReadFile(path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", name, err)
		}
		if _, err := db.conn.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
	}

	db.logger.Info("Migrations completed successfully")
	return nil
}

func (db *DB) dialect() string {
	if db.driver == "sqlite" {
		return "sqlite"
	}
	return "postgres"
}

// rebind rewrites ? placeholders to $n for postgres.
func (db *DB) rebind(query string) string {
	if db.driver == "sqlite" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *DB) timestamp() time.Time {
	return db.now().UTC()
}

// Ping checks if the database connection is alive
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.conn.Close()
}
