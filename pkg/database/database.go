package database

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrConnection indicates the store could not be reached
	ErrConnection = errors.New("database connection failed")
	// ErrUserNotFound indicates no user has the given login or id
	ErrUserNotFound = errors.New("user not found")
	// ErrLoginTaken indicates signup for an existing login
	ErrLoginTaken = errors.New("login already registered")
	// ErrNoSession indicates the user has no active session row
	ErrNoSession = errors.New("no active session")
	// ErrUnknownDriver indicates an unsupported Config.Driver
	ErrUnknownDriver = errors.New("unknown database driver")
)

var log = logrus.WithField("component", "database")

// Config selects and addresses the backing store
type Config struct {
	Driver string

	// sqlite
	Path string

	// postgres
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// DB wraps the SQL connections used by the chat server
type DB struct {
	conn      *sql.DB // Read connection pool
	writeConn *sql.DB // Dedicated write connection
	driver    string

	// allocMu serialises the max(id)+1 allocation across inserts
	allocMu sync.Mutex
}

// Open connects to the configured store and applies pending migrations
func Open(cfg Config) (*DB, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		return openSQLite(cfg.Path)
	case DriverPostgres:
		return openPostgres(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// sqliteDSN applies the per-connection pragmas to every pooled connection
func sqliteDSN(path string) string {
	return "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=synchronous(NORMAL)"
}

func openSQLite(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty sqlite path", ErrConnection)
	}

	conn, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	// Multiple readers are fine in WAL mode
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	// SQLite allows one writer at a time
	writeConn, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to open write connection: %v", ErrConnection, err)
	}
	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0)

	db := &DB{conn: conn, writeConn: writeConn, driver: DriverSQLite}

	if err := runMigrations(writeConn, DriverSQLite, path); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// PostgresDSN builds a pgx connection string from cfg
func PostgresDSN(cfg Config) string {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

func openPostgres(cfg Config) (*DB, error) {
	conn, err := sql.Open("pgx", PostgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	// Postgres handles concurrent writers itself; share one pool
	db := &DB{conn: conn, writeConn: conn, driver: DriverPostgres}

	if err := runMigrations(conn, DriverPostgres, ""); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// Close closes the database connections
func (db *DB) Close() error {
	if db.writeConn != db.conn {
		db.writeConn.Close()
	}
	return db.conn.Close()
}

// Driver returns the driver the DB was opened with
func (db *DB) Driver() string {
	return db.driver
}

// rebind rewrites '?' placeholders to the driver's bind syntax
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// nowMillis returns current time as Unix timestamp in milliseconds
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
