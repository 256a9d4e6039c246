package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/warriorguo/dagflow/store"
	"github.com/warriorguo/dagflow/types"
)

var (
	_ store.Store = &pgStore{}
)

const tableName = "dagflow_store"

// Config holds PostgreSQL connection configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // disable, require, verify-ca, verify-full
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "dagflow",
		SSLMode:  "disable",
	}
}

// FromOptions converts the executor-level postgres options.
func FromOptions(opts *types.PostgresConfig) *Config {
	if opts == nil {
		return DefaultConfig()
	}
	return &Config{
		Host:     opts.Host,
		Port:     opts.Port,
		User:     opts.User,
		Password: opts.Password,
		Database: opts.Database,
		SSLMode:  opts.SSLMode,
	}
}

// pgStore keeps every prefix/key pair as one row of dagflow_store.
type pgStore struct {
	db *sql.DB
}

// NewPostgresStore opens, pings and migrates
func NewPostgresStore(ctx context.Context, config *Config) (store.Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open postgres connection")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Annotatef(err, "failed to ping postgres")
	}

	s := &pgStore{db: db}
	if err := s.initTable(ctx); err != nil {
		db.Close()
		return nil, errors.Annotatef(err, "failed to initialize table")
	}
	return s, nil
}

// NewPostgresStoreWithDB creates a new PostgreSQL store with an existing database connection
func NewPostgresStoreWithDB(ctx context.Context, db *sql.DB) (store.Store, error) {
	if db == nil {
		return nil, errors.NotValidf("nil db")
	}

	s := &pgStore{db: db}
	if err := s.initTable(ctx); err != nil {
		return nil, errors.Annotatef(err, "failed to initialize table")
	}
	return s, nil
}

func (p *pgStore) initTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ` + tableName + ` (
			prefix TEXT NOT NULL,
			key TEXT NOT NULL,
			value BYTEA,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (prefix, key)
		);

		CREATE INDEX IF NOT EXISTS idx_` + tableName + `_prefix ON ` + tableName + `(prefix);
	`

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return errors.Annotatef(err, "failed to create table")
	}
	return nil
}

func (p *pgStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	query := `SELECT value FROM ` + tableName + ` WHERE prefix = $1 AND key = $2`

	var value []byte
	err := p.db.QueryRowContext(ctx, query, prefix, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "failed to get value for prefix=%s, key=%s", prefix, key)
	}
	return value, nil
}

func (p *pgStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	query := `
		INSERT INTO ` + tableName + ` (prefix, key, value, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (prefix, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = CURRENT_TIMESTAMP
	`

	if _, err := p.db.ExecContext(ctx, query, prefix, key, value); err != nil {
		return errors.Annotatef(err, "failed to set value for prefix=%s, key=%s", prefix, key)
	}
	return nil
}

func (p *pgStore) Remove(ctx context.Context, prefix, key string) error {
	query := `DELETE FROM ` + tableName + ` WHERE prefix = $1 AND key = $2`

	if _, err := p.db.ExecContext(ctx, query, prefix, key); err != nil {
		return errors.Annotatef(err, "failed to remove value for prefix=%s, key=%s", prefix, key)
	}
	return nil
}

func (p *pgStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	query := `SELECT key FROM ` + tableName + ` WHERE prefix = $1 ORDER BY key`

	rows, err := p.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return errors.Annotatef(err, "failed to list keys for prefix=%s", prefix)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return errors.Annotatef(err, "failed to scan key")
		}
		if !iterator(key) {
			break
		}
	}

	if err := rows.Err(); err != nil {
		return errors.Annotatef(err, "error iterating rows")
	}
	return nil
}

func (p *pgStore) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// DSN builds a PostgreSQL connection string from Config
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Validate fills an empty SSLMode with "disable"
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.NotValidf("empty host")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.NotValidf("port %d", c.Port)
	}
	if c.User == "" {
		return errors.NotValidf("empty user")
	}
	if c.Database == "" {
		return errors.NotValidf("empty database")
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	validSSLModes := map[string]bool{
		"disable":     true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if !validSSLModes[c.SSLMode] {
		return errors.NotValidf("sslmode %s", c.SSLMode)
	}
	return nil
}

// ParseDSN parses a PostgreSQL connection string into a Config
// Format: "host=localhost port=5432 user=postgres password=secret dbname=dagflow sslmode=disable"
func ParseDSN(dsn string) (*Config, error) {
	config := DefaultConfig()

	for _, part := range strings.Fields(dsn) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}

		key, value := kv[0], kv[1]
		switch key {
		case "host":
			config.Host = value
		case "port":
			var port int
			if _, err := fmt.Sscanf(value, "%d", &port); err == nil {
				config.Port = port
			}
		case "user":
			config.User = value
		case "password":
			config.Password = value
		case "dbname":
			config.Database = value
		case "sslmode":
			config.SSLMode = value
		}
	}

	return config, config.Validate()
}
