package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"

	"github.com/ploutoslabs/airdrop/retry"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// PgConfig holds the PostgreSQL connection configuration.
type PgConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

func (c *PgConfig) Validate() error {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == "" {
		c.Port = "5432"
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Username == "" {
		return fmt.Errorf("database username is required")
	}
	return nil
}

func (c *PgConfig) connString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Connect creates the PostgreSQL connection pool, retrying transient
// failures so the service survives a database that is still starting up.
func Connect(ctx context.Context, cfg PgConfig) (*pgxpool.Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	var pool *pgxpool.Pool
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		p, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
		if err != nil {
			return fmt.Errorf("failed to create postgres pool: %w", err)
		}
		if err := p.Ping(connectCtx); err != nil {
			p.Close()
			return fmt.Errorf("failed to ping postgres: %w", err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return pool, nil
}

// Migrate runs database migrations using goose.
func Migrate(cfg PgConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	goose.SetBaseFS(embedMigrations)

	db, err := sql.Open("pgx", cfg.connString())
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
