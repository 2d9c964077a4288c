package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

//go:embed schema.sql
var schema string

type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
}

func NewPostgresDB(cfg Config) (*sql.DB, error) {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 10
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}

	var db *sql.DB
	var err error

	for i := 1; i <= maxRetries; i++ {
		log.Info().Int("attempt", i).Int("max", maxRetries).Msg("connecting to database")
		db, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			err = db.Ping()
		}

		if err == nil {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
			db.SetMaxIdleConns(cfg.MaxIdleConns)
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
			log.Info().Msg("database connected")
			return db, nil
		}

		if db != nil {
			db.Close()
		}
		log.Warn().Err(err).Dur("retry_in", retryDelay).Msg("database not ready yet")
		time.Sleep(retryDelay)
	}

	return nil, fmt.Errorf("connect to database: %w", err)
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
